// Package protocol converts between the JSON wire envelopes and the
// domain Directive and Event types.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// Header identifies a directive or event.
type Header struct {
	Namespace       string `json:"namespace"`
	Name            string `json:"name"`
	MessageID       string `json:"messageId,omitempty"`
	DialogRequestID string `json:"dialogRequestId,omitempty"`
}

type rawMessage struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

type directiveEnvelope struct {
	Directive *rawMessage `json:"directive"`
}

type outMessage struct {
	Header  Header `json:"header"`
	Payload any    `json:"payload"`
}

type eventEnvelope struct {
	Context []outMessage `json:"context,omitempty"`
	Event   outMessage   `json:"event"`
}

// EncodeEvent renders e as a wire envelope.
func EncodeEvent(e *domain.Event) ([]byte, error) {
	env := eventEnvelope{
		Event: outMessage{
			Header: Header{
				Namespace:       e.Namespace,
				Name:            e.Name,
				MessageID:       e.MessageID,
				DialogRequestID: e.DialogRequestID,
			},
			Payload: payloadOrEmpty(e.Payload),
		},
	}
	for _, item := range e.Context {
		env.Context = append(env.Context, outMessage{
			Header:  Header{Namespace: item.Namespace, Name: item.Name},
			Payload: payloadOrEmpty(item.Payload),
		})
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", e.Key(), err)
	}
	return data, nil
}

func payloadOrEmpty(p any) any {
	if p == nil {
		return struct{}{}
	}
	return p
}
