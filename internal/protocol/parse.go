package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// payloadTypes maps known directives to their payload constructors.
var payloadTypes = map[string]func() any{
	domain.NamespaceSpeechSynthesizer + "." + domain.DirectiveSpeak:       func() any { return &domain.SpeakPayload{} },
	domain.NamespaceAudioPlayer + "." + domain.DirectivePlay:              func() any { return &domain.PlayPayload{} },
	domain.NamespaceAudioPlayer + "." + domain.DirectiveClearQueue:        func() any { return &domain.ClearQueuePayload{} },
	domain.NamespaceAlerts + "." + domain.DirectiveSetAlert:               func() any { return &domain.SetAlertPayload{} },
	domain.NamespaceAlerts + "." + domain.DirectiveDeleteAlert:            func() any { return &domain.DeleteAlertPayload{} },
	domain.NamespaceSpeaker + "." + domain.DirectiveSetVolume:             func() any { return &domain.VolumePayload{} },
	domain.NamespaceSpeaker + "." + domain.DirectiveAdjustVolume:          func() any { return &domain.VolumePayload{} },
	domain.NamespaceSpeaker + "." + domain.DirectiveSetMute:               func() any { return &domain.SetMutePayload{} },
	domain.NamespaceSpeechRecognizer + "." + domain.DirectiveExpectSpeech: func() any { return &domain.ExpectSpeechPayload{} },
	domain.NamespaceSystem + "." + domain.DirectiveResetUserInactivity:    func() any { return &domain.ResetUserInactivityPayload{} },
}

// ParseDirective decodes a directive envelope. Payloads of known
// directives are decoded into their domain types; anything else keeps the
// raw JSON payload. attachments holds binary parts keyed by content id.
//
// Malformed input yields a *domain.DirectiveError of type
// UNEXPECTED_INFORMATION_RECEIVED.
func ParseDirective(raw []byte, attachments map[string][]byte) (*domain.Directive, error) {
	var env directiveEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(err, "invalid directive JSON")
	}
	if env.Directive == nil {
		return nil, malformed(nil, "missing directive object")
	}

	h := env.Directive.Header
	if h.Namespace == "" || h.Name == "" {
		return nil, malformed(nil, "directive header needs namespace and name")
	}

	d := &domain.Directive{
		Namespace:       h.Namespace,
		Name:            h.Name,
		MessageID:       h.MessageID,
		DialogRequestID: h.DialogRequestID,
		RawMessage:      string(raw),
		Attachments:     attachments,
	}

	newPayload, known := payloadTypes[d.Key()]
	if !known {
		d.Payload = env.Directive.Payload
		return d, nil
	}

	p := newPayload()
	if len(env.Directive.Payload) > 0 && !bytes.Equal(env.Directive.Payload, []byte("null")) {
		if err := json.Unmarshal(env.Directive.Payload, p); err != nil {
			return nil, malformed(err, "invalid %s payload", d.Key())
		}
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	d.Payload = p
	return d, nil
}

func validate(p any) error {
	switch v := p.(type) {
	case *domain.SpeakPayload:
		if v.URL == "" {
			return malformed(nil, "Speak payload without url")
		}
	case *domain.PlayPayload:
		if v.AudioItem.Stream.URL == "" {
			return malformed(nil, "Play payload without stream url")
		}
	case *domain.SetAlertPayload:
		if v.Token == "" || v.ScheduledTime == "" {
			return malformed(nil, "SetAlert payload needs token and scheduledTime")
		}
		if v.Type != domain.AlertTimer && v.Type != domain.AlertAlarm {
			return malformed(nil, "unknown alert type %q", v.Type)
		}
	case *domain.DeleteAlertPayload:
		if v.Token == "" {
			return malformed(nil, "DeleteAlert payload without token")
		}
	}
	return nil
}

func malformed(err error, format string, args ...any) *domain.DirectiveError {
	de := domain.NewDirectiveError(domain.ExceptionUnexpectedInformation, format, args...)
	de.Err = err
	return de
}
