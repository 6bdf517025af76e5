package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
	"github.com/hammamikhairi/avsclient/internal/retry"
)

type sinkRecorder struct {
	mu         sync.Mutex
	directives []*domain.Directive
	failures   []string
}

func (s *sinkRecorder) Enqueue(d *domain.Directive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directives = append(s.directives, d)
}

func (s *sinkRecorder) OnParsingFailed(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, raw)
}

func (s *sinkRecorder) snapshot() ([]*domain.Directive, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Directive(nil), s.directives...), append([]string(nil), s.failures...)
}

type requestOutcome struct {
	done chan error
}

func (r *requestOutcome) OnRequestSuccess() { r.done <- nil }
func (r *requestOutcome) OnRequestError(err error) { r.done <- err }

func newTestServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestDirectivesWithAttachments(t *testing.T) {
	auth := make(chan string, 1)
	url := newTestServer(t, func(r *http.Request, conn *websocket.Conn) {
		auth <- r.Header.Get("Authorization")

		_ = conn.WriteMessage(websocket.BinaryMessage, EncodeAttachment("speech-1", []byte("RIFFdata")))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"directive":{"header":{"namespace":"SpeechSynthesizer","name":"Speak","messageId":"m1","dialogRequestId":"d1"},"payload":{"url":"cid:speech-1","format":"AUDIO_MPEG","token":"t1"}}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"directive":{"header":{"namespace":"Alerts","name":"SetAlert"},"payload":{"token":"a"}}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"directive":{"header":{"namespace":"Speaker","name":"SetMute"},"payload":{"mute":true}}}`))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	rec := &sinkRecorder{}
	c := NewClient(url, rec, logger.New(logger.LevelOff, nil), WithParseFailureHandler(rec))
	c.SetAccessToken("secret")

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, "Bearer secret", <-auth)

	directives, failures := rec.snapshot()
	require.Len(t, directives, 2)

	speak := directives[0]
	assert.Equal(t, "SpeechSynthesizer.Speak", speak.Key())
	assert.Equal(t, "d1", speak.DialogRequestID)
	data, ok := speak.Attachment("cid:speech-1")
	require.True(t, ok)
	assert.Equal(t, []byte("RIFFdata"), data)

	mute := directives[1]
	assert.Equal(t, &domain.SetMutePayload{Mute: true}, mute.Payload)
	assert.Empty(t, mute.Attachments, "attachments belong to a single directive")

	require.Len(t, failures, 2)
	assert.Equal(t, "not json", failures[0])
	assert.Contains(t, failures[1], "SetAlert")
}

func TestSendAudioEvent(t *testing.T) {
	type received struct {
		event json.RawMessage
		audio []byte
		end   string
	}
	got := make(chan received, 1)

	url := newTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		var r received
		_, r.event, _ = conn.ReadMessage()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				r.audio = append(r.audio, data...)
				continue
			}
			r.end = string(data)
			break
		}
		got <- r
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"requestComplete":{"messageId":"msg-1"}}`))
		// Hold the connection until the client hangs up.
		_, _, _ = conn.ReadMessage()
	})

	c := NewClient(url, &sinkRecorder{}, logger.New(logger.LevelOff, nil), WithChunkSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	go c.Run(ctx)

	outcome := &requestOutcome{done: make(chan error, 1)}
	event := &domain.Event{Namespace: "SpeechRecognizer", Name: "Recognize", MessageID: "msg-1", DialogRequestID: "d-1"}
	audio := bytes.NewReader([]byte("0123456789"))
	require.NoError(t, c.SendAudioEvent(ctx, event, audio, outcome))

	select {
	case r := <-got:
		assert.Contains(t, string(r.event), `"name":"Recognize"`)
		assert.Equal(t, []byte("0123456789"), r.audio)
		assert.JSONEq(t, `{"audioEnd":{"messageId":"msg-1"}}`, r.end)
	case <-time.After(2 * time.Second):
		t.Fatal("service never received the audio request")
	}

	select {
	case err := <-outcome.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request outcome never delivered")
	}
}

func TestPendingRequestsFailWhenConnectionDrops(t *testing.T) {
	url := newTestServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		// Drop without a status frame.
	})

	c := NewClient(url, &sinkRecorder{}, logger.New(logger.LevelOff, nil))
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	outcome := &requestOutcome{done: make(chan error, 2)}
	event := &domain.Event{Namespace: "SpeechRecognizer", Name: "Recognize", MessageID: "msg-2"}
	require.NoError(t, c.SendAudioEvent(ctx, event, strings.NewReader(""), outcome))

	select {
	case err := <-outcome.done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was never failed")
	}
	<-runErr

	assert.ErrorIs(t, c.SendEvent(ctx, event), domain.ErrNotConnected)
}

func TestConnectRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c := NewClient(url, &sinkRecorder{}, logger.New(logger.LevelOff, nil),
		WithConnectPolicy(retry.Linear{Attempts: 3, Delay: time.Millisecond}))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestSplitAttachment(t *testing.T) {
	id, data, err := splitAttachment(EncodeAttachment("abc", []byte{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, []byte{1, 2}, data)

	_, _, err = splitAttachment([]byte{0, 9, 'x'})
	assert.Error(t, err)

	_, _, err = splitAttachment(nil)
	assert.True(t, err != nil && !errors.Is(err, domain.ErrNotConnected))
}
