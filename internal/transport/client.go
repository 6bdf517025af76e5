// Package transport carries events to the voice service and directives back
// over a single websocket.
//
// Wire format:
//   - text frames from the client are event envelopes; an audio event is
//     followed by binary audio frames and an {"audioEnd":{...}} text frame.
//   - text frames from the service are directive envelopes or request
//     status frames ({"requestComplete":{...}}, {"requestError":{...}}).
//   - binary frames from the service are attachments: a 2-byte big-endian
//     content id length, the content id, then the data. Attachments are
//     handed to the next directive.
package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
	"github.com/hammamikhairi/avsclient/internal/protocol"
	"github.com/hammamikhairi/avsclient/internal/retry"
)

const (
	defaultChunkSize    = 3200 // 100 ms of 16 kHz 16-bit mono
	defaultWriteTimeout = 10 * time.Second
)

// DirectiveSink receives parsed directives.
type DirectiveSink interface {
	Enqueue(d *domain.Directive)
}

// DirectiveSinkFunc adapts a function to DirectiveSink.
type DirectiveSinkFunc func(d *domain.Directive)

// Enqueue calls f.
func (f DirectiveSinkFunc) Enqueue(d *domain.Directive) { f(d) }

// ParseFailureHandler is told about service messages that could not be
// parsed.
type ParseFailureHandler interface {
	OnParsingFailed(raw string)
}

// ParseFailureFunc adapts a function to ParseFailureHandler.
type ParseFailureFunc func(raw string)

// OnParsingFailed calls f.
func (f ParseFailureFunc) OnParsingFailed(raw string) { f(raw) }

// Option configures the Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithChunkSize sets the audio frame size in bytes.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// WithConnectPolicy retries Connect.
func WithConnectPolicy(p retry.Linear) Option {
	return func(c *Client) {
		c.connectPolicy = p
	}
}

// WithParseFailureHandler installs the receiver of unparseable messages.
func WithParseFailureHandler(h ParseFailureHandler) Option {
	return func(c *Client) {
		c.failures = h
	}
}

type inbound struct {
	Directive       json.RawMessage `json:"directive"`
	RequestComplete *requestStatus  `json:"requestComplete"`
	RequestError    *requestStatus  `json:"requestError"`
}

type requestStatus struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message,omitempty"`
}

type audioEnd struct {
	AudioEnd requestStatus `json:"audioEnd"`
}

// Client is the websocket connection to the service.
type Client struct {
	url           string
	sink          DirectiveSink
	failures      ParseFailureHandler
	log           *logger.Logger
	dialer        *websocket.Dialer
	chunkSize     int
	connectPolicy retry.Linear

	mu      sync.Mutex
	token   string
	conn    *websocket.Conn
	pending map[string]domain.RequestListener

	writeMu sync.Mutex
}

var _ domain.EventSender = (*Client)(nil)

// NewClient creates a client for the service at url (ws:// or wss://).
func NewClient(url string, sink DirectiveSink, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		url:           url,
		sink:          sink,
		log:           log,
		dialer:        websocket.DefaultDialer,
		chunkSize:     defaultChunkSize,
		connectPolicy: retry.Linear{Attempts: 1},
		pending:       make(map[string]domain.RequestListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAccessToken stores the bearer token used for the next connection.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Connect dials the service, retrying under the connect policy.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := retry.DoValue(ctx, c.connectPolicy, nil, func(ctx context.Context) (*websocket.Conn, error) {
		return c.dial(ctx)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("connected to %s", c.url)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", c.url, err)
	}
	return conn, nil
}

// Run reads service frames until ctx is cancelled or the connection
// drops. Pending audio requests fail when it returns.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.failPending(domain.ErrNotConnected)

	attachments := make(map[string][]byte)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection closed")
				return nil
			}
			return fmt.Errorf("reading from service: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			id, part, err := splitAttachment(data)
			if err != nil {
				c.log.Warn("dropping attachment: %v", err)
				continue
			}
			attachments[id] = part
		case websocket.TextMessage:
			if c.handleText(data, attachments) {
				attachments = make(map[string][]byte)
			}
		}
	}
}

// handleText processes one text frame and reports whether the pending
// attachments were consumed.
func (c *Client) handleText(data []byte, attachments map[string][]byte) bool {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.parsingFailed(data, err)
		return false
	}

	switch {
	case msg.RequestComplete != nil:
		if l := c.takePending(msg.RequestComplete.MessageID); l != nil {
			l.OnRequestSuccess()
		}
		return false
	case msg.RequestError != nil:
		if l := c.takePending(msg.RequestError.MessageID); l != nil {
			l.OnRequestError(fmt.Errorf("service rejected request: %s", msg.RequestError.Message))
		}
		return false
	}

	d, err := protocol.ParseDirective(data, attachments)
	if err != nil {
		c.parsingFailed(data, err)
		return true
	}
	c.log.Debug("received %s (dialog=%s)", d.Key(), d.DialogRequestID)
	c.sink.Enqueue(d)
	return true
}

func (c *Client) parsingFailed(data []byte, err error) {
	c.log.Warn("unparseable message from service: %v", err)
	if c.failures != nil {
		c.failures.OnParsingFailed(string(data))
	}
}

// SendEvent writes one event.
func (c *Client) SendEvent(ctx context.Context, e *domain.Event) error {
	data, err := protocol.EncodeEvent(e)
	if err != nil {
		return err
	}
	if err := c.write(ctx, websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending %s: %w", e.Key(), err)
	}
	c.log.Debug("sent %s", e.Key())
	return nil
}

// SendAudioEvent writes the event and streams audio behind it in the
// background. The outcome arrives on listener: a write failure or the
// service's request status, whichever comes first.
func (c *Client) SendAudioEvent(ctx context.Context, e *domain.Event, audio io.Reader, listener domain.RequestListener) error {
	if e.MessageID == "" {
		return errors.New("audio event needs a message id")
	}

	c.mu.Lock()
	c.pending[e.MessageID] = listener
	c.mu.Unlock()

	if err := c.SendEvent(ctx, e); err != nil {
		c.takePending(e.MessageID)
		return err
	}

	go c.stream(ctx, e.MessageID, audio)
	return nil
}

func (c *Client) stream(ctx context.Context, messageID string, audio io.Reader) {
	buf := make([]byte, c.chunkSize)
	var sent int
	for {
		n, err := io.ReadFull(audio, buf)
		if n > 0 {
			if werr := c.write(ctx, websocket.BinaryMessage, buf[:n]); werr != nil {
				c.streamFailed(messageID, fmt.Errorf("streaming audio: %w", werr))
				return
			}
			sent += n
		}
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			c.streamFailed(messageID, fmt.Errorf("reading audio: %w", err))
			return
		}
	}

	end, err := json.Marshal(audioEnd{AudioEnd: requestStatus{MessageID: messageID}})
	if err != nil {
		c.streamFailed(messageID, err)
		return
	}
	if err := c.write(ctx, websocket.TextMessage, end); err != nil {
		c.streamFailed(messageID, fmt.Errorf("ending audio: %w", err))
		return
	}
	c.log.Debug("streamed %d bytes of audio for %s", sent, messageID)
}

func (c *Client) streamFailed(messageID string, err error) {
	c.log.Warn("audio request %s failed: %v", messageID, err)
	if l := c.takePending(messageID); l != nil {
		l.OnRequestError(err)
	}
}

func (c *Client) write(ctx context.Context, kind int, data []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, domain.ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) takePending(messageID string) domain.RequestListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.pending[messageID]
	delete(c.pending, messageID)
	return l
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]domain.RequestListener)
	c.mu.Unlock()

	for _, l := range pending {
		l.OnRequestError(err)
	}
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func splitAttachment(frame []byte) (string, []byte, error) {
	if len(frame) < 2 {
		return "", nil, errors.New("attachment frame too short")
	}
	n := int(binary.BigEndian.Uint16(frame[:2]))
	if n == 0 || len(frame) < 2+n {
		return "", nil, fmt.Errorf("attachment content id length %d out of range", n)
	}
	return string(frame[2 : 2+n]), frame[2+n:], nil
}

// EncodeAttachment builds an attachment frame. Used by tests and by
// service stubs.
func EncodeAttachment(contentID string, data []byte) []byte {
	frame := make([]byte, 2+len(contentID)+len(data))
	binary.BigEndian.PutUint16(frame, uint16(len(contentID)))
	copy(frame[2:], contentID)
	copy(frame[2+len(contentID):], data)
	return frame
}
