// Package wakeword talks to an external wake-word engine over its TCP
// command channel. Each command is a 4-byte big-endian integer in either
// direction.
package wakeword

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// DefaultPort is where the wake-word agent listens.
const DefaultPort = 5123

// Option configures the Client.
type Option func(*Client)

// WithWriteTimeout bounds each SendCommand when ctx has no deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// Client is the command channel to the wake-word engine.
type Client struct {
	addr         string
	log          *logger.Logger
	writeTimeout time.Duration

	mu       sync.Mutex
	conn     net.Conn
	detected domain.WakeWordDetectedHandler
}

var _ domain.WakeWordIPC = (*Client)(nil)

// NewClient creates a client for the engine at addr ("host:port").
func NewClient(addr string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		addr:         addr,
		log:          log,
		writeTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDetectedHandler installs the receiver of DETECTED commands.
func (c *Client) SetDetectedHandler(h domain.WakeWordDetectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detected = h
}

// Connect dials the engine.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to wake word engine at %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("connected to wake word engine at %s", c.addr)
	return nil
}

// Run reads commands from the engine until ctx is cancelled or the engine
// disconnects. Blocking.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var buf [4]byte
	for {
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.log.Info("wake word engine connection closed")
				return nil
			}
			return fmt.Errorf("reading wake word command: %w", err)
		}

		cmd := domain.WakeWordCommand(binary.BigEndian.Uint32(buf[:]))
		c.log.Debug("wake word engine sent %s", cmd)

		switch cmd {
		case domain.WakeWordDetected:
			c.mu.Lock()
			h := c.detected
			c.mu.Unlock()
			if h != nil {
				h.OnWakeWordDetected()
			}
		case domain.WakeWordConfirm:
			// handshake ack, nothing to do
		case domain.WakeWordDisconnect:
			c.log.Info("wake word engine disconnected")
			c.Close()
			return nil
		default:
			c.log.Warn("unknown wake word command %d", int(cmd))
		}
	}
}

// SendCommand writes cmd to the engine.
func (c *Client) SendCommand(ctx context.Context, cmd domain.WakeWordCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(cmd))
	if _, err := c.conn.Write(buf[:]); err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	c.log.Debug("sent %s to wake word engine", cmd)
	return nil
}

// Close drops the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
