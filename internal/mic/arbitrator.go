// Package mic arbitrates the microphone between the wake-word engine and
// foreground recording.
package mic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
	"github.com/hammamikhairi/avsclient/internal/retry"
)

// Defaults for handing the microphone over from the wake-word engine.
const (
	DefaultReleaseTries = 5
	DefaultReleaseDelay = 1000 * time.Millisecond
)

// Option configures the Arbitrator.
type Option func(*Arbitrator)

// WithWakeWordEngine enables the PAUSE/RESUME handshake with a running
// wake-word engine.
func WithWakeWordEngine(ipc domain.WakeWordIPC) Option {
	return func(a *Arbitrator) {
		a.ipc = ipc
	}
}

// WithReleasePolicy overrides how long to wait for the engine to let go
// of the device.
func WithReleasePolicy(tries int, delay time.Duration) Option {
	return func(a *Arbitrator) {
		a.policy.Attempts = tries
		a.policy.Delay = delay
	}
}

// Arbitrator owns the microphone handoff. Safe for concurrent use.
type Arbitrator struct {
	mic    domain.Microphone
	ipc    domain.WakeWordIPC
	policy retry.Linear
	log    *logger.Logger

	mu       sync.Mutex
	accept   bool
	detected domain.WakeWordDetectedHandler
}

var _ domain.WakeWordDetectedHandler = (*Arbitrator)(nil)

// New creates an arbitrator. Without WithWakeWordEngine the microphone is
// opened directly with a single attempt.
func New(mic domain.Microphone, log *logger.Logger, opts ...Option) *Arbitrator {
	a := &Arbitrator{
		mic:    mic,
		log:    log,
		accept: true,
		policy: retry.Linear{
			Attempts: DefaultReleaseTries,
			Delay:    DefaultReleaseDelay,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.policy.OnRetry = func(attempt int, err error) {
		a.log.Warn("could not open the microphone line (attempt %d/%d): %v", attempt, a.policy.Attempts, err)
	}
	return a
}

// SetDetectedHandler installs the receiver of accepted wake-word events.
func (a *Arbitrator) SetDetectedHandler(h domain.WakeWordDetectedHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detected = h
}

// WakeWordEnabled reports whether a wake-word engine is attached.
func (a *Arbitrator) WakeWordEnabled() bool { return a.ipc != nil }

// AcceptingWakeWord reports the state of the wake-word gate.
func (a *Arbitrator) AcceptingWakeWord() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accept
}

// Init probes the microphone at startup. With a wake-word engine the
// engine is paused around the probe under the release policy; if that
// fails, or there is no engine, the device is probed directly.
func (a *Arbitrator) Init(ctx context.Context) error {
	if a.ipc != nil {
		err := retry.Do(ctx, a.policy, nil, func(ctx context.Context) error {
			if err := a.ipc.SendCommand(ctx, domain.WakeWordPause); err != nil {
				return fmt.Errorf("pausing wake word engine: %w", err)
			}
			if err := a.probe(ctx); err != nil {
				a.log.Warn("could not open microphone line: %v", err)
			}
			return a.ipc.SendCommand(ctx, domain.WakeWordResume)
		})
		if err == nil {
			return nil
		}
		a.log.Error("there was a problem connecting to the wake word engine: %v", err)
	}

	if err := a.probe(ctx); err != nil {
		return fmt.Errorf("probing microphone: %w", err)
	}
	return nil
}

func (a *Arbitrator) probe(ctx context.Context) error {
	stream, err := a.mic.Open(ctx, nil)
	if err != nil {
		return err
	}
	a.mic.StopCapture()
	return stream.Close()
}

// Acquire takes the microphone for foreground recording. With a wake-word
// engine attached, the gate is closed, the engine paused and the device
// opened under the release policy. On failure the engine is resumed, the
// gate reopened and the error returned.
func (a *Arbitrator) Acquire(ctx context.Context, rms domain.RMSFunc) (io.ReadCloser, error) {
	if a.ipc == nil {
		stream, err := a.mic.Open(ctx, rms)
		if err != nil {
			return nil, fmt.Errorf("opening microphone: %w", err)
		}
		return stream, nil
	}

	a.setAccept(false)
	a.send(ctx, domain.WakeWordPause)

	stream, err := retry.DoValue(ctx, a.policy, isLineUnavailable, func(ctx context.Context) (io.ReadCloser, error) {
		return a.mic.Open(ctx, rms)
	})
	if err != nil {
		a.send(ctx, domain.WakeWordResume)
		a.setAccept(true)
		return nil, fmt.Errorf("opening microphone: %w", err)
	}
	return stream, nil
}

// Release stops capture and hands the device back to the wake-word
// engine. Wake-word events are accepted again only after RESUME was sent.
func (a *Arbitrator) Release(ctx context.Context) {
	a.mic.StopCapture()
	if a.ipc == nil {
		return
	}
	a.send(ctx, domain.WakeWordResume)
	a.setAccept(true)
}

// OnWakeWordDetected forwards the event unless the gate is closed.
func (a *Arbitrator) OnWakeWordDetected() {
	a.mu.Lock()
	accept, h := a.accept, a.detected
	a.mu.Unlock()

	if !accept || h == nil {
		a.log.Debug("wake word ignored (accepting=%v)", accept)
		return
	}
	h.OnWakeWordDetected()
}

func (a *Arbitrator) setAccept(v bool) {
	a.mu.Lock()
	a.accept = v
	a.mu.Unlock()
}

func (a *Arbitrator) send(ctx context.Context, cmd domain.WakeWordCommand) {
	if err := a.ipc.SendCommand(ctx, cmd); err != nil {
		a.log.Warn("could not send the %s command: %v", cmd, err)
	}
}

func isLineUnavailable(err error) bool {
	return errors.Is(err, domain.ErrLineUnavailable)
}
