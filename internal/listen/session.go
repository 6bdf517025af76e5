// Package listen tracks the user's side of a conversation turn: whether the
// client is idle, recording, or waiting for the service to finish.
package listen

import (
	"sync"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// State is the session state.
type State int

const (
	Idle State = iota
	Recording
	Processing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Recording:
		return "RECORDING"
	case Processing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// Recorder starts and stops a speech request.
type Recorder interface {
	StartRecording(rms domain.RMSFunc, listener domain.RequestListener) error
	StopRecording()
}

// SpeechWatcher reports whether synthesized speech is playing.
type SpeechWatcher interface {
	IsSpeaking() bool
}

// Option configures the Session.
type Option func(*Session)

// WithRMS receives the input level while recording.
func WithRMS(fn domain.RMSFunc) Option {
	return func(s *Session) {
		s.rms = fn
	}
}

// WithStateHook is called after every state change.
func WithStateHook(fn func(State)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// Session drives recording from user input, the wake word and service
// directives. It is a domain.RequestListener for the recordings it starts.
type Session struct {
	rec     Recorder
	speech  SpeechWatcher
	log     *logger.Logger
	rms     domain.RMSFunc
	onState func(State)

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	closed bool
}

var (
	_ domain.RequestListener         = (*Session)(nil)
	_ domain.ExpectSpeechListener    = (*Session)(nil)
	_ domain.StopCaptureListener     = (*Session)(nil)
	_ domain.WakeWordDetectedHandler = (*Session)(nil)
	_ domain.SpeechStateListener     = (*Session)(nil)
)

// New creates an idle session.
func New(rec Recorder, speech SpeechWatcher, log *logger.Logger, opts ...Option) *Session {
	s := &Session{
		rec:    rec,
		speech: speech,
		log:    log,
		rms:    func(int) {},
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Toggle is the push-to-talk action: start when idle, stop when recording.
// It is ignored while the service is still processing.
func (s *Session) Toggle() {
	switch s.State() {
	case Idle:
		s.start()
	case Recording:
		s.stop()
	default:
		s.log.Debug("toggle ignored while %s", Processing)
	}
}

// OnWakeWordDetected starts a recording, but only from idle.
func (s *Session) OnWakeWordDetected() {
	if st := s.State(); st != Idle {
		s.log.Debug("wake word ignored while %s", st)
		return
	}
	s.log.Info("wake word detected")
	s.start()
}

// OnStopCaptureDirective ends the recording once the service has heard
// enough.
func (s *Session) OnStopCaptureDirective() {
	if s.State() == Recording {
		s.stop()
	}
}

// OnExpectSpeechDirective records again once the current request is done
// and speech has finished.
func (s *Session) OnExpectSpeechDirective() {
	go func() {
		s.mu.Lock()
		for !s.closed && (s.state != Idle || s.speech.IsSpeaking()) {
			s.cond.Wait()
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return
		}
		s.log.Debug("service expects speech, recording")
		s.start()
	}()
}

// OnRequestSuccess ends the turn. If the service answered while we were
// still recording, the recording is stopped first.
func (s *Session) OnRequestSuccess() {
	if s.State() == Recording {
		s.rec.StopRecording()
	}
	s.set(Idle)
}

// OnRequestError ends the turn after a failed request.
func (s *Session) OnRequestError(err error) {
	s.log.Error("speech request failed: %v", err)
	if s.State() == Recording {
		s.rec.StopRecording()
	}
	s.set(Idle)
}

// OnSpeechStarted is a no-op; the session only waits for speech to end.
func (s *Session) OnSpeechStarted() {}

// OnSpeechFinished wakes waiters blocked on speech.
func (s *Session) OnSpeechFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cond.Broadcast()
}

// Close releases goroutines waiting to record.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *Session) start() {
	s.mu.Lock()
	if s.state != Idle || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = Recording
	s.mu.Unlock()
	s.notify(Recording)

	if err := s.rec.StartRecording(s.rms, s); err != nil {
		s.log.Error("could not start recording: %v", err)
		s.set(Idle)
	}
}

func (s *Session) stop() {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	s.state = Processing
	s.mu.Unlock()
	s.notify(Processing)

	s.rec.StopRecording()
}

func (s *Session) set(st State) {
	s.mu.Lock()
	s.state = st
	s.cond.Broadcast()
	s.mu.Unlock()
	s.notify(st)
}

func (s *Session) notify(st State) {
	s.log.Debug("session %s", st)
	if s.onState != nil {
		s.onState(st)
	}
}
