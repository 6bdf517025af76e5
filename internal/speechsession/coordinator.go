// Package speechsession pauses the dependent directive pipeline while the
// device is speaking and tracks when a speech turn has fully finished.
package speechsession

import (
	"sync"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// State is the speech output state.
type State int

const (
	Idle State = iota
	Speaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Speaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Blocker is the dependent processor.
type Blocker interface {
	Block()
	Unblock()
}

// OutputController pauses and resumes media around a speech turn.
type OutputController interface {
	InterruptAllOutput()
	ResumeAllOutput()
}

// ActiveAlertSource lists the tokens of alerts currently sounding.
type ActiveAlertSource interface {
	ActiveAlerts() []string
}

// AlertFocusListener is told when active alerts lose or regain the
// foreground because speech started or finished.
type AlertFocusListener interface {
	OnAlertEnteredBackground(token string)
	OnAlertEnteredForeground(token string)
}

// TurnListener is told when a speech turn starts and when it is done
// (recording sent, directives dispatched, speech over).
type TurnListener interface {
	OnTurnStarted()
	OnTurnFinished()
}

// Coordinator is the speech-session pause coordinator. Safe for
// concurrent use.
type Coordinator struct {
	processor Blocker
	output    OutputController
	alerts    ActiveAlertSource
	focus     AlertFocusListener
	log       *logger.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	state        State
	generation   uint64
	outstanding  int
	inFlight     int
	listening    bool
	expectSpeech bool
	listeners    []TurnListener
}

var (
	_ domain.SpeechStateListener  = (*Coordinator)(nil)
	_ domain.ExpectSpeechListener = (*Coordinator)(nil)
)

// New creates a coordinator in the IDLE state.
func New(processor Blocker, output OutputController, alerts ActiveAlertSource, focus AlertFocusListener, log *logger.Logger) *Coordinator {
	c := &Coordinator{
		processor: processor,
		output:    output,
		alerts:    alerts,
		focus:     focus,
		log:       log,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AddTurnListener registers l for turn start/finish notifications.
func (c *Coordinator) AddTurnListener(l TurnListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State returns the current speech state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnSpeechStarted moves to SPEAKING and blocks the dependent processor.
func (c *Coordinator) OnSpeechStarted() {
	c.mu.Lock()
	c.state = Speaking
	c.mu.Unlock()

	c.processor.Block()
	c.log.Debug("speech started, dependent pipeline blocked")

	for _, token := range c.alerts.ActiveAlerts() {
		c.focus.OnAlertEnteredBackground(token)
	}
}

// OnSpeechFinished moves to IDLE and unblocks the dependent processor.
func (c *Coordinator) OnSpeechFinished() {
	c.mu.Lock()
	c.state = Idle
	c.cond.Broadcast()
	c.mu.Unlock()

	c.processor.Unblock()
	c.log.Debug("speech finished, dependent pipeline unblocked")

	for _, token := range c.alerts.ActiveAlerts() {
		c.focus.OnAlertEnteredForeground(token)
	}
}

// StartSpeechRequest begins a new turn. Media output is interrupted and
// any turn still waiting to finish is superseded.
func (c *Coordinator) StartSpeechRequest() {
	c.mu.Lock()
	c.generation++
	c.outstanding = 0
	c.listening = true
	c.expectSpeech = false
	listeners := append([]TurnListener(nil), c.listeners...)
	c.cond.Broadcast()
	c.mu.Unlock()

	c.output.InterruptAllOutput()
	c.log.Debug("speech request started")

	for _, l := range listeners {
		l.OnTurnStarted()
	}
}

// DispatchDirective marks a current-dialog directive as dispatched.
func (c *Coordinator) DispatchDirective() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outstanding > 0 {
		c.outstanding--
	}
	c.inFlight++
}

// DispatchComplete marks the directive's handler as returned.
func (c *Coordinator) DispatchComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.cond.Broadcast()
}

// FinishedListening records that the recording for this turn stopped.
func (c *Coordinator) FinishedListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
}

// Listening reports whether the current turn is still recording.
func (c *Coordinator) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// OnExpectSpeechDirective records that the turn continues into another
// recording, so media stays interrupted when this turn finishes.
func (c *Coordinator) OnExpectSpeechDirective() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectSpeech = true
}

// SpeechRequestProcessingFinished is called once the turn's event has
// completed with pending dependent directives still queued. It returns
// immediately; a background goroutine waits until those directives have
// been dispatched and speech is idle, then resumes media (unless the
// service asked for more speech) and notifies turn listeners.
func (c *Coordinator) SpeechRequestProcessingFinished(pending int) {
	c.mu.Lock()
	gen := c.generation
	c.outstanding = pending
	c.mu.Unlock()

	c.log.Debug("speech request processing finished (pending=%d)", pending)
	go c.awaitTurnEnd(gen)
}

func (c *Coordinator) awaitTurnEnd(gen uint64) {
	c.mu.Lock()
	for gen == c.generation && (c.outstanding > 0 || c.inFlight > 0 || c.state == Speaking) {
		c.cond.Wait()
	}
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debug("turn wait superseded by a newer speech request")
		return
	}
	expect := c.expectSpeech
	listeners := append([]TurnListener(nil), c.listeners...)
	c.mu.Unlock()

	if !expect {
		c.output.ResumeAllOutput()
	}
	c.log.Debug("speech turn finished (expectSpeech=%v)", expect)

	for _, l := range listeners {
		l.OnTurnFinished()
	}
}
