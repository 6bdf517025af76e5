// Package alert schedules timers and alarms, tracks which ones are
// sounding, and keeps the persisted alert set in sync.
package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// Option configures the coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithExpiry sets how far past due a stored alert may be and still be
// rescheduled on load.
func WithExpiry(d time.Duration) Option {
	return func(c *Coordinator) {
		c.expiry = d
	}
}

// Coordinator owns the alert set. Safe for concurrent use; listener and
// handler callbacks run outside the lock.
type Coordinator struct {
	store   domain.AlertStore
	events  domain.AlertEventListener
	handler domain.AlertHandler
	log     *logger.Logger
	now     func() time.Time
	expiry  time.Duration

	saveMu sync.Mutex

	mu         sync.Mutex
	schedulers map[string]*Scheduler
	active     map[string]time.Time // token -> started at
}

// New creates a coordinator with an empty alert set. Call Load to restore
// persisted alerts.
func New(store domain.AlertStore, events domain.AlertEventListener, handler domain.AlertHandler, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		events:     events,
		handler:    handler,
		log:        log,
		now:        time.Now,
		expiry:     30 * time.Minute,
		schedulers: make(map[string]*Scheduler),
		active:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load restores the persisted alert set. Alerts more than the expiry
// window past due are discarded; the rest are rescheduled, firing at once
// if already due.
func (c *Coordinator) Load(ctx context.Context) error {
	alerts, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}

	now := c.now()
	dropped := 0

	c.mu.Lock()
	for _, a := range alerts {
		if now.Sub(a.ScheduledTime) > c.expiry {
			c.log.Info("alert %s expired at %s, discarding", a.Token, a.ScheduledTime.Format(time.RFC3339))
			dropped++
			continue
		}
		if old, ok := c.schedulers[a.Token]; ok {
			old.Cancel()
		}
		c.schedulers[a.Token] = newScheduler(a, now, c.fire)
	}
	n := len(c.schedulers)
	c.mu.Unlock()

	c.log.Info("loaded %d alerts (%d expired)", n, dropped)

	if dropped > 0 {
		if err := c.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// HasAlert reports whether token is scheduled or sounding.
func (c *Coordinator) HasAlert(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.schedulers[token]
	return ok
}

// SetAlert reconciles a SetAlert directive against the alert set.
// Re-delivery with the same scheduled time changes nothing; a new time
// replaces the old schedule.
func (c *Coordinator) SetAlert(token string, typ domain.AlertType, at time.Time) error {
	c.mu.Lock()
	_, wasActive := c.active[token]
	var previous *domain.Alert
	if s, ok := c.schedulers[token]; ok {
		if s.Alert().ScheduledTime.Equal(at) {
			c.mu.Unlock()
			c.log.Debug("alert %s already scheduled for %s", token, at.Format(time.RFC3339))
			c.events.OnAlertSet(token, true)
			return nil
		}
		s.Cancel()
		delete(c.schedulers, token)
		prev := s.Alert()
		previous = &prev
		c.log.Debug("alert %s rescheduled", token)
	}

	a := domain.Alert{Token: token, Type: typ, ScheduledTime: at}
	c.schedulers[token] = newScheduler(a, c.now(), c.fire)
	c.mu.Unlock()

	if wasActive {
		c.stop(token)
	}

	if err := c.persist(context.Background()); err != nil {
		c.log.Error("alert %s: %v", token, err)
		c.drop(token)
		// The store still holds the previous schedule; keep memory in line
		// with it. A sounding alert was already stopped and is not re-armed.
		if previous != nil && !wasActive {
			c.restore(*previous)
		}
		c.events.OnAlertSet(token, false)
		return nil
	}

	c.log.Info("alert %s (%s) set for %s", token, typ, at.Format(time.RFC3339))
	c.events.OnAlertSet(token, true)
	return nil
}

// DeleteAlert cancels and removes an alert. Deleting an unknown token
// succeeds.
func (c *Coordinator) DeleteAlert(token string) error {
	if !c.HasAlert(token) {
		c.log.Debug("alert %s already deleted", token)
		c.events.OnAlertDelete(token, true)
		return nil
	}

	c.stop(token)
	c.drop(token)

	err := c.persist(context.Background())
	if err != nil {
		c.log.Error("alert %s: %v", token, err)
	}
	c.events.OnAlertDelete(token, err == nil)
	return nil
}

// HasActiveAlerts reports whether any alert is sounding.
func (c *Coordinator) HasActiveAlerts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

// ActiveAlerts returns the tokens of sounding alerts in start order.
func (c *Coordinator) ActiveAlerts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *Coordinator) activeLocked() []string {
	tokens := make([]string, 0, len(c.active))
	for token := range c.active {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		ti, tj := c.active[tokens[i]], c.active[tokens[j]]
		if ti.Equal(tj) {
			return tokens[i] < tokens[j]
		}
		return ti.Before(tj)
	})
	return tokens
}

// StopActiveAlerts stops every sounding alert and removes it from the set.
func (c *Coordinator) StopActiveAlerts() {
	for _, token := range c.ActiveAlerts() {
		c.stop(token)
		c.drop(token)
	}
	if err := c.persist(context.Background()); err != nil {
		c.log.Error("stopping alerts: %v", err)
	}
}

// State returns a snapshot of all and active alerts for event context.
func (c *Coordinator) State() domain.AlertsState {
	c.mu.Lock()
	state := domain.AlertsState{
		AllAlerts:    make([]domain.AlertRef, 0, len(c.schedulers)),
		ActiveAlerts: make([]domain.AlertRef, 0, len(c.active)),
	}
	for _, s := range c.schedulers {
		state.AllAlerts = append(state.AllAlerts, s.Alert().Ref())
	}
	for _, token := range c.activeLocked() {
		if s, ok := c.schedulers[token]; ok {
			state.ActiveAlerts = append(state.ActiveAlerts, s.Alert().Ref())
		}
	}
	c.mu.Unlock()

	sort.Slice(state.AllAlerts, func(i, j int) bool {
		return state.AllAlerts[i].Token < state.AllAlerts[j].Token
	})
	return state
}

// Close cancels every pending schedule and silences local playback.
// Persisted alerts are kept for the next Load.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, s := range c.schedulers {
		s.Cancel()
	}
	sounding := len(c.active) > 0
	c.active = make(map[string]time.Time)
	c.mu.Unlock()

	if sounding {
		c.handler.StopAlert("")
	}
}

// fire runs on the scheduler's timer goroutine. A scheduler that was
// replaced or removed after its timer went off is ignored.
func (c *Coordinator) fire(s *Scheduler) {
	token := s.Alert().Token

	c.mu.Lock()
	if c.schedulers[token] != s {
		c.mu.Unlock()
		c.log.Debug("alert %s: ignoring superseded schedule", token)
		return
	}
	alreadySounding := len(c.active) > 0
	c.active[token] = c.now()
	c.mu.Unlock()

	c.log.Info("alert %s started", token)
	c.events.OnAlertStarted(token)
	if !alreadySounding {
		c.handler.StartAlert(token)
	}
}

// stop marks token as no longer sounding. Local playback is silenced
// only when no other alert remains active.
func (c *Coordinator) stop(token string) {
	c.mu.Lock()
	_, wasActive := c.active[token]
	delete(c.active, token)
	remaining := len(c.active)
	c.mu.Unlock()

	if !wasActive {
		return
	}

	c.log.Info("alert %s stopped", token)
	c.events.OnAlertStopped(token)
	if remaining == 0 {
		c.handler.StopAlert(token)
	}
}

// restore re-arms a previously scheduled alert unless the token was set
// again in the meantime.
func (c *Coordinator) restore(a domain.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schedulers[a.Token]; ok {
		return
	}
	c.schedulers[a.Token] = newScheduler(a, c.now(), c.fire)
	c.log.Info("alert %s kept at %s", a.Token, a.ScheduledTime.Format(time.RFC3339))
}

// drop cancels and forgets token without persisting.
func (c *Coordinator) drop(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schedulers[token]; ok {
		s.Cancel()
		delete(c.schedulers, token)
	}
}

// persist writes the current alert set. Saves are serialized so the last
// write always reflects the latest state.
func (c *Coordinator) persist(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	alerts := make([]domain.Alert, 0, len(c.schedulers))
	for _, s := range c.schedulers {
		alerts = append(alerts, s.Alert())
	}
	c.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Token < alerts[j].Token })

	if err := c.store.Save(ctx, alerts); err != nil {
		return fmt.Errorf("saving alerts: %w", err)
	}
	return nil
}
