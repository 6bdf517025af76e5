// Package activity tracks the last user-initiated action and
// periodically reports how long the user has been inactive.
package activity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// DefaultPeriod is how often inactivity is reported.
const DefaultPeriod = time.Hour

// Reporter sends the inactivity report upstream.
type Reporter interface {
	ReportInactivity(ctx context.Context, inactive time.Duration) error
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithPeriod sets the report interval.
func WithPeriod(d time.Duration) Option {
	return func(t *Tracker) {
		t.period = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker holds the last-activity timestamp. The timestamp only moves
// forward, even if callers race with stale clocks.
type Tracker struct {
	reporter Reporter
	log      *logger.Logger
	period   time.Duration
	now      func() time.Time

	last atomic.Int64 // unix milliseconds
}

var _ domain.UserActivityListener = (*Tracker)(nil)

// New creates a tracker whose last activity is the moment of creation.
func New(reporter Reporter, log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		reporter: reporter,
		log:      log,
		period:   DefaultPeriod,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last.Store(t.now().UnixMilli())
	return t
}

// RecordActivity moves the last-activity timestamp to now.
func (t *Tracker) RecordActivity() {
	now := t.now().UnixMilli()
	for {
		old := t.last.Load()
		if now <= old || t.last.CompareAndSwap(old, now) {
			return
		}
	}
}

// OnUserActivity is RecordActivity.
func (t *Tracker) OnUserActivity() { t.RecordActivity() }

// LastActivity returns the last-activity timestamp.
func (t *Tracker) LastActivity() time.Time {
	return time.UnixMilli(t.last.Load())
}

// Inactive returns the time elapsed since the last activity.
func (t *Tracker) Inactive() time.Duration {
	d := t.now().Sub(t.LastActivity())
	if d < 0 {
		return 0
	}
	return d
}

// Run reports inactivity every period until ctx is cancelled. Blocking.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	t.log.Info("inactivity reporter started (period=%s)", t.period)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("inactivity reporter stopped")
			return nil
		case <-ticker.C:
			t.Report(ctx)
		}
	}
}

// Report sends one inactivity report. Failures are logged; the next
// report recomputes the elapsed time anyway.
func (t *Tracker) Report(ctx context.Context) {
	inactive := t.Inactive()
	if err := t.reporter.ReportInactivity(ctx, inactive); err != nil {
		t.log.Error("sending inactivity report: %v", err)
		return
	}
	t.log.Debug("reported %s of inactivity", inactive.Truncate(time.Second))
}
