package alert

import (
	"sync"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// Scheduler fires one alert at its scheduled time. A cancelled scheduler
// never fires.
type Scheduler struct {
	alert domain.Alert

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

// newScheduler arms a timer for a. fire runs on the timer goroutine and
// receives the scheduler so the owner can tell a replaced one apart.
// Alerts already past due fire immediately.
func newScheduler(a domain.Alert, now time.Time, fire func(s *Scheduler)) *Scheduler {
	s := &Scheduler{alert: a}

	delay := a.ScheduledTime.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		cancelled := s.cancelled
		s.mu.Unlock()
		if !cancelled {
			fire(s)
		}
	})
	s.mu.Unlock()
	return s
}

// Alert returns the scheduled alert.
func (s *Scheduler) Alert() domain.Alert { return s.alert }

// Cancel stops the timer. Safe to call more than once.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.timer.Stop()
}

// Cancelled reports whether Cancel was called.
func (s *Scheduler) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
