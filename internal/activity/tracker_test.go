package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/avsclient/internal/logger"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type mockReporter struct {
	mu      sync.Mutex
	reports []time.Duration
	err     error
}

func (m *mockReporter) ReportInactivity(_ context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, d)
	return m.err
}

func (m *mockReporter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

func TestRecordActivityNeverMovesBackwards(t *testing.T) {
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	tr := New(&mockReporter{}, logger.New(logger.LevelOff, nil), WithClock(clock.Now))

	clock.Set(start.Add(10 * time.Minute))
	tr.RecordActivity()
	if got := tr.LastActivity(); !got.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("expected last activity at +10m, got %s", got)
	}

	// A stale clock reading must not rewind the timestamp.
	clock.Set(start.Add(5 * time.Minute))
	tr.OnUserActivity()
	if got := tr.LastActivity(); !got.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("timestamp moved backwards to %s", got)
	}
}

func TestReportSendsElapsedTime(t *testing.T) {
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	rep := &mockReporter{}
	tr := New(rep, logger.New(logger.LevelOff, nil), WithClock(clock.Now))

	clock.Set(start.Add(90 * time.Minute))
	tr.Report(context.Background())

	if len(rep.reports) != 1 || rep.reports[0] != 90*time.Minute {
		t.Fatalf("expected one 90m report, got %v", rep.reports)
	}
}

func TestRunSurvivesReportFailures(t *testing.T) {
	rep := &mockReporter{err: errors.New("offline")}
	tr := New(rep, logger.New(logger.LevelOff, nil), WithPeriod(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	time.Sleep(110 * time.Millisecond)
	cancel()
	<-done

	if n := rep.count(); n < 3 {
		t.Fatalf("expected reporting to continue after failures, got %d reports", n)
	}
}
