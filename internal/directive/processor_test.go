package directive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// recorder collects dispatched directive ids in order.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) dispatch(_ context.Context, d *domain.Directive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, d.MessageID)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func speak(id string) *domain.Directive {
	return &domain.Directive{
		Namespace: domain.NamespaceSpeechSynthesizer,
		Name:      domain.DirectiveSpeak,
		MessageID: id,
	}
}

func startProcessor(t *testing.T, q *Queue, fn DispatchFunc, opts ...ProcessorOption) *Processor {
	t.Helper()
	p := NewProcessor(q, fn, logger.New(logger.LevelOff, nil), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestProcessorPreservesOrder(t *testing.T) {
	q := NewQueue("dependent")
	rec := &recorder{}
	startProcessor(t, q, rec.dispatch)

	var want []string
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("m%d", i)
		want = append(want, id)
		q.Push(speak(id))
	}

	waitFor(t, "all directives", func() bool { return len(rec.ids()) == len(want) })

	got := rec.ids()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBlockRetainsQueueAndResumesInOrder(t *testing.T) {
	q := NewQueue("dependent")
	rec := &recorder{}
	p := startProcessor(t, q, rec.dispatch)

	p.Block()
	if p.State() != Paused {
		t.Fatalf("expected paused, got %s", p.State())
	}

	for _, id := range []string{"a", "b", "c"} {
		q.Push(speak(id))
	}
	time.Sleep(50 * time.Millisecond)

	if n := len(rec.ids()); n != 0 {
		t.Fatalf("expected nothing dispatched while blocked, got %d", n)
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}

	p.Unblock()
	waitFor(t, "resume", func() bool { return len(rec.ids()) == 3 })

	got := rec.ids()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected order after resume: %v", got)
	}
}

func TestBlockFromHandlerStopsBeforeNextItem(t *testing.T) {
	q := NewQueue("dependent")
	rec := &recorder{}
	var p *Processor
	p = startProcessor(t, q, func(ctx context.Context, d *domain.Directive) error {
		rec.dispatch(ctx, d)
		if d.MessageID == "speak" {
			// speech started inside the handler
			p.Block()
		}
		return nil
	})

	q.Push(speak("speak"))
	q.Push(speak("play"))

	waitFor(t, "first dispatch", func() bool { return len(rec.ids()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.ids()); n != 1 {
		t.Fatalf("expected the second directive to wait, got %d dispatched", n)
	}

	p.Unblock()
	waitFor(t, "second dispatch", func() bool { return len(rec.ids()) == 2 })
}

func TestHandlerErrorDoesNotStopLoop(t *testing.T) {
	q := NewQueue("independent")
	rec := &recorder{}
	boom := errors.New("boom")

	var mu sync.Mutex
	var failed []string
	hook := WithErrorHook(func(d *domain.Directive, err error) {
		mu.Lock()
		defer mu.Unlock()
		if !errors.Is(err, boom) {
			t.Errorf("unexpected error %v", err)
		}
		failed = append(failed, d.MessageID)
	})

	startProcessor(t, q, func(ctx context.Context, d *domain.Directive) error {
		rec.dispatch(ctx, d)
		if d.MessageID == "bad" {
			return boom
		}
		return nil
	}, hook)

	q.Push(speak("bad"))
	q.Push(speak("good"))

	waitFor(t, "both directives", func() bool { return len(rec.ids()) == 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || failed[0] != "bad" {
		t.Fatalf("expected one failure for 'bad', got %v", failed)
	}
}
