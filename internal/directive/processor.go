package directive

import (
	"context"
	"sync"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// DispatchFunc handles one directive. The router's Dispatch satisfies it.
type DispatchFunc func(ctx context.Context, d *domain.Directive) error

// State is the processor run state.
type State int

const (
	Running State = iota
	Paused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithErrorHook replaces the default handler-error sink (a log line).
func WithErrorHook(fn func(d *domain.Directive, err error)) ProcessorOption {
	return func(p *Processor) {
		p.onError = fn
	}
}

// Processor drains one queue strictly in arrival order, one directive at
// a time. It can be blocked and unblocked from any goroutine; while
// blocked the queue keeps accepting and nothing is dequeued.
type Processor struct {
	queue    *Queue
	dispatch DispatchFunc
	log      *logger.Logger
	onError  func(d *domain.Directive, err error)

	mu     sync.Mutex
	paused bool
	wake   chan struct{}
}

// NewProcessor creates a processor for queue. Call Run to start it.
func NewProcessor(queue *Queue, dispatch DispatchFunc, log *logger.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		queue:    queue,
		dispatch: dispatch,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
	p.onError = func(d *domain.Directive, err error) {
		p.log.Error("%s processor: %s failed: %v", p.queue.Name(), d.Key(), err)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes directives until ctx is cancelled. Blocking.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("%s processor started", p.queue.Name())
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("%s processor stopped", p.queue.Name())
			return nil
		case <-p.queue.Notify():
			p.drain(ctx)
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

// Block suspends dequeuing. A directive already being dispatched finishes.
func (p *Processor) Block() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.log.Debug("%s processor blocked (queued=%d)", p.queue.Name(), p.queue.Len())
}

// Unblock resumes dequeuing from the head of the queue.
func (p *Processor) Unblock() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.log.Debug("%s processor unblocked (queued=%d)", p.queue.Name(), p.queue.Len())
}

// State returns Paused while blocked, Running otherwise.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return Paused
	}
	return Running
}

// drain dispatches until the queue is empty or the processor is blocked.
func (p *Processor) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		d, ok := p.next()
		if !ok {
			return
		}

		if err := p.dispatch(ctx, d); err != nil {
			p.onError(d, err)
		}
	}
}

// next pops the head unless blocked. The pause check and the pop happen
// under one lock so nothing is dequeued once Block has returned.
func (p *Processor) next() (*domain.Directive, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return nil, false
	}
	return p.queue.Pop()
}
