// Package directive holds the two ordered directive pipelines: the
// enqueuer that classifies incoming directives, the FIFO queues, and the
// processors that drain them into the dispatch router.
package directive

import (
	"sync"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// Queue is an unbounded FIFO of directives. Push never blocks; consumers
// watch Notify for new arrivals. Safe for concurrent use.
type Queue struct {
	name string

	mu     sync.Mutex
	items  []*domain.Directive
	notify chan struct{}
}

// NewQueue creates an empty queue. The name shows up in log lines.
func NewQueue(name string) *Queue {
	return &Queue{
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Push appends d and signals the consumer.
func (q *Queue) Push(d *domain.Directive) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default: // already signaled
	}
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (*domain.Directive, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	d := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return d, true
}

// Clear drops the backlog and returns how many directives were discarded.
// A directive already popped by the consumer is unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued directives.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Notify is signaled at least once after every Push.
func (q *Queue) Notify() <-chan struct{} { return q.notify }
