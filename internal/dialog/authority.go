// Package dialog tracks the dialog request id that correlates a speech
// turn with the directives it provokes.
package dialog

import (
	"sync"

	"github.com/google/uuid"
)

// Authority hands out dialog request ids. At most one id is current; a
// new id supersedes the previous one. Safe for concurrent use.
type Authority struct {
	mu      sync.RWMutex
	current string
	newID   func() string
}

// Option configures the Authority.
type Option func(*Authority)

// WithIDFunc replaces the id generator. Used by tests for stable ids.
func WithIDFunc(fn func() string) Option {
	return func(a *Authority) {
		a.newID = fn
	}
}

// NewAuthority creates an authority with no current id.
func NewAuthority(opts ...Option) *Authority {
	a := &Authority{newID: uuid.NewString}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateNewDialogRequestID generates a fresh id and marks it current.
// Call it exactly once per user-initiated speech turn, before sending the
// turn's event.
func (a *Authority) CreateNewDialogRequestID() string {
	id := a.newID()
	a.mu.Lock()
	a.current = id
	a.mu.Unlock()
	return id
}

// IsCurrentDialogRequestID reports whether id is the most recently created
// id. The empty string is never current.
func (a *Authority) IsCurrentDialogRequestID(id string) bool {
	if id == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return id == a.current
}

// Current returns the current id, or "" before the first turn.
func (a *Authority) Current() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}
