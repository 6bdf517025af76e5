package directive

import (
	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// DialogChecker reports whether a dialog request id is the current one.
type DialogChecker interface {
	IsCurrentDialogRequestID(id string) bool
}

// Enqueuer routes inbound directives into the dependent or independent
// queue. It is the transport's only entry point into the pipelines.
type Enqueuer struct {
	dialogs     DialogChecker
	dependent   *Queue
	independent *Queue
	log         *logger.Logger
}

// NewEnqueuer wires an enqueuer to its two queues.
func NewEnqueuer(dialogs DialogChecker, dependent, independent *Queue, log *logger.Logger) *Enqueuer {
	return &Enqueuer{
		dialogs:     dialogs,
		dependent:   dependent,
		independent: independent,
		log:         log,
	}
}

// Enqueue classifies d and pushes it onto the matching queue.
//
// Dependent directives that carry a dialog request id other than the
// current one belong to a superseded turn and are dropped. Directives
// outside the known vocabulary go to the independent queue so the router
// can report them as unsupported without waiting on the current turn.
func (e *Enqueuer) Enqueue(d *domain.Directive) {
	class, known := Classify(d.Namespace, d.Name)
	if !known {
		e.log.Warn("enqueuer: unknown directive %s, routing to independent queue", d.Key())
	}

	if class == Dependent {
		if d.DialogRequestID != "" && !e.dialogs.IsCurrentDialogRequestID(d.DialogRequestID) {
			e.log.Debug("enqueuer: dropping stale %s (dialog=%s)", d.Key(), d.DialogRequestID)
			return
		}
		e.dependent.Push(d)
		e.log.Debug("enqueuer: %s -> dependent (len=%d)", d.Key(), e.dependent.Len())
		return
	}

	e.independent.Push(d)
	e.log.Debug("enqueuer: %s -> independent (len=%d)", d.Key(), e.independent.Len())
}

// ClearDependent drops the dependent backlog. Called when a new recording
// turn starts; in-flight dispatch is unaffected.
func (e *Enqueuer) ClearDependent() {
	if n := e.dependent.Clear(); n > 0 {
		e.log.Debug("enqueuer: cleared %d dependent directives", n)
	}
}

// PendingDependent returns the size of the dependent backlog.
func (e *Enqueuer) PendingDependent() int {
	return e.dependent.Len()
}
