// Package dispatch routes directives to their namespace handlers and
// turns handler failures into ExceptionEncountered reports.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

// Handler executes the directives of one namespace.
type Handler interface {
	Handle(ctx context.Context, d *domain.Directive) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d *domain.Directive) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, d *domain.Directive) error {
	return f(ctx, d)
}

// DialogChecker reports whether a dialog request id is the current one.
type DialogChecker interface {
	IsCurrentDialogRequestID(id string) bool
}

// TurnTracker counts directives dispatched for the current turn.
// DispatchComplete is called once the handler has returned.
type TurnTracker interface {
	DispatchDirective()
	DispatchComplete()
}

// ExceptionReporter sends System.ExceptionEncountered upstream.
type ExceptionReporter interface {
	ReportException(ctx context.Context, rawMessage string, t domain.ExceptionType, message string)
}

// Router is the single entry point both processors dispatch through.
// It may be called concurrently from the dependent and independent
// processors; handlers run outside the router lock.
type Router struct {
	dialogs  DialogChecker
	turns    TurnTracker
	reporter ExceptionReporter
	log      *logger.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewRouter creates a router with no handlers registered.
func NewRouter(dialogs DialogChecker, turns TurnTracker, reporter ExceptionReporter, log *logger.Logger) *Router {
	return &Router{
		dialogs:  dialogs,
		turns:    turns,
		reporter: reporter,
		log:      log,
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a namespace, replacing any previous one.
func (r *Router) Register(namespace string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[namespace] = h
}

// Dispatch runs d through its namespace handler.
//
// Unknown namespaces and typed *domain.DirectiveError failures are
// reported and swallowed. Any other error, including a handler panic, is
// reported as INTERNAL_ERROR and then returned.
func (r *Router) Dispatch(ctx context.Context, d *domain.Directive) error {
	ctx, span := tracer.Start(ctx, "dispatch directive", trace.WithAttributes(
		attribute.String("directive.namespace", d.Namespace),
		attribute.String("directive.name", d.Name),
		attribute.String("directive.dialog_request_id", d.DialogRequestID),
	))
	defer span.End()

	r.log.Info("handling directive: %s", d.Key())

	r.mu.Lock()
	current := r.dialogs.IsCurrentDialogRequestID(d.DialogRequestID)
	if current {
		r.turns.DispatchDirective()
	}
	h, ok := r.handlers[d.Namespace]
	r.mu.Unlock()

	if current {
		defer r.turns.DispatchComplete()
	}

	if !ok {
		err := domain.NewDirectiveError(domain.ExceptionUnsupportedOperation,
			"No device side component to handle the directive.")
		span.RecordError(err)
		r.report(ctx, d, err.Type, err.Message)
		return nil
	}

	dispatchedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("directive.namespace", d.Namespace)))

	err := invoke(ctx, h, d)
	if err == nil {
		return nil
	}

	var de *domain.DirectiveError
	if errors.As(err, &de) {
		span.RecordError(err)
		r.report(ctx, d, de.Type, de.Message)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.report(ctx, d, domain.ExceptionInternalError, err.Error())
	return fmt.Errorf("dispatching %s: %w", d.Key(), err)
}

func (r *Router) report(ctx context.Context, d *domain.Directive, t domain.ExceptionType, msg string) {
	exceptionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("exception.type", string(t))))
	r.log.Error("%s error handling directive %s: %s", t, d.Key(), msg)
	r.reporter.ReportException(ctx, d.RawMessage, t, msg)
}

// invoke calls the handler, converting a panic into ErrHandlerPanic.
func invoke(ctx context.Context, h Handler, d *domain.Directive) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", domain.ErrHandlerPanic, rec)
		}
	}()
	return h.Handle(ctx, d)
}
