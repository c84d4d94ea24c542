package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

type handlerResult struct {
	outcome core.HandlerOutcome
	err     error
}

// DeadlineExecutor races one handler invocation against a deadline. The
// handler context is cancelled when the deadline passes; a handler that
// ignores cancellation keeps running but its result is dropped, so nothing
// it returns late can reach committed state.
type DeadlineExecutor struct{}

func (DeadlineExecutor) Run(
	ctx context.Context,
	deadline time.Duration,
	handler Handler,
	event core.WebhookEvent,
) (core.HandlerOutcome, error) {
	if handler == nil {
		return core.HandlerOutcome{}, core.InternalError("webhooks: handler is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- handlerResult{err: fmt.Errorf("webhooks: handler %s panicked: %v", handler.Name(), recovered)}
			}
		}()
		outcome, err := handler.Handle(runCtx, event)
		done <- handlerResult{outcome: outcome, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			if errors.Is(result.err, context.DeadlineExceeded) {
				return core.HandlerOutcome{}, timeoutErr(result.err, handler, event, deadline)
			}
			if core.HasTextCode(result.err, core.BillingErrorHandlerFailed) {
				return core.HandlerOutcome{}, result.err
			}
			return core.HandlerOutcome{}, core.HandlerError(result.err, "webhooks: handler failed", map[string]any{
				"handler":    handler.Name(),
				"event_id":   event.ID,
				"event_type": event.Type,
			})
		}
		return result.outcome, nil
	case <-runCtx.Done():
		return core.HandlerOutcome{}, timeoutErr(runCtx.Err(), handler, event, deadline)
	}
}

func timeoutErr(source error, handler Handler, event core.WebhookEvent, deadline time.Duration) error {
	return core.TimeoutError(source, "webhooks: handler exceeded deadline", map[string]any{
		"handler":     handler.Name(),
		"event_id":    event.ID,
		"event_type":  event.Type,
		"deadline_ms": deadline.Milliseconds(),
	})
}
