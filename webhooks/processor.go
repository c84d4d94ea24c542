package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

// StateApplier commits accepted handler outcomes. Apply is only called for
// outcomes that won their deadline race; ApplyEmergency must succeed
// without any network or storage round trip. ActivateCrisisMode switches
// the global crisis flag and brings stored feature access in line with it.
type StateApplier interface {
	Apply(ctx context.Context, event core.WebhookEvent, priority core.Priority, outcome core.HandlerOutcome) (core.SubscriptionUpdate, error)
	ApplyEmergency(ctx context.Context, event core.WebhookEvent) core.SubscriptionUpdate
	ActivateCrisisMode(ctx context.Context, reason string) bool
}

// UpdateSink receives a StateUpdate for every successfully dispatched event.
type UpdateSink interface {
	Enqueue(update core.StateUpdate)
}

type Processor struct {
	Config     core.Config
	Validator  *EventValidator
	Ledger     core.ReplayLedger
	Classifier *CrisisClassifier
	Router     *Router
	Executor   DeadlineExecutor
	Retries    *RetryScheduler
	Applier    StateApplier
	Updates    UpdateSink
	Metrics    *core.WebhookMetricsRecorder
	Observer   *core.Observer
	Now        func() time.Time

	updateSeq atomic.Uint64
}

func NewProcessor(cfg core.Config, router *Router, applier StateApplier) *Processor {
	return &Processor{
		Config:     cfg,
		Validator:  NewEventValidator(),
		Ledger:     core.NewMemoryReplayLedger(cfg.DedupTTL()),
		Classifier: NewCrisisClassifier(core.NewCrisisMode()),
		Router:     router,
		Retries:    NewRetryScheduler(FixedRetryPolicy{Delay: cfg.RetryDelay()}, cfg.MaxRetryAttempts),
		Applier:    applier,
		Metrics:    core.NewWebhookMetricsRecorder(nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process runs one event through validation, dedup, classification and
// dispatch. Crisis events always come back as a processed result with a nil
// error. Normal failures return a retryable result with a nil error until
// the retry budget is spent.
func (p *Processor) Process(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error) {
	if p == nil || p.Router == nil || p.Applier == nil {
		return core.BillingEventResult{}, core.InternalError("webhooks: processor requires router and state applier", nil)
	}
	startedAt := p.now()

	if err := p.Validator.Validate(event); err != nil {
		p.Metrics.RecordValidationFailure(ctx, event.Type)
		p.Observer.Warn(ctx, "billing event rejected", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"error":      err.Error(),
		})
		result := p.baseResult(event, startedAt)
		result.Error = core.ResultErrorFrom(err, false)
		return result, err
	}

	if p.Config.DeduplicationEnabled() && p.Ledger != nil {
		key := core.DedupKey(event)
		claimed, err := p.Ledger.Claim(ctx, key, p.Config.DedupTTL())
		if err != nil {
			p.Observer.Warn(ctx, "dedup claim failed, processing event", map[string]any{
				"event_id":  event.ID,
				"dedup_key": key,
				"error":     err.Error(),
			})
			claimed = true
		}
		if !claimed {
			p.Metrics.RecordDuplicate(ctx, event.Type)
			p.Observer.Debug(ctx, "duplicate billing event skipped", map[string]any{
				"event_id":  event.ID,
				"dedup_key": key,
			})
			result := p.baseResult(event, startedAt)
			result.Processed = true
			result.Deduplicated = true
			result.SubscriptionUpdate = unchangedUpdate(event)
			return result, nil
		}
	}

	priority := p.Classifier.Classify(event)
	if priority == core.PriorityCrisis {
		p.Applier.ActivateCrisisMode(ctx, event.Type)
	}
	return p.dispatch(ctx, event, priority, startedAt, nil)
}

// ProcessDueRetries redelivers every retry item whose time has come. Items
// re-enter at the router; they were validated and deduplicated on their
// first delivery. Items left over when ctx ends are released untouched for
// the next pump.
func (p *Processor) ProcessDueRetries(ctx context.Context) ([]core.BillingEventResult, error) {
	if p == nil || p.Retries == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	due := p.Retries.Due(p.now())
	results := make([]core.BillingEventResult, 0, len(due))
	var errs []error
	for i, item := range due {
		if err := ctx.Err(); err != nil {
			p.Retries.Release(retryIDs(due[i:])...)
			errs = append(errs, err)
			break
		}
		event, err := p.Retries.Decode(item)
		if err != nil {
			_, terminal, dlErr := p.Retries.Fail(ctx, item.ID, err)
			if terminal {
				p.Metrics.RecordProcessingFailure(ctx, item.EventType)
			}
			errs = append(errs, err, dlErr)
			continue
		}
		item := item
		result, err := p.dispatch(ctx, event, core.PriorityNormal, p.now(), &item)
		results = append(results, result)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func (p *Processor) dispatch(
	ctx context.Context,
	event core.WebhookEvent,
	priority core.Priority,
	startedAt time.Time,
	retry *core.RetryItem,
) (core.BillingEventResult, error) {
	fields := core.EventFields(event, priority)
	handler, ok := p.Router.Lookup(event.Type)
	if !ok {
		p.Observer.Info(ctx, "no handler registered for billing event", fields)
		result := p.baseResult(event, startedAt)
		result.Processed = true
		result.SubscriptionUpdate = unchangedUpdate(event)
		p.finish(ctx, event, priority, &result, startedAt, retry)
		return result, nil
	}

	crisis := priority == core.PriorityCrisis
	deadline := p.Config.ProcessingTimeout()
	if crisis {
		deadline = p.Config.CrisisTimeout()
	}
	fields["handler"] = handler.Name()

	outcome, err := p.Executor.Run(ctx, deadline, handler, event)
	var update core.SubscriptionUpdate
	if err == nil {
		update, err = p.Applier.Apply(ctx, event, priority, outcome)
	}

	if crisis {
		result := p.baseResult(event, startedAt)
		result.Processed = true
		result.CrisisOverride = true
		if err != nil {
			fields["error"] = err.Error()
			p.Observer.Warn(ctx, "crisis handler did not complete, granting emergency access", fields)
			update = p.Applier.ApplyEmergency(ctx, event)
			result.Error = core.ResultErrorFrom(err, false)
			p.Metrics.RecordCrisisFallback(ctx, event.Type)
		}
		result.SubscriptionUpdate = &update
		p.finish(ctx, event, priority, &result, startedAt, retry)
		return result, nil
	}

	if err == nil {
		result := p.baseResult(event, startedAt)
		result.Processed = true
		result.SubscriptionUpdate = &update
		p.finish(ctx, event, priority, &result, startedAt, retry)
		return result, nil
	}
	return p.fail(ctx, event, startedAt, retry, err, fields)
}

func (p *Processor) finish(
	ctx context.Context,
	event core.WebhookEvent,
	priority core.Priority,
	result *core.BillingEventResult,
	startedAt time.Time,
	retry *core.RetryItem,
) {
	elapsed := p.now().Sub(startedAt)
	result.ProcessingTime = elapsed.Milliseconds()
	p.Metrics.RecordProcessed(ctx, event.Type, priority == core.PriorityCrisis, elapsed)
	if retry != nil && p.Retries != nil {
		if err := p.Retries.Complete(retry.ID); err != nil {
			p.Observer.Warn(ctx, "retry completion failed", map[string]any{"retry_id": retry.ID, "error": err.Error()})
		}
	}
	if p.Updates != nil && p.Config.RealTimeUpdatesEnabled() {
		subscriptionID := event.SubscriptionID()
		if result.SubscriptionUpdate != nil && result.SubscriptionUpdate.SubscriptionID != "" {
			subscriptionID = result.SubscriptionUpdate.SubscriptionID
		}
		p.Updates.Enqueue(core.StateUpdate{
			ID:             fmt.Sprintf("update_%s_%d", event.ID, p.updateSeq.Add(1)),
			EventID:        event.ID,
			EventType:      event.Type,
			Timestamp:      p.now(),
			SubscriptionID: subscriptionID,
			Priority:       priority,
		})
	}
}

func (p *Processor) fail(
	ctx context.Context,
	event core.WebhookEvent,
	startedAt time.Time,
	retry *core.RetryItem,
	cause error,
	fields map[string]any,
) (core.BillingEventResult, error) {
	result := p.baseResult(event, startedAt)
	result.ProcessingTime = p.now().Sub(startedAt).Milliseconds()
	fields["error"] = cause.Error()

	var (
		item     core.RetryItem
		terminal bool
		dlErr    error
	)
	if retry != nil && ctx.Err() != nil {
		// Interrupted by shutdown: the attempt does not count.
		p.Retries.Release(retry.ID)
		fields["retry_id"] = retry.ID
		p.Observer.Warn(ctx, "billing event retry interrupted, item released", fields)
		result.Error = core.ResultErrorFrom(cause, true)
		return result, ctx.Err()
	}
	if retry == nil {
		item, terminal, dlErr = p.Retries.Schedule(ctx, event, cause)
	} else {
		item, terminal, dlErr = p.Retries.Fail(ctx, retry.ID, cause)
		if errors.Is(dlErr, core.ErrRetryItemNotFound) {
			fields["retry_id"] = retry.ID
			p.Observer.Warn(ctx, "billing event failed, retry item no longer pending", fields)
			result.Error = core.ResultErrorFrom(cause, false)
			return result, nil
		}
	}
	fields["attempts"] = item.Attempts
	fields["max_attempts"] = item.MaxAttempts

	if !terminal {
		p.Metrics.RecordRetryScheduled(ctx, event.Type)
		fields["next_retry_at"] = item.NextRetryAt
		p.Observer.Warn(ctx, "billing event failed, retry scheduled", fields)
		result.Error = core.ResultErrorFrom(cause, true)
		return result, nil
	}

	p.Metrics.RecordProcessingFailure(ctx, event.Type)
	p.Observer.Error(ctx, "billing event retries exhausted", fields)
	exhausted := core.RetryExhaustedError(cause, "webhooks: retries exhausted", map[string]any{
		"event_id":     event.ID,
		"event_type":   event.Type,
		"retry_id":     item.ID,
		"attempts":     item.Attempts,
		"max_attempts": item.MaxAttempts,
	})
	result.Error = core.ResultErrorFrom(exhausted, false)
	if dlErr != nil {
		return result, errors.Join(exhausted, dlErr)
	}
	return result, exhausted
}

func (p *Processor) baseResult(event core.WebhookEvent, startedAt time.Time) core.BillingEventResult {
	return core.BillingEventResult{
		EventID:        event.ID,
		EventType:      event.Type,
		ProcessingTime: p.now().Sub(startedAt).Milliseconds(),
	}
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func retryIDs(items []core.RetryItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func unchangedUpdate(event core.WebhookEvent) *core.SubscriptionUpdate {
	return &core.SubscriptionUpdate{
		SubscriptionID: event.SubscriptionID(),
		Status:         core.StatusUnchanged,
	}
}
