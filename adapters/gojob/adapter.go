package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/webhooks"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDDeadLetter = "billing.retry.dead_letter"

	MetricJobStarted   = "billing.job.started.total"
	MetricJobSucceeded = "billing.job.succeeded.total"
	MetricJobFailed    = "billing.job.failed.total"
	MetricJobRetried   = "billing.job.retried.total"
	MetricJobDuration  = "billing.job.duration_ms"
)

// RetryPolicy bounds redrive attempts so a poisoned event cannot loop
// forever between the queue and the engine.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps nack options for the given attempt.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage wraps an exhausted retry item in a go-job message. The
// retry item id doubles as the idempotency key.
func ToExecutionMessage(item core.RetryItem, cause error) *job.ExecutionMessage {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return &job.ExecutionMessage{
		JobID:      JobIDDeadLetter,
		ScriptPath: JobIDDeadLetter,
		Parameters: map[string]any{
			"retry_id":     strings.TrimSpace(item.ID),
			"event_id":     strings.TrimSpace(item.EventID),
			"event_type":   strings.TrimSpace(item.EventType),
			"dedup_key":    item.DedupKey,
			"payload":      string(item.Payload),
			"attempts":     item.Attempts,
			"max_attempts": item.MaxAttempts,
			"last_error":   item.LastError,
			"cause":        reason,
			"scheduled_at": item.ScheduledAt.UTC().Format(time.RFC3339Nano),
		},
		IdempotencyKey: strings.TrimSpace(item.ID),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// FromExecutionMessage rebuilds the retry item carried by a dead-letter
// message.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.RetryItem, error) {
	if msg == nil {
		return core.RetryItem{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDDeadLetter {
		return core.RetryItem{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	params := msg.Parameters
	item := core.RetryItem{
		ID:          stringParam(params, "retry_id"),
		EventID:     stringParam(params, "event_id"),
		EventType:   stringParam(params, "event_type"),
		DedupKey:    stringParam(params, "dedup_key"),
		Payload:     []byte(stringParam(params, "payload")),
		Attempts:    intParam(params, "attempts"),
		MaxAttempts: intParam(params, "max_attempts"),
		LastError:   stringParam(params, "last_error"),
	}
	if raw := stringParam(params, "scheduled_at"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			item.ScheduledAt = parsed.UTC()
		}
	}
	if item.ID == "" || item.EventID == "" || item.EventType == "" {
		return core.RetryItem{}, fmt.Errorf("gojob: dead letter message is missing retry identity")
	}
	return item, nil
}

// DeadLetterEnqueuer publishes exhausted retry items to a go-job queue.
type DeadLetterEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewDeadLetterEnqueuer(enqueuer queue.Enqueuer) *DeadLetterEnqueuer {
	return &DeadLetterEnqueuer{enqueuer: enqueuer}
}

func (a *DeadLetterEnqueuer) DeadLetter(ctx context.Context, item core.RetryItem, cause error) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("gojob: retry item id is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(item, cause))
}

// EventProcessor is the engine surface a redrive feeds events back into.
type EventProcessor interface {
	Process(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error)
}

// Redriver pulls dead-lettered items off a queue and hands their events
// back to the engine. A redriven event carries a fresh dedup window only
// if the original claim has expired.
type Redriver struct {
	dequeuer  queue.Dequeuer
	processor EventProcessor
	policy    RetryPolicy
}

func NewRedriver(dequeuer queue.Dequeuer, processor EventProcessor, policy RetryPolicy) *Redriver {
	return &Redriver{dequeuer: dequeuer, processor: processor, policy: policy}
}

// RedriveOne handles a single delivery. Successful and undecodable
// deliveries are acked; processing failures are nacked per the policy.
func (r *Redriver) RedriveOne(ctx context.Context) (core.BillingEventResult, error) {
	if r == nil || r.dequeuer == nil || r.processor == nil {
		return core.BillingEventResult{}, fmt.Errorf("gojob: redriver is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.BillingEventResult{}, err
	}
	if delivery == nil {
		return core.BillingEventResult{}, fmt.Errorf("gojob: dequeuer returned no delivery")
	}

	item, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		return core.BillingEventResult{}, ackAfter(ctx, delivery, err)
	}
	var event core.WebhookEvent
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		return core.BillingEventResult{}, ackAfter(ctx, delivery, fmt.Errorf("gojob: decode event %s: %w", item.EventID, err))
	}

	result, processErr := r.processor.Process(ctx, event)
	if processErr == nil {
		return result, delivery.Ack(ctx)
	}
	nack := r.policy.NormalizeAttempt(queue.NackOptions{
		Requeue: true,
		Reason:  processErr.Error(),
	}, item.Attempts+1)
	if err := delivery.Nack(ctx, nack); err != nil {
		return result, fmt.Errorf("gojob: nack %s: %w", item.ID, err)
	}
	return result, processErr
}

func ackAfter(ctx context.Context, delivery queue.Delivery, cause error) error {
	if err := delivery.Ack(ctx); err != nil {
		return fmt.Errorf("%w (ack failed: %v)", cause, err)
	}
	return cause
}

// MetricsHook reports go-job worker lifecycle events through a
// core.MetricsRecorder.
type MetricsHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsHook(recorder core.MetricsRecorder) *MetricsHook {
	return &MetricsHook{recorder: recorder}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	h.count(ctx, MetricJobStarted, event)
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.count(ctx, MetricJobSucceeded, event)
	if h != nil && h.recorder != nil {
		h.recorder.ObserveHistogram(ctx, MetricJobDuration, float64(event.Duration.Milliseconds()), eventTags(event))
	}
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	h.count(ctx, MetricJobFailed, event)
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	h.count(ctx, MetricJobRetried, event)
}

func (h *MetricsHook) count(ctx context.Context, name string, event worker.Event) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, name, 1, eventTags(event))
}

func eventTags(event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{"attempt": strconv.Itoa(event.Attempt)}
	if message != nil {
		tags["job_id"] = strings.TrimSpace(message.JobID)
		if eventType, ok := message.Parameters["event_type"].(string); ok {
			tags["event_type"] = eventType
		}
	}
	if event.Err != nil {
		tags["error"] = "true"
	}
	return tags
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprint(value)
}

func intParam(params map[string]any, key string) int {
	switch typed := params[key].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case json.Number:
		value, _ := typed.Int64()
		return int(value)
	case string:
		value, _ := strconv.Atoi(strings.TrimSpace(typed))
		return value
	default:
		return 0
	}
}

var (
	_ webhooks.DeadLetterSink = (*DeadLetterEnqueuer)(nil)
	_ worker.Hook             = (*MetricsHook)(nil)
)
