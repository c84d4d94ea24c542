package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-billing-sync/core"
)

// UpdateProcessor propagates one drained StateUpdate.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, update core.StateUpdate) error
}

type UpdateProcessorFunc func(ctx context.Context, update core.StateUpdate) error

func (f UpdateProcessorFunc) ProcessUpdate(ctx context.Context, update core.StateUpdate) error {
	return f(ctx, update)
}

type DrainReport struct {
	Drained  int
	Crisis   int
	Failures int
	Order    []string
}

type queuedUpdate struct {
	update core.StateUpdate
	seq    uint64
}

// UpdateQueue buffers pending state propagations. Drain visits crisis
// updates before normal ones and orders each class by timestamp, then by
// arrival.
type UpdateQueue struct {
	Processor UpdateProcessor
	Observer  *core.Observer

	mu      sync.Mutex
	drainMu sync.Mutex
	seq     uint64
	pending []queuedUpdate
}

func NewUpdateQueue(processor UpdateProcessor) *UpdateQueue {
	return &UpdateQueue{Processor: processor}
}

func (q *UpdateQueue) Enqueue(update core.StateUpdate) {
	if q == nil {
		return
	}
	if update.Priority == "" {
		update.Priority = core.PriorityNormal
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}
	update.Processed = false
	q.mu.Lock()
	q.seq++
	q.pending = append(q.pending, queuedUpdate{update: update, seq: q.seq})
	q.mu.Unlock()
}

// Drain processes every update pending at call time. A processing error is
// logged and counted; the update is still marked processed so one bad
// subscription cannot wedge the queue. Concurrent Drain calls run one at a
// time and an empty queue drains as a no-op.
func (q *UpdateQueue) Drain(ctx context.Context) DrainReport {
	report := DrainReport{}
	if q == nil {
		return report
	}
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := make([]queuedUpdate, 0, len(q.pending))
	for _, item := range q.pending {
		if !item.update.Processed {
			batch = append(batch, item)
		}
	}
	q.mu.Unlock()
	if len(batch) == 0 {
		return report
	}
	sortForDrain(batch)

	done := make(map[uint64]struct{}, len(batch))
	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		update := item.update
		update.Processed = true
		if q.Processor != nil {
			if err := q.Processor.ProcessUpdate(ctx, update); err != nil {
				report.Failures++
				q.Observer.Warn(ctx, "state update propagation failed", map[string]any{
					"update_id":       update.ID,
					"event_id":        update.EventID,
					"subscription_id": update.SubscriptionID,
					"error":           err.Error(),
				})
			}
		}
		done[item.seq] = struct{}{}
		report.Drained++
		if update.Priority == core.PriorityCrisis {
			report.Crisis++
		}
		report.Order = append(report.Order, update.ID)
	}

	q.mu.Lock()
	remaining := q.pending[:0]
	for _, item := range q.pending {
		if _, ok := done[item.seq]; ok {
			continue
		}
		remaining = append(remaining, item)
	}
	q.pending = remaining
	q.mu.Unlock()
	return report
}

func (q *UpdateQueue) Pending() []core.StateUpdate {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	batch := append([]queuedUpdate(nil), q.pending...)
	q.mu.Unlock()
	sortForDrain(batch)
	out := make([]core.StateUpdate, 0, len(batch))
	for _, item := range batch {
		out = append(out, item.update)
	}
	return out
}

func (q *UpdateQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *UpdateQueue) Reset() {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

func sortForDrain(batch []queuedUpdate) {
	sort.SliceStable(batch, func(i, j int) bool {
		left, right := batch[i], batch[j]
		leftCrisis := left.update.Priority == core.PriorityCrisis
		rightCrisis := right.update.Priority == core.PriorityCrisis
		if leftCrisis != rightCrisis {
			return leftCrisis
		}
		if !left.update.Timestamp.Equal(right.update.Timestamp) {
			return left.update.Timestamp.Before(right.update.Timestamp)
		}
		return left.seq < right.seq
	})
}
