package billingsync

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	"github.com/sourcegraph/conc"
)

// Start launches the periodic tasks: update drain, grace sweep, retry pump,
// dedup purge and, with a metrics sink configured, metrics publishing. The
// tasks stop when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return core.InternalError("billingsync: engine is nil", nil)
	}
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.cancel != nil {
		return core.ConflictError("billingsync: engine already started", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	tasks := &conc.WaitGroup{}

	if e.config.RealTimeUpdatesEnabled() {
		e.every(runCtx, tasks, "update_drain", e.config.UpdateDrainInterval(), func(ctx context.Context) error {
			e.DrainUpdates(ctx)
			return nil
		})
	}
	e.every(runCtx, tasks, "grace_sweep", e.config.GraceSweepInterval(), func(ctx context.Context) error {
		_, err := e.SweepGracePeriods(ctx)
		return err
	})
	e.every(runCtx, tasks, "retry_pump", e.config.RetryPumpInterval(), func(ctx context.Context) error {
		_, err := e.ProcessDueRetries(ctx)
		return err
	})
	e.every(runCtx, tasks, "dedup_purge", e.config.DedupTTL(), func(ctx context.Context) error {
		_, err := e.PurgeDedup(ctx)
		return err
	})
	if e.metricsSink != nil {
		e.every(runCtx, tasks, "metrics_publish", e.config.MetricsPublishInterval(), e.PublishMetrics)
	}

	e.cancel = cancel
	e.tasks = tasks
	e.observer.Info(ctx, "billing engine started", map[string]any{
		"service": e.config.ServiceName,
	})
	return nil
}

// Stop cancels the periodic tasks and waits for them to return, or for ctx
// to end first.
func (e *Engine) Stop(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.lifecycleMu.Lock()
	cancel, tasks := e.cancel, e.tasks
	e.cancel, e.tasks = nil, nil
	e.lifecycleMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		if recovered := tasks.WaitAndRecover(); recovered != nil {
			done <- core.InternalError("billingsync: periodic task panicked: "+recovered.String(), nil)
			return
		}
		done <- nil
	}()
	select {
	case err := <-done:
		e.observer.Info(ctx, "billing engine stopped", nil)
		return err
	case <-ctx.Done():
		return core.TimeoutError(ctx.Err(), "billingsync: stop timed out waiting for periodic tasks", nil)
	}
}

func (e *Engine) Running() bool {
	if e == nil {
		return false
	}
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	return e.cancel != nil
}

func (e *Engine) every(
	ctx context.Context,
	tasks *conc.WaitGroup,
	name string,
	interval time.Duration,
	run func(context.Context) error,
) {
	tasks.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run(ctx); err != nil && ctx.Err() == nil {
					e.observer.Warn(ctx, "periodic task failed", map[string]any{
						"task":  name,
						"error": err.Error(),
					})
				}
			}
		}
	})
}
