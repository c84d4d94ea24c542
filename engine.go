package billingsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/grace"
	"github.com/goliatone/go-billing-sync/realtime"
	"github.com/goliatone/go-billing-sync/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/sourcegraph/conc"
)

const snapshotKeyPrefix = "billing:subscription:"

// SnapshotKey is the storage key holding the JSON snapshot of a
// subscription's state.
func SnapshotKey(subscriptionID string) string {
	return snapshotKeyPrefix + strings.TrimSpace(subscriptionID)
}

// Engine owns every piece of mutable billing state: subscription states,
// grace entries, the dedup ledger, the retry and update queues and the
// metrics counters. State writes are serialized through writeMu.
type Engine struct {
	config         core.Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	observer       *core.Observer
	errorMapper    core.ErrorMapper

	states       *core.StateStore
	crisis       *core.CrisisMode
	router       *webhooks.Router
	retries      *webhooks.RetryScheduler
	processor    *webhooks.Processor
	updates      *realtime.UpdateQueue
	gracePeriods *grace.Manager
	metrics      *core.WebhookMetricsRecorder
	ledger       core.ReplayLedger

	storage     core.Storage
	billingAPI  core.BillingAPI
	metricsSink core.MetricsSink
	accessCache core.FeatureAccessCache
	now         func() time.Time

	writeMu     sync.Mutex
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	tasks       *conc.WaitGroup
}

func NewEngine(cfg core.Config, opts ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("billing", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = core.MapError
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}

	finalConfig, err := core.ResolveConfig(
		context.Background(),
		builder.runtimeConfig,
		builder.configProvider,
		builder.optionsResolver,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	now := builder.now
	if now == nil {
		now = func() time.Time {
			return time.Now().UTC()
		}
	}
	observer := core.NewObserver(logger)

	router := webhooks.NewRouter()
	if builder.defaultHandlers {
		if err := webhooks.RegisterDefaultHandlers(router, builder.billingAPI); err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}
	for _, registration := range builder.handlers {
		if err := router.Register(registration.handler, registration.types...); err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	ledger := builder.replayLedger
	if ledger == nil {
		memory := core.NewMemoryReplayLedger(finalConfig.DedupTTL())
		memory.Now = now
		ledger = memory
	}

	crisis := core.NewCrisisMode()
	crisis.Now = now

	policy := builder.retryPolicy
	if policy == nil {
		policy = webhooks.FixedRetryPolicy{Delay: finalConfig.RetryDelay()}
	}
	retries := webhooks.NewRetryScheduler(policy, finalConfig.MaxRetryAttempts)
	retries.Now = now
	retries.DeadLetter = builder.deadLetters

	engine := &Engine{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		observer:       observer,
		errorMapper:    builder.errorMapper,
		states:         core.NewStateStore(),
		crisis:         crisis,
		router:         router,
		retries:        retries,
		metrics:        core.NewWebhookMetricsRecorder(builder.metricsRecorder),
		ledger:         ledger,
		storage:        builder.storage,
		billingAPI:     builder.billingAPI,
		metricsSink:    builder.metricsSink,
		accessCache:    builder.accessCache,
		now:            now,
	}

	engine.gracePeriods = grace.NewManager(engine.states, engine.computeAccess)
	engine.gracePeriods.Now = now

	engine.updates = realtime.NewUpdateQueue(engine)
	engine.updates.Observer = observer

	processor := webhooks.NewProcessor(finalConfig, router, engine)
	processor.Ledger = ledger
	processor.Classifier = webhooks.NewCrisisClassifier(crisis)
	processor.Retries = retries
	processor.Updates = engine.updates
	processor.Metrics = engine.metrics
	processor.Observer = observer
	processor.Now = now
	engine.processor = processor

	return engine, nil
}

func mapBuildError(mapper core.ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() core.Config {
	if e == nil {
		return core.Config{}
	}
	return e.config.Clone()
}

func (e *Engine) Logger() core.Logger {
	if e == nil {
		return nil
	}
	return e.logger
}

func (e *Engine) EventTypes() []string {
	return e.router.EventTypes()
}

// Process handles one inbound billing event. See webhooks.Processor for the
// result contract.
func (e *Engine) Process(ctx context.Context, event core.WebhookEvent) (core.BillingEventResult, error) {
	if e == nil {
		return core.BillingEventResult{}, core.InternalError("billingsync: engine is nil", nil)
	}
	return e.processor.Process(ctx, event)
}

// ProcessDueRetries redelivers retry items whose delay has elapsed.
func (e *Engine) ProcessDueRetries(ctx context.Context) ([]core.BillingEventResult, error) {
	return e.processor.ProcessDueRetries(ctx)
}

// DrainUpdates propagates every pending state update, crisis updates first.
func (e *Engine) DrainUpdates(ctx context.Context) realtime.DrainReport {
	report := e.updates.Drain(ctx)
	e.metrics.Count(ctx, core.MetricUpdatesDrained, int64(report.Drained), nil)
	return report
}

// SweepGracePeriods expires elapsed grace periods and refreshes the days
// remaining on the rest.
func (e *Engine) SweepGracePeriods(ctx context.Context) (grace.SweepReport, error) {
	e.writeMu.Lock()
	report, err := e.gracePeriods.Sweep()
	e.writeMu.Unlock()

	e.metrics.Count(ctx, core.MetricGracePeriodsExpired, int64(len(report.Expired)), nil)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, entry := range report.Expired {
		e.observer.Info(ctx, "grace period expired", map[string]any{
			"grace_period_id": entry.ID,
			"subscription_id": entry.SubscriptionID,
			"event_type":      entry.EventType,
		})
		e.invalidateAccess(ctx, entry.SubscriptionID)
		if persistErr := e.persist(ctx, entry.SubscriptionID); persistErr != nil {
			errs = append(errs, persistErr)
		}
	}
	return report, errors.Join(errs...)
}

// PurgeDedup drops expired dedup keys.
func (e *Engine) PurgeDedup(ctx context.Context) (int, error) {
	if e.ledger == nil {
		return 0, nil
	}
	return e.ledger.PurgeExpired(ctx)
}

func (e *Engine) PublishMetrics(ctx context.Context) error {
	if e.metricsSink == nil {
		return nil
	}
	return e.metricsSink.Publish(ctx, e.metrics.Snapshot())
}

// ActivateCrisisMode forces full feature access for every subscription until
// DeactivateCrisisMode is called. It reports whether the mode changed.
func (e *Engine) ActivateCrisisMode(ctx context.Context, reason string) bool {
	if !e.crisis.Activate(reason) {
		return false
	}
	e.observer.Warn(ctx, "crisis mode activated", map[string]any{"reason": reason})
	e.recomputeAccess(ctx)
	return true
}

func (e *Engine) DeactivateCrisisMode(ctx context.Context) bool {
	if !e.crisis.Deactivate() {
		return false
	}
	e.observer.Info(ctx, "crisis mode deactivated", nil)
	e.recomputeAccess(ctx)
	return true
}

func (e *Engine) CrisisMode() core.CrisisModeStatus {
	return e.crisis.Snapshot()
}

// Reset clears all owned state, including metrics and crisis mode.
func (e *Engine) Reset(ctx context.Context) error {
	e.writeMu.Lock()
	known := e.states.List()
	e.states.Reset()
	e.gracePeriods.Reset()
	e.retries.Reset()
	e.updates.Reset()
	e.metrics.Reset()
	e.crisis.Deactivate()
	var err error
	if e.ledger != nil {
		err = e.ledger.Reset(ctx)
	}
	e.writeMu.Unlock()

	for _, state := range known {
		e.invalidateAccess(ctx, state.SubscriptionID)
	}
	e.observer.Info(ctx, "billing engine reset", map[string]any{"subscriptions": len(known)})
	return err
}

func (e *Engine) Metrics() core.WebhookMetrics {
	return e.metrics.Snapshot()
}

func (e *Engine) State(subscriptionID string) (core.SubscriptionState, error) {
	state, ok := e.states.Get(strings.TrimSpace(subscriptionID))
	if !ok {
		return core.SubscriptionState{}, core.NotFoundError(
			fmt.Sprintf("billingsync: %s: %s", core.ErrSubscriptionNotFound, subscriptionID),
			map[string]any{"subscription_id": subscriptionID},
		)
	}
	return state, nil
}

func (e *Engine) States() []core.SubscriptionState {
	return e.states.List()
}

func (e *Engine) GracePeriods(subscriptionID string, activeOnly bool) []core.GracePeriodEntry {
	return e.gracePeriods.Entries(subscriptionID, activeOnly)
}

func (e *Engine) PendingRetries() []core.RetryItem {
	return e.retries.Pending()
}

func (e *Engine) PendingUpdates() []core.StateUpdate {
	return e.updates.Pending()
}

// FeatureAccess returns the access decision for a subscription, served from
// the feature access cache when one is configured. Crisis mode bypasses the
// cache.
func (e *Engine) FeatureAccess(ctx context.Context, subscriptionID string) (core.FeatureAccessSet, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if e.crisis.Active() {
		return core.FullFeatureAccess(), nil
	}
	fetch := func(context.Context) (core.FeatureAccessSet, error) {
		state, err := e.State(subscriptionID)
		if err != nil {
			return core.FeatureAccessSet{}, err
		}
		return e.computeAccess(state), nil
	}
	if e.accessCache == nil {
		return fetch(ctx)
	}
	return e.accessCache.Get(ctx, subscriptionID, fetch)
}

// Apply commits an accepted handler outcome. Crisis outcomes are forced to
// the crisis access tier with a crisis grace window.
func (e *Engine) Apply(
	ctx context.Context,
	event core.WebhookEvent,
	priority core.Priority,
	outcome core.HandlerOutcome,
) (core.SubscriptionUpdate, error) {
	crisis := priority == core.PriorityCrisis
	if !outcome.HasChange() {
		outcome.SubscriptionID = event.SubscriptionID()
	}
	subscriptionID := strings.TrimSpace(outcome.SubscriptionID)
	if subscriptionID == "" {
		if crisis {
			return emergencyUpdate(""), nil
		}
		return core.SubscriptionUpdate{Status: core.StatusUnchanged}, nil
	}
	outcome.SubscriptionID = subscriptionID

	state, created, err := e.commit(event, outcome, crisis)
	if err != nil {
		return core.SubscriptionUpdate{}, core.HandlerError(err, "billingsync: apply handler outcome failed", map[string]any{
			"event_id":        event.ID,
			"event_type":      event.Type,
			"subscription_id": subscriptionID,
		})
	}
	if created {
		e.metrics.RecordGraceActivation(ctx, event.Type)
	}
	e.invalidateAccess(ctx, subscriptionID)
	return updateFromState(state), nil
}

// ApplyEmergency grants crisis access from in-memory state only. It never
// fails; a subscription that cannot be written still gets the emergency
// result.
func (e *Engine) ApplyEmergency(ctx context.Context, event core.WebhookEvent) core.SubscriptionUpdate {
	subscriptionID := event.SubscriptionID()
	if subscriptionID == "" {
		return emergencyUpdate("")
	}
	state, created, err := e.commit(event, core.HandlerOutcome{
		SubscriptionID: subscriptionID,
		UserID:         event.UserID(),
	}, true)
	if err != nil {
		e.observer.Warn(ctx, "emergency state write failed", map[string]any{
			"event_id":        event.ID,
			"subscription_id": subscriptionID,
			"error":           err.Error(),
		})
		return emergencyUpdate(subscriptionID)
	}
	if created {
		e.metrics.RecordGraceActivation(ctx, event.Type)
	}
	return updateFromState(state)
}

func (e *Engine) commit(event core.WebhookEvent, outcome core.HandlerOutcome, crisis bool) (core.SubscriptionState, bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	now := e.clock()
	var (
		change  grace.Change
		created bool
	)
	state, err := e.states.Apply(outcome.SubscriptionID, func(s *core.SubscriptionState) error {
		if outcome.UserID != "" {
			s.UserID = outcome.UserID
		}
		if outcome.Status != "" {
			s.Status = outcome.Status
		}
		if outcome.Tier != nil && strings.TrimSpace(outcome.Tier.ID) != "" {
			s.Tier = *outcome.Tier
		}

		var stageErr error
		switch {
		case crisis:
			// A billing failure keeps its regular grace length; the crisis
			// window covers crisis events that open no grace of their own.
			window := e.config.CrisisGracePeriod()
			reason := "crisis event " + event.Type
			if outcome.Grace == core.GraceActionActivate {
				window = e.config.GracePeriod()
				reason = firstNonEmpty(outcome.GraceReason, event.Type)
			}
			underlying := s.Tier
			inCrisisWindow := s.Tier.ID == core.TierCrisisAccess && s.GraceActive()
			if inCrisisWindow && s.GracePeriod.RestoreTier != nil {
				underlying = *s.GracePeriod.RestoreTier
			}
			s.Tier = core.CrisisAccessTier()
			change, created, stageErr = e.gracePeriods.StageActivate(s, grace.ActivateRequest{
				UserID:      outcome.UserID,
				EventType:   event.Type,
				Reason:      reason,
				Duration:    window,
				RestoreTier: &underlying,
				Supersede:   s.GraceActive() && (!inCrisisWindow || s.GracePeriod.EndDate.Before(now.Add(window))),
			})
		case outcome.Grace == core.GraceActionActivate:
			change, created, stageErr = e.gracePeriods.StageActivate(s, grace.ActivateRequest{
				UserID:    outcome.UserID,
				EventType: event.Type,
				Reason:    firstNonEmpty(outcome.GraceReason, event.Type),
				Duration:  e.config.GracePeriod(),
			})
		case outcome.Grace == core.GraceActionResolve:
			change = e.gracePeriods.StageResolve(s)
		}
		if stageErr != nil {
			return stageErr
		}

		if crisis {
			s.FeatureAccess = core.FullFeatureAccess()
		} else {
			s.FeatureAccess = e.computeAccess(*s)
		}
		s.LastUpdated = now
		return nil
	})
	if err != nil {
		return core.SubscriptionState{}, false, err
	}
	e.gracePeriods.Commit(change)
	return state, created, nil
}

// ProcessUpdate propagates one drained StateUpdate: subscription updates
// resync from the billing API, payment updates drop cached access, and the
// resulting state is persisted.
func (e *Engine) ProcessUpdate(ctx context.Context, update core.StateUpdate) error {
	subscriptionID := strings.TrimSpace(update.SubscriptionID)
	if subscriptionID == "" {
		return nil
	}
	var errs []error
	if strings.HasPrefix(update.EventType, core.SubscriptionEventPrefix) {
		if err := e.resync(ctx, subscriptionID); err != nil {
			errs = append(errs, err)
		}
	}
	if core.IsPaymentEventType(update.EventType) {
		e.invalidateAccess(ctx, subscriptionID)
	}
	if err := e.persist(ctx, subscriptionID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) resync(ctx context.Context, subscriptionID string) error {
	if _, ok := e.states.Get(subscriptionID); !ok {
		if err := e.restore(ctx, subscriptionID); err != nil {
			return err
		}
	}

	var remote *core.RemoteSubscription
	if e.billingAPI != nil {
		fetched, err := e.billingAPI.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("billingsync: resync %s: %w", subscriptionID, err)
		}
		remote = &fetched
	}

	e.writeMu.Lock()
	current, ok := e.states.Get(subscriptionID)
	if !ok {
		e.writeMu.Unlock()
		return nil
	}
	next := current.Clone()
	if remote != nil {
		if remote.Status != "" {
			next.Status = remote.Status
		}
		crisisWindow := next.Tier.ID == core.TierCrisisAccess && next.GraceActive()
		if remote.Tier.ID != "" && !crisisWindow {
			next.Tier = remote.Tier
		}
	}
	next.FeatureAccess = e.computeAccess(next)
	changed := next.Status != current.Status || next.Tier != current.Tier || next.FeatureAccess != current.FeatureAccess
	if changed {
		_, err := e.states.Apply(subscriptionID, func(s *core.SubscriptionState) error {
			s.Status = next.Status
			s.Tier = next.Tier
			s.FeatureAccess = next.FeatureAccess
			s.LastUpdated = e.clock()
			return nil
		})
		if err != nil {
			e.writeMu.Unlock()
			return err
		}
	}
	e.writeMu.Unlock()

	if changed {
		e.invalidateAccess(ctx, subscriptionID)
	}
	return nil
}

func (e *Engine) restore(ctx context.Context, subscriptionID string) error {
	if e.storage == nil {
		return nil
	}
	payload, found, err := e.storage.Get(ctx, SnapshotKey(subscriptionID))
	if err != nil {
		return fmt.Errorf("billingsync: load snapshot %s: %w", subscriptionID, err)
	}
	if !found || len(payload) == 0 {
		return nil
	}
	var snapshot core.SubscriptionState
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("billingsync: decode snapshot %s: %w", subscriptionID, err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, ok := e.states.Get(subscriptionID); ok {
		return nil
	}
	if ref := snapshot.GracePeriod; ref != nil {
		entry := core.GracePeriodEntry{
			ID:             ref.ID,
			UserID:         snapshot.UserID,
			SubscriptionID: subscriptionID,
			StartDate:      ref.StartDate,
			EndDate:        ref.EndDate,
			Reason:         ref.Reason,
			Active:         ref.Active,
			DaysRemaining:  ref.DaysRemaining,
			FeatureAccess:  core.ConservativeFeatureAccess(),
			RestoreTier:    ref.RestoreTier,
		}
		e.gracePeriods.Restore(entry)
	}
	_, err = e.states.Apply(subscriptionID, func(s *core.SubscriptionState) error {
		*s = snapshot.Clone()
		s.SubscriptionID = subscriptionID
		return nil
	})
	return err
}

func (e *Engine) persist(ctx context.Context, subscriptionID string) error {
	if e.storage == nil {
		return nil
	}
	state, ok := e.states.Get(subscriptionID)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("billingsync: encode snapshot %s: %w", subscriptionID, err)
	}
	if err := e.storage.Set(ctx, SnapshotKey(subscriptionID), payload); err != nil {
		return fmt.Errorf("billingsync: persist snapshot %s: %w", subscriptionID, err)
	}
	return nil
}

func (e *Engine) recomputeAccess(ctx context.Context) {
	changed := []string{}
	e.writeMu.Lock()
	for _, state := range e.states.List() {
		access := e.computeAccess(state)
		if access == state.FeatureAccess {
			continue
		}
		_, err := e.states.Apply(state.SubscriptionID, func(s *core.SubscriptionState) error {
			s.FeatureAccess = access
			return nil
		})
		if err == nil {
			changed = append(changed, state.SubscriptionID)
		}
	}
	e.writeMu.Unlock()
	for _, subscriptionID := range changed {
		e.invalidateAccess(ctx, subscriptionID)
	}
}

func (e *Engine) invalidateAccess(ctx context.Context, subscriptionID string) {
	if e.accessCache == nil || strings.TrimSpace(subscriptionID) == "" {
		return
	}
	if err := e.accessCache.Invalidate(ctx, subscriptionID); err != nil {
		e.observer.Warn(ctx, "feature access cache invalidation failed", map[string]any{
			"subscription_id": subscriptionID,
			"error":           err.Error(),
		})
	}
}

func (e *Engine) computeAccess(state core.SubscriptionState) core.FeatureAccessSet {
	return core.ComputeFeatureAccess(state.Tier, state.GraceActive(), e.crisis.Active())
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now().UTC()
	}
	return time.Now().UTC()
}

func updateFromState(state core.SubscriptionState) core.SubscriptionUpdate {
	status := state.Status
	if status == "" {
		status = core.StatusUnchanged
	}
	return core.SubscriptionUpdate{
		SubscriptionID: state.SubscriptionID,
		Status:         status,
		Tier:           state.Tier,
		GracePeriod:    state.GraceActive(),
	}
}

func emergencyUpdate(subscriptionID string) core.SubscriptionUpdate {
	return core.SubscriptionUpdate{
		SubscriptionID: subscriptionID,
		Status:         core.StatusUnchanged,
		Tier:           core.CrisisAccessTier(),
		GracePeriod:    true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
