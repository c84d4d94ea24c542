package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSubscriptionNotFound  = errors.New("core: subscription state not found")
	ErrGracePeriodNotFound   = errors.New("core: grace period not found")
	ErrRetryItemNotFound     = errors.New("core: retry item not found")
	ErrInvalidGraceWindow    = errors.New("core: grace period end date precedes start date")
	ErrSubscriptionIDMissing = errors.New("core: subscription id is required")
)

const (
	EventSubscriptionCreated       = "customer.subscription.created"
	EventSubscriptionUpdated       = "customer.subscription.updated"
	EventSubscriptionDeleted       = "customer.subscription.deleted"
	EventSubscriptionPastDue       = "customer.subscription.past_due"
	EventSubscriptionTrialWillEnd  = "customer.subscription.trial_will_end"
	EventInvoicePaymentSucceeded   = "invoice.payment_succeeded"
	EventInvoicePaymentFailed      = "invoice.payment_failed"
	EventPaymentIntentSucceeded    = "payment_intent.succeeded"
	EventPaymentIntentFailed       = "payment_intent.payment_failed"
	EventPaymentMethodAttached     = "payment_method.attached"
	EventPaymentMethodDetached     = "payment_method.detached"
	EventPaymentMethodUpdateFailed = "payment_method.automatic_updated_failed"
	EventSetupIntentFailed         = "setup_intent.setup_failed"
)

const (
	SubscriptionEventPrefix = "customer.subscription."
)

// PaymentEventPrefixes tag events whose processing invalidates cached
// feature-access decisions.
var PaymentEventPrefixes = []string{"invoice.", "payment_intent.", "payment_method.", "setup_intent.", "charge."}

type Priority string

const (
	PriorityCrisis Priority = "crisis"
	PriorityNormal Priority = "normal"
)

const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusPastDue    = "past_due"
	StatusUnpaid     = "unpaid"
	StatusCanceled   = "canceled"
	StatusIncomplete = "incomplete"
	StatusUnchanged  = "unchanged"
)

const (
	TierBasic        = "basic"
	TierPremium      = "premium"
	TierCrisisAccess = "crisis_access"
	TierFree         = "free"
)

type Tier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func CrisisAccessTier() Tier {
	return Tier{ID: TierCrisisAccess, Name: "Crisis Access"}
}

func (t Tier) normalizedID() string {
	return strings.TrimSpace(strings.ToLower(t.ID))
}

type EventData struct {
	Object             map[string]any `json:"object" validate:"required,min=1"`
	PreviousAttributes map[string]any `json:"previous_attributes,omitempty"`
}

// WebhookEvent is a signature-verified billing lifecycle event. The engine
// never mutates a received event.
type WebhookEvent struct {
	ID      string    `json:"id" validate:"required"`
	Type    string    `json:"type" validate:"required"`
	Created int64     `json:"created" validate:"required,gt=0"`
	Data    EventData `json:"data"`
}

func (e WebhookEvent) ObjectID() string {
	return stringValue(e.Data.Object, "id")
}

func (e WebhookEvent) UserID() string {
	metadata, ok := e.Data.Object["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"userId", "user_id"} {
		if value := stringValue(metadata, key); value != "" {
			return value
		}
	}
	return ""
}

// SubscriptionID resolves the subscription an event refers to. Subscription
// events carry it as the object id, invoices as the subscription field and
// payment objects through metadata.
func (e WebhookEvent) SubscriptionID() string {
	if strings.HasPrefix(e.Type, SubscriptionEventPrefix) {
		return e.ObjectID()
	}
	if value := stringValue(e.Data.Object, "subscription"); value != "" {
		return value
	}
	if metadata, ok := e.Data.Object["metadata"].(map[string]any); ok {
		for _, key := range []string{"subscriptionId", "subscription_id"} {
			if value := stringValue(metadata, key); value != "" {
				return value
			}
		}
	}
	return ""
}

func (e WebhookEvent) ObjectString(key string) string {
	return stringValue(e.Data.Object, key)
}

func (e WebhookEvent) IsSubscriptionEvent() bool {
	return strings.HasPrefix(e.Type, SubscriptionEventPrefix)
}

func IsPaymentEventType(eventType string) bool {
	for _, prefix := range PaymentEventPrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// DedupKey fingerprints a delivery as type_objectID_created.
func DedupKey(event WebhookEvent) string {
	return fmt.Sprintf("%s_%s_%d", event.Type, event.ObjectID(), event.Created)
}

type SubscriptionUpdate struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
	Tier           Tier   `json:"tier"`
	GracePeriod    bool   `json:"gracePeriod"`
}

type ResultError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type BillingEventResult struct {
	Processed          bool                `json:"processed"`
	EventID            string              `json:"eventId"`
	EventType          string              `json:"eventType"`
	ProcessingTime     int64               `json:"processingTime"`
	CrisisOverride     bool                `json:"crisisOverride"`
	Deduplicated       bool                `json:"deduplicated,omitempty"`
	SubscriptionUpdate *SubscriptionUpdate `json:"subscriptionUpdate,omitempty"`
	Error              *ResultError        `json:"error,omitempty"`
}

type RetryItem struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	DedupKey    string    `json:"dedupKey"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LastError   string    `json:"lastError"`
	ScheduledAt time.Time `json:"scheduledAt"`
	NextRetryAt time.Time `json:"nextRetryAt"`
}

type StateUpdate struct {
	ID             string    `json:"id"`
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	Timestamp      time.Time `json:"timestamp"`
	SubscriptionID string    `json:"subscriptionId"`
	Priority       Priority  `json:"priority"`
	Processed      bool      `json:"processed"`
}

type GracePeriodEntry struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	SubscriptionID string           `json:"subscriptionId"`
	EventType      string           `json:"eventType"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	Reason         string           `json:"reason"`
	Active         bool             `json:"active"`
	DaysRemaining  int              `json:"daysRemaining"`
	FeatureAccess  FeatureAccessSet `json:"featureAccess"`
	ExpiredAt      *time.Time       `json:"expiredAt,omitempty"`
	// RestoreTier is the tier a crisis override replaced. It is put back
	// when the entry expires.
	RestoreTier *Tier `json:"restoreTier,omitempty"`
}

func (g GracePeriodEntry) Validate() error {
	if strings.TrimSpace(g.SubscriptionID) == "" {
		return ErrSubscriptionIDMissing
	}
	if g.EndDate.Before(g.StartDate) {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidGraceWindow, g.StartDate, g.EndDate)
	}
	return nil
}

// GracePeriodRef is the subscription-facing view of the active grace entry.
type GracePeriodRef struct {
	ID            string    `json:"id"`
	Active        bool      `json:"active"`
	StartDate     time.Time `json:"startDate"`
	EndDate       time.Time `json:"endDate"`
	DaysRemaining int       `json:"daysRemaining"`
	Reason        string    `json:"reason"`
	RestoreTier   *Tier     `json:"restoreTier,omitempty"`
}

func (g GracePeriodEntry) Ref() *GracePeriodRef {
	return &GracePeriodRef{
		ID:            g.ID,
		Active:        g.Active,
		StartDate:     g.StartDate,
		EndDate:       g.EndDate,
		DaysRemaining: g.DaysRemaining,
		Reason:        g.Reason,
		RestoreTier:   cloneTier(g.RestoreTier),
	}
}

func cloneTier(tier *Tier) *Tier {
	if tier == nil {
		return nil
	}
	out := *tier
	return &out
}

type SubscriptionState struct {
	SubscriptionID string           `json:"subscriptionId"`
	UserID         string           `json:"userId,omitempty"`
	Status         string           `json:"status"`
	Tier           Tier             `json:"tier"`
	GracePeriod    *GracePeriodRef  `json:"gracePeriod"`
	FeatureAccess  FeatureAccessSet `json:"featureAccess"`
	LastUpdated    time.Time        `json:"lastUpdated"`
}

func (s SubscriptionState) GraceActive() bool {
	return s.GracePeriod != nil && s.GracePeriod.Active
}

func (s SubscriptionState) Clone() SubscriptionState {
	out := s
	if s.GracePeriod != nil {
		ref := *s.GracePeriod
		ref.RestoreTier = cloneTier(s.GracePeriod.RestoreTier)
		out.GracePeriod = &ref
	}
	return out
}

type GraceAction string

const (
	GraceActionNone     GraceAction = ""
	GraceActionActivate GraceAction = "activate"
	GraceActionResolve  GraceAction = "resolve"
)

// HandlerOutcome describes the state change a handler wants applied. Nothing
// is written until the engine accepts the outcome.
type HandlerOutcome struct {
	SubscriptionID string
	UserID         string
	Status         string
	Tier           *Tier
	Grace          GraceAction
	GraceReason    string
	Metadata       map[string]any
}

func (o HandlerOutcome) HasChange() bool {
	return strings.TrimSpace(o.SubscriptionID) != ""
}

type WebhookMetrics struct {
	TotalProcessed          int64     `json:"totalProcessed"`
	CrisisProcessed         int64     `json:"crisisProcessed"`
	CrisisFallbacks         int64     `json:"crisisFallbacks"`
	ProcessingFailures      int64     `json:"processingFailures"`
	ValidationFailures      int64     `json:"validationFailures"`
	DuplicatesSkipped       int64     `json:"duplicatesSkipped"`
	RetriesScheduled        int64     `json:"retriesScheduled"`
	GracePeriodActivations  int64     `json:"gracePeriodActivations"`
	AverageProcessingTimeMs float64   `json:"averageProcessingTimeMs"`
	LastProcessedAt         time.Time `json:"lastProcessedAt,omitempty"`
}

func stringValue(values map[string]any, key string) string {
	if len(values) == 0 {
		return ""
	}
	raw, ok := values[key]
	if !ok || raw == nil {
		return ""
	}
	switch typed := raw.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		return stringValue(typed, "id")
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
