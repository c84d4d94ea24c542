package webhooks

import (
	"context"
	"strings"

	"github.com/goliatone/go-billing-sync/core"
)

// SubscriptionLifecycleHandler maps subscription create/update events to
// status and tier changes. When the payload carries no tier and an API is
// configured the tier is looked up remotely.
type SubscriptionLifecycleHandler struct {
	API core.BillingAPI
}

func (SubscriptionLifecycleHandler) Name() string {
	return "subscription_lifecycle"
}

func (h SubscriptionLifecycleHandler) Handle(ctx context.Context, event core.WebhookEvent) (core.HandlerOutcome, error) {
	subscriptionID := event.SubscriptionID()
	outcome := core.HandlerOutcome{
		SubscriptionID: subscriptionID,
		UserID:         event.UserID(),
		Status:         event.ObjectString("status"),
	}
	if event.Type == core.EventSubscriptionPastDue && outcome.Status == "" {
		outcome.Status = core.StatusPastDue
	}
	tier, ok := TierFromObject(event.Data.Object)
	if !ok && h.API != nil && subscriptionID != "" {
		remote, err := h.API.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return core.HandlerOutcome{}, core.HandlerError(err, "webhooks: subscription lookup failed", map[string]any{
				"subscription_id": subscriptionID,
			})
		}
		if remote.Tier.ID != "" {
			tier, ok = remote.Tier, true
		}
		if outcome.Status == "" {
			outcome.Status = remote.Status
		}
	}
	if ok {
		outcome.Tier = &tier
	}
	switch outcome.Status {
	case core.StatusPastDue, core.StatusUnpaid:
		outcome.Grace = core.GraceActionActivate
		outcome.GraceReason = "subscription " + outcome.Status
	case core.StatusActive, core.StatusTrialing:
		outcome.Grace = core.GraceActionResolve
	}
	return outcome, nil
}

type SubscriptionCancellationHandler struct{}

func (SubscriptionCancellationHandler) Name() string {
	return "subscription_cancellation"
}

func (SubscriptionCancellationHandler) Handle(_ context.Context, event core.WebhookEvent) (core.HandlerOutcome, error) {
	return core.HandlerOutcome{
		SubscriptionID: event.SubscriptionID(),
		UserID:         event.UserID(),
		Status:         core.StatusCanceled,
		Grace:          core.GraceActionActivate,
		GraceReason:    "subscription canceled",
	}, nil
}

// PaymentFailureHandler moves the subscription to past_due and opens a
// grace window for any failed invoice, payment or payment-method event.
type PaymentFailureHandler struct{}

func (PaymentFailureHandler) Name() string {
	return "payment_failure"
}

func (PaymentFailureHandler) Handle(_ context.Context, event core.WebhookEvent) (core.HandlerOutcome, error) {
	outcome := core.HandlerOutcome{
		SubscriptionID: event.SubscriptionID(),
		UserID:         event.UserID(),
		Status:         core.StatusPastDue,
		Grace:          core.GraceActionActivate,
		GraceReason:    "payment failed",
		Metadata: map[string]any{
			"object_id": event.ObjectID(),
		},
	}
	if code := failureCode(event.Data.Object); code != "" {
		outcome.GraceReason = "payment failed: " + code
		outcome.Metadata["failure_code"] = code
	}
	return outcome, nil
}

type PaymentSuccessHandler struct{}

func (PaymentSuccessHandler) Name() string {
	return "payment_success"
}

func (PaymentSuccessHandler) Handle(_ context.Context, event core.WebhookEvent) (core.HandlerOutcome, error) {
	return core.HandlerOutcome{
		SubscriptionID: event.SubscriptionID(),
		UserID:         event.UserID(),
		Status:         core.StatusActive,
		Grace:          core.GraceActionResolve,
	}, nil
}

// PaymentMethodHandler records attach/detach events without touching the
// subscription status.
type PaymentMethodHandler struct{}

func (PaymentMethodHandler) Name() string {
	return "payment_method"
}

func (PaymentMethodHandler) Handle(_ context.Context, event core.WebhookEvent) (core.HandlerOutcome, error) {
	return core.HandlerOutcome{
		SubscriptionID: event.SubscriptionID(),
		UserID:         event.UserID(),
		Metadata: map[string]any{
			"payment_method_id": event.ObjectID(),
		},
	}, nil
}

func RegisterDefaultHandlers(router *Router, api core.BillingAPI) error {
	registrations := []struct {
		handler Handler
		types   []string
	}{
		{
			handler: SubscriptionLifecycleHandler{API: api},
			types: []string{
				core.EventSubscriptionCreated,
				core.EventSubscriptionUpdated,
				core.EventSubscriptionPastDue,
				core.EventSubscriptionTrialWillEnd,
			},
		},
		{
			handler: SubscriptionCancellationHandler{},
			types:   []string{core.EventSubscriptionDeleted},
		},
		{
			handler: PaymentFailureHandler{},
			types: []string{
				core.EventInvoicePaymentFailed,
				core.EventPaymentIntentFailed,
				core.EventPaymentMethodUpdateFailed,
				core.EventSetupIntentFailed,
			},
		},
		{
			handler: PaymentSuccessHandler{},
			types:   []string{core.EventInvoicePaymentSucceeded, core.EventPaymentIntentSucceeded},
		},
		{
			handler: PaymentMethodHandler{},
			types:   []string{core.EventPaymentMethodAttached, core.EventPaymentMethodDetached},
		},
	}
	for _, registration := range registrations {
		if err := router.Register(registration.handler, registration.types...); err != nil {
			return err
		}
	}
	return nil
}

// TierFromObject reads the tier from object metadata, falling back to the
// plan id.
func TierFromObject(object map[string]any) (core.Tier, bool) {
	if metadata, ok := object["metadata"].(map[string]any); ok {
		if id := metadataString(metadata, "tier"); id != "" {
			return core.Tier{ID: strings.ToLower(id), Name: metadataString(metadata, "tierName")}, true
		}
	}
	if plan, ok := object["plan"].(map[string]any); ok {
		id := metadataString(plan, "id")
		if id != "" {
			return core.Tier{ID: strings.ToLower(id), Name: metadataString(plan, "nickname")}, true
		}
	}
	return core.Tier{}, false
}

func failureCode(object map[string]any) string {
	if code := metadataString(object, "failure_code"); code != "" {
		return code
	}
	if lastErr, ok := object["last_payment_error"].(map[string]any); ok {
		return metadataString(lastErr, "code")
	}
	return ""
}

func metadataString(values map[string]any, key string) string {
	raw, ok := values[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw)
}
