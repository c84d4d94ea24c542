package webhooks

import (
	"strings"

	"github.com/goliatone/go-billing-sync/core"
)

var defaultCrisisEventTypes = []string{
	core.EventSubscriptionDeleted,
	core.EventSubscriptionPastDue,
	core.EventInvoicePaymentFailed,
	core.EventPaymentIntentFailed,
	core.EventPaymentMethodUpdateFailed,
	core.EventSetupIntentFailed,
}

// CrisisClassifier labels events that must take the crisis deadline path.
type CrisisClassifier struct {
	types map[string]struct{}
	mode  *core.CrisisMode
}

func NewCrisisClassifier(mode *core.CrisisMode, extraTypes ...string) *CrisisClassifier {
	types := make(map[string]struct{}, len(defaultCrisisEventTypes)+len(extraTypes))
	for _, eventType := range append(append([]string{}, defaultCrisisEventTypes...), extraTypes...) {
		if eventType = strings.TrimSpace(eventType); eventType != "" {
			types[eventType] = struct{}{}
		}
	}
	return &CrisisClassifier{types: types, mode: mode}
}

func (c *CrisisClassifier) Classify(event core.WebhookEvent) core.Priority {
	if c == nil {
		return core.PriorityNormal
	}
	if c.mode.Active() {
		return core.PriorityCrisis
	}
	if _, ok := c.types[event.Type]; ok {
		return core.PriorityCrisis
	}
	if event.Type == core.EventSubscriptionUpdated {
		switch event.ObjectString("status") {
		case core.StatusPastDue, core.StatusUnpaid:
			return core.PriorityCrisis
		}
	}
	return core.PriorityNormal
}

func (c *CrisisClassifier) IsCrisisType(eventType string) bool {
	if c == nil {
		return false
	}
	_, ok := c.types[eventType]
	return ok
}
