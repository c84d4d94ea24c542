package webhooks

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-billing-sync/core"
)

// EventValidator rejects structurally malformed events before they reach
// the dedup ledger or any handler.
type EventValidator struct {
	validate *validator.Validate
}

func NewEventValidator() *EventValidator {
	return &EventValidator{validate: validator.New()}
}

func (v *EventValidator) Validate(event core.WebhookEvent) error {
	if v == nil || v.validate == nil {
		v = NewEventValidator()
	}
	fields := []string{}
	if err := v.validate.Struct(event); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return core.ValidationError("webhooks: event validation failed: "+err.Error(), nil)
		}
		for _, fieldErr := range validationErrs {
			fields = append(fields, fieldErr.Namespace()+":"+fieldErr.Tag())
		}
	}
	if strings.TrimSpace(event.ID) == "" && !containsPrefix(fields, "WebhookEvent.ID") {
		fields = append(fields, "WebhookEvent.ID:blank")
	}
	if strings.TrimSpace(event.Type) == "" && !containsPrefix(fields, "WebhookEvent.Type") {
		fields = append(fields, "WebhookEvent.Type:blank")
	}
	if len(fields) == 0 {
		return nil
	}
	return core.ValidationError("webhooks: malformed event", map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"fields":     fields,
	})
}

func containsPrefix(values []string, prefix string) bool {
	for _, value := range values {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
