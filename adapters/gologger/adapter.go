package gologger

import (
	"strings"

	"github.com/goliatone/go-billing-sync/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultLoggerName = "billing"

// Resolve uses deterministic precedence provider > logger > nop. A blank
// name resolves the billing logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns the go-job bridges used
// by dead-letter workers.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// ForEvent scopes logger to a webhook event. Loggers without field support
// are returned unchanged.
func ForEvent(logger glog.Logger, event core.WebhookEvent) glog.Logger {
	if logger == nil {
		return glog.Nop()
	}
	fieldsLogger, ok := logger.(glog.FieldsLogger)
	if !ok {
		return logger
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}
	if subscriptionID := event.SubscriptionID(); subscriptionID != "" {
		fields["subscription_id"] = subscriptionID
	}
	return fieldsLogger.WithFields(fields)
}
