package gologger

import (
	"context"
	"testing"

	"github.com/goliatone/go-billing-sync/core"
	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("billing", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}
	if provider.requested != "billing" {
		t.Fatalf("expected billing logger name, got %q", provider.requested)
	}

	resolvedProvider, resolved = Resolve("", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("billing", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestResolveDefaultsBlankName(t *testing.T) {
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}
	Resolve("  ", provider, nil)
	if provider.requested != DefaultLoggerName {
		t.Fatalf("expected default logger name %q, got %q", DefaultLoggerName, provider.requested)
	}
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	_, _, jobProvider, jobLogger := ResolveForJob("billing", provider, nil)
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	if jobLogger == nil {
		t.Fatalf("expected go-job logger bridge")
	}

	bridged := jobProvider.GetLogger("billing")
	bridged.Info("dead letter redriven", "retry_id", "retry_1")

	captured := providerLogger.lastInfo
	if captured.msg != "dead letter redriven" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "retry_id" || captured.args[1] != "retry_1" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

func TestForEventAttachesEventFields(t *testing.T) {
	logger := &capturingLogger{id: "fields"}
	scoped := ForEvent(logger, core.WebhookEvent{
		ID:   "evt_1",
		Type: core.EventInvoicePaymentFailed,
		Data: core.EventData{Object: map[string]any{"subscription": "sub_1"}},
	})
	got, ok := scoped.(*capturingLogger)
	if !ok {
		t.Fatalf("expected fields logger, got %T", scoped)
	}
	if got.fields["event_id"] != "evt_1" || got.fields["subscription_id"] != "sub_1" {
		t.Fatalf("unexpected fields: %#v", got.fields)
	}
	if got.fields["event_type"] != core.EventInvoicePaymentFailed {
		t.Fatalf("expected event type field, got %#v", got.fields)
	}

	if ForEvent(nil, core.WebhookEvent{}) == nil {
		t.Fatalf("expected nop logger for nil input")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.FieldsLogger   = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger    *capturingLogger
	requested string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if p == nil {
		return glog.Nop()
	}
	p.requested = name
	if p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
	fields   map[string]any
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *capturingLogger) WithFields(fields map[string]any) glog.Logger {
	clone := *l
	clone.fields = map[string]any{}
	for key, value := range l.fields {
		clone.fields[key] = value
	}
	for key, value := range fields {
		clone.fields[key] = value
	}
	return &clone
}
