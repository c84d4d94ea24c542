package query

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-billing-sync/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestGetSubscriptionStateMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetSubscriptionStateMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.BillingErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.BillingErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 code, got %d", rich.Code)
	}
	fields := rich.AllValidationErrors()
	if len(fields) == 0 || fields[0].Field != "subscription_id" {
		t.Fatalf("expected subscription_id field error, got %#v", fields)
	}
}

func TestGetSubscriptionStateQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetSubscriptionStateQuery
	_, err := q.Query(context.Background(), GetSubscriptionStateMessage{SubscriptionID: "sub_1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.BillingErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.BillingErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 code, got %d", rich.Code)
	}
}
