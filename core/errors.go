package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BillingErrorValidationFailed = "BILLING_VALIDATION_FAILED"
	BillingErrorDuplicateEvent   = "BILLING_DUPLICATE_EVENT"
	BillingErrorHandlerTimeout   = "BILLING_HANDLER_TIMEOUT"
	BillingErrorHandlerFailed    = "BILLING_HANDLER_FAILED"
	BillingErrorRetryExhausted   = "BILLING_RETRY_EXHAUSTED"
	BillingErrorCrisisFallback   = "BILLING_CRISIS_FALLBACK"
	BillingErrorBadInput         = "BILLING_BAD_INPUT"
	BillingErrorConflict         = "BILLING_CONFLICT"
	BillingErrorNotFound         = "BILLING_NOT_FOUND"
	BillingErrorRateLimited      = "BILLING_RATE_LIMITED"
	BillingErrorExternalFailure  = "BILLING_EXTERNAL_FAILURE"
	BillingErrorInternal         = "BILLING_INTERNAL_ERROR"
)

func ValidationError(message string, metadata map[string]any) *goerrors.Error {
	return billingError(message, goerrors.CategoryValidation, http.StatusBadRequest, BillingErrorValidationFailed, metadata)
}

func BadInputError(message string, metadata map[string]any) *goerrors.Error {
	return billingError(message, goerrors.CategoryBadInput, http.StatusBadRequest, BillingErrorBadInput, metadata)
}

func ConflictError(message string, metadata map[string]any) *goerrors.Error {
	return billingError(message, goerrors.CategoryConflict, http.StatusConflict, BillingErrorConflict, metadata)
}

func NotFoundError(message string, metadata map[string]any) *goerrors.Error {
	return billingError(message, goerrors.CategoryNotFound, http.StatusNotFound, BillingErrorNotFound, metadata)
}

func InternalError(message string, metadata map[string]any) *goerrors.Error {
	return billingError(message, goerrors.CategoryInternal, http.StatusInternalServerError, BillingErrorInternal, metadata)
}

func TimeoutError(source error, message string, metadata map[string]any) *goerrors.Error {
	return wrapBillingError(source, goerrors.CategoryOperation, message, http.StatusGatewayTimeout, BillingErrorHandlerTimeout, metadata)
}

func HandlerError(source error, message string, metadata map[string]any) *goerrors.Error {
	return wrapBillingError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, BillingErrorHandlerFailed, metadata)
}

func RetryExhaustedError(source error, message string, metadata map[string]any) *goerrors.Error {
	return wrapBillingError(source, goerrors.CategoryOperation, message, http.StatusServiceUnavailable, BillingErrorRetryExhausted, metadata).
		WithSeverity(goerrors.SeverityError)
}

func billingError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapBillingError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return billingError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// HasTextCode reports whether err carries the given billing text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// ResultErrorFrom converts an error into the result envelope annotation.
func ResultErrorFrom(err error, retryable bool) *ResultError {
	if err == nil {
		return nil
	}
	mapped := MapError(err)
	return &ResultError{
		Code:      mapped.TextCode,
		Message:   mapped.Message,
		Retryable: retryable,
	}
}

// MapError normalises any error into the billing error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBillingErrorEnvelope(richErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(err, err.Error(), nil)
	}
	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrGracePeriodNotFound), errors.Is(err, ErrRetryItemNotFound):
		return NotFoundError(err.Error(), nil)
	case errors.Is(err, ErrInvalidGraceWindow), errors.Is(err, ErrSubscriptionIDMissing):
		return BadInputError(err.Error(), nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return BadInputError(err.Error(), nil)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return TimeoutError(err, err.Error(), nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBillingErrorEnvelope(mapped)
}

func ensureBillingErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = billingHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBillingTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBillingTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryValidation:
		return BillingErrorValidationFailed
	case goerrors.CategoryBadInput:
		return BillingErrorBadInput
	case goerrors.CategoryNotFound:
		return BillingErrorNotFound
	case goerrors.CategoryConflict:
		return BillingErrorConflict
	case goerrors.CategoryExternal:
		return BillingErrorHandlerFailed
	default:
		return BillingErrorInternal
	}
}

func billingHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
