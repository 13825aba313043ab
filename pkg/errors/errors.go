package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// The closed set of rejection reasons for an inbound delivery. Every
// pipeline stage fails with one of these; the HTTP boundary maps them
// to a status exactly once. SENDER_MISMATCH and TICKET_NOT_FOUND carry
// deliberately generic messages so a prober cannot tell "ticket exists
// but wrong sender" from "ticket absent".
var (
	ErrInvalidSignature  = NewError("INVALID_SIGNATURE", "webhook signature verification failed", http.StatusUnauthorized)
	ErrStaleRequest      = NewError("STALE_REQUEST", "webhook timestamp outside the accepted window", http.StatusUnauthorized)
	ErrMalformedPayload  = NewError("MALFORMED_PAYLOAD", "payload is missing required fields or could not be parsed", http.StatusBadRequest)
	ErrNoTicketReference = NewError("NO_TICKET_REFERENCE", "recipient address does not match the expected ticket-{id}@{reply-domain} format", http.StatusBadRequest)
	ErrTicketNotFound    = NewError("TICKET_NOT_FOUND", "ticket not found", http.StatusNotFound)
	ErrSenderMismatch    = NewError("SENDER_MISMATCH", "sender is not permitted to reply to this ticket", http.StatusForbidden)
	ErrRateLimited       = NewError("RATE_LIMITED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternal          = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		// If it's not our error type, wrap it
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
