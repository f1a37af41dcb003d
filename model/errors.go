package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrUnknownTenant       = "UNKNOWN_TENANT"
	ErrConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrActivityTransient   = "ACTIVITY_TRANSIENT"
	ErrActivityPermanent   = "ACTIVITY_PERMANENT"
	ErrPublishFailure      = "PUBLISH_FAILURE"
	ErrNondeterminism      = "NONDETERMINISM"
)

// ErrorEnvelope is the typed error carried across the orchestration
// boundary. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf extracts the error code from err, or INTERNAL_ERROR when err is
// not an ErrorEnvelope.
func CodeOf(err error) string {
	var envelope *ErrorEnvelope
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ErrInternalError
}

// IsPermanent reports whether err should not be retried. Plain errors are
// treated as transient infrastructure failures; typed envelopes are
// permanent unless explicitly marked transient.
func IsPermanent(err error) bool {
	var envelope *ErrorEnvelope
	if !errors.As(err, &envelope) {
		return false
	}
	return envelope.Code != ErrActivityTransient
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewUnknownTenantError returns an UNKNOWN_TENANT error for a policy
// lookup miss. Fatal to the instance: the workflow routes it straight to
// the operations notification branch.
func NewUnknownTenantError(tenantID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownTenant,
		Message: fmt.Sprintf("no compliance policy configured for tenant %q", tenantID),
	}
}

// NewConcurrencyConflictError returns a CONCURRENCY_CONFLICT error for a
// history append that lost an optimistic-version race. The caller must
// retry the append; the event is never silently lost.
func NewConcurrencyConflictError(instanceID string, expectedSeq int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConcurrencyConflict,
		Message: fmt.Sprintf("history append for instance %q conflicts at seq %d", instanceID, expectedSeq),
	}
}

// NewActivityTransientError marks err as retriable under the invoker's
// backoff policy.
func NewActivityTransientError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrActivityTransient, Message: msg}
}

// NewActivityPermanentError returns an ACTIVITY_PERMANENT error recorded
// when retries are exhausted.
func NewActivityPermanentError(activity string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrActivityPermanent,
		Message: fmt.Sprintf("activity %q failed permanently: %v", activity, cause),
	}
}

// NewPublishFailureError returns a PUBLISH_FAILURE error.
func NewPublishFailureError(destination string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPublishFailure,
		Message: fmt.Sprintf("publish to %s failed: %v", destination, cause),
	}
}

// NewNondeterminismError returns a NONDETERMINISM error raised when a
// replayed workflow issues a different activity call than its history
// recorded.
func NewNondeterminismError(instanceID, recorded, called string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNondeterminism,
		Message: fmt.Sprintf("instance %q replay called %q where history recorded %q", instanceID, called, recorded),
	}
}
