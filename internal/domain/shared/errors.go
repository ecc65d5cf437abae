// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "card", "session", "progress", "sync"
	Op      string // Operation that failed, e.g., "Decode", "Submit"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Card domain errors
var (
	ErrUnknownCardKind    = NewDomainError("card", "Decode", ErrInvalidFormat, "unknown card kind")
	ErrInvalidCardPayload = NewDomainError("card", "Validate", ErrInvalidInput, "invalid card payload")
	ErrInvalidPlan        = NewDomainError("card", "NewSessionPlan", ErrInvalidInput, "invalid session plan")
)

// Session domain errors
var (
	ErrAnswerIncomplete = NewDomainError("session", "Submit", ErrValidation, "answer is not submittable for this card")
	ErrCardNotResolved  = NewDomainError("session", "Advance", ErrInvalidState, "current card is not resolved")
	ErrArtifactUngraded = NewDomainError("session", "Submit", ErrInvalidState, "recorded answer has no transcription to grade")
)

// Progress domain errors
var (
	ErrInvalidModuleID   = NewDomainError("progress", "Validate", ErrInvalidID, "invalid module ID")
	ErrMalformedSnapshot = NewDomainError("progress", "Decode", ErrInvalidFormat, "malformed progress snapshot")
)

// Remote gateway errors
var (
	ErrGatewayUnavailable = NewDomainError("gateway", "Request", ErrServiceUnavailable, "progress gateway is unavailable")
	ErrGatewayRateLimited = NewDomainError("gateway", "Request", ErrRateLimited, "progress gateway rate limit exceeded")
	ErrGatewayTimeout     = NewDomainError("gateway", "Request", ErrTimeout, "progress gateway request timeout")
)

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsDataError reports whether err is a contract violation in stored or received data.
func IsDataError(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
