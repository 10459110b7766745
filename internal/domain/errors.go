package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes carried by AppError.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeGovernanceBlocked   = "GOVERNANCE_BLOCKED"
	CodeGovernanceEscalated = "GOVERNANCE_ESCALATED"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg}
}

func ErrGovernanceBlocked(action string, reasons []string) *AppError {
	return &AppError{Code: CodeGovernanceBlocked, Message: fmt.Sprintf("%s blocked: %v", action, reasons)}
}

func ErrGovernanceEscalated(action, escalateTo string) *AppError {
	return &AppError{Code: CodeGovernanceEscalated, Message: fmt.Sprintf("%s escalated to %s", action, escalateTo)}
}

func ErrUnavailable(msg string) *AppError {
	return &AppError{Code: CodeUnavailable, Message: msg}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Cause: cause}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// InvalidStateTransitionError is returned when a command is not legal in the
// aggregate's current lifecycle status. It is never retried.
type InvalidStateTransitionError struct {
	Current   string
	Attempted string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s is not allowed from %s", e.Attempted, e.Current)
}

// UnknownVersion is the Actual of a conflict caught by the (aggregate_id,
// version) unique constraint. The failed insert aborts the transaction, so the
// winning version cannot be read back on it.
const UnknownVersion = -1

// ConcurrencyConflictError is returned when the persisted version of an aggregate
// differs from the version the writer expected. Actual is UnknownVersion when
// the unique constraint, not the version check, caught the conflict.
type ConcurrencyConflictError struct {
	AggregateID uuid.UUID
	Expected    int
	Actual      int
}

// ActualKnown reports whether Actual holds a persisted version.
func (e *ConcurrencyConflictError) ActualKnown() bool { return e.Actual != UnknownVersion }

func (e *ConcurrencyConflictError) Error() string {
	if !e.ActualKnown() {
		return fmt.Sprintf("concurrency conflict on %s: version %d already taken", e.AggregateID, e.Expected+1)
	}
	return fmt.Sprintf("concurrency conflict on %s: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

// CurrencyMismatchError is returned by Money arithmetic across currencies.
type CurrencyMismatchError struct {
	Expected string
	Actual   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// IsConcurrencyConflict reports whether err is or wraps a ConcurrencyConflictError.
func IsConcurrencyConflict(err error) bool {
	var cc *ConcurrencyConflictError
	return errors.As(err, &cc)
}

// IsInvalidStateTransition reports whether err is or wraps an InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var ist *InvalidStateTransitionError
	return errors.As(err, &ist)
}
