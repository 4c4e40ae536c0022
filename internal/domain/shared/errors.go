// Package shared contains the error kinds and domain events used across all
// progression domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Check them with errors.Is().
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is the invalid-argument kind: bad dates, unknown
	// ratings, negative amounts, unknown condition types.
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidState           = errors.New("invalid state")
	ErrAlreadyProcessed       = errors.New("already processed")
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrResourceExhausted aborts batch jobs: the store refuses further work
	// (connection pool exhausted, quota hit).
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCriticalFailure means a batch could not even start.
	ErrCriticalFailure = errors.New("critical failure")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progress", "streak", "achievement"
	Op      string // operation that failed, e.g. "ApplyXP"
	Kind    error  // base kind for errors.Is() checking
	Message string
	Err     error // underlying error (optional)
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

// Is matches either the kind or the wrapped error.
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

// InvalidInput is shorthand for an ErrInvalidInput domain error.
func InvalidInput(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Progress domain errors
var (
	ErrUserProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "user progress not found")
	ErrDuplicateTransaction = NewDomainError("progress", "CommitXP", ErrAlreadyExists, "xp transaction already recorded")
	ErrStaleProgress        = NewDomainError("progress", "CommitXP", ErrConcurrentModification, "user progress changed since read")
)

// Streak domain errors
var (
	ErrStreakNotFound       = NewDomainError("streak", "Find", ErrNotFound, "streak data not found")
	ErrStreakDateRecorded   = NewDomainError("streak", "AppendHistory", ErrAlreadyExists, "streak history already has this date")
	ErrStreakDateOutOfOrder = NewDomainError("streak", "AppendHistory", ErrInvalidInput, "streak date is not after last recorded date")
	ErrStaleStreak          = NewDomainError("streak", "UpdateStreak", ErrConcurrentModification, "streak changed since read")
)

// Daily goal errors
var (
	ErrDailyGoalNotMet       = NewDomainError("activity", "AwardDailyGoalXP", ErrInvalidState, "daily goal not met")
	ErrDailyGoalAlreadyAward = NewDomainError("activity", "AwardDailyGoalXP", ErrAlreadyProcessed, "daily goal xp already awarded")
)

// Achievement domain errors
var (
	ErrAchievementNotFound   = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrUnknownConditionType  = NewDomainError("achievement", "ParseCondition", ErrInvalidInput, "unknown condition type")
	ErrUnknownMetric         = NewDomainError("achievement", "EvaluateMetric", ErrInvalidInput, "unknown custom metric")
	ErrAchievementDefinition = NewDomainError("achievement", "Validate", ErrInvalidInput, "invalid achievement definition")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is an invalid-argument error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConcurrentModification checks for optimistic concurrency conflicts.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsResourceExhausted checks if the store refused further work.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
