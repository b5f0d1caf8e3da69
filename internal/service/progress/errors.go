package progress

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-quests/internal/domain"
)

// Error handling principles:
//  1. Expected conditions are sentinel errors checked with errors.Is.
//  2. Unexpected failures are wrapped in a ServiceError naming the operation.
//  3. The API layer maps the sentinel families to HTTP status codes.
var (
	// ErrValidation is the family of input and state-precondition failures.
	// It is the same sentinel the domain uses, so domain validation errors
	// match it as well.
	ErrValidation = domain.ErrValidation

	// ErrNotFound is the family of missing or invisible resources.
	ErrNotFound = errors.New("not found")

	// ErrTaskNotFound indicates the task does not exist, is disabled or is
	// not published.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrAssignmentNotFound indicates the assignment does not exist or
	// belongs to another user.
	ErrAssignmentNotFound = fmt.Errorf("%w: assignment", ErrNotFound)

	// ErrConflict indicates concurrent writers kept winning the version race
	// until retries ran out. The request can be retried as is.
	ErrConflict = errors.New("concurrent update conflict")

	ErrInvalidDelta         = fmt.Errorf("%w: delta must be positive", ErrValidation)
	ErrInvalidUser          = fmt.Errorf("%w: user ID is required", ErrValidation)
	ErrInvalidFilter        = fmt.Errorf("%w: invalid filter", ErrValidation)
	ErrNotClaimed           = fmt.Errorf("%w: not claimed", ErrValidation)
	ErrOutsidePublishWindow = fmt.Errorf("%w: task is outside its publish window", ErrValidation)
	ErrProgressNotMet       = fmt.Errorf("%w: progress not met", ErrValidation)
)

// ServiceError wraps unexpected failures of the engine with the operation
// that failed.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "claim_task", "report_progress")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// resultLabel classifies err for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
