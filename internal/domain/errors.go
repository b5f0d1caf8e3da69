// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// Entity-specific validation errors wrap it.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is returned when a status change would leave a
	// terminal state or move backwards through the assignment lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalAssignment is returned by transition helpers invoked on an
	// assignment that is already completed or expired.
	ErrTerminalAssignment = errors.New("assignment is in a terminal state")

	// ErrInvalidPayload is returned when a stored structured value cannot be decoded.
	ErrInvalidPayload = errors.New("invalid payload")
)
