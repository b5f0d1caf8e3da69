package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-quests/internal/api/shared"
	"github.com/phrazzld/scry-quests/internal/service/auth"
	"github.com/phrazzld/scry-quests/internal/service/progress"
	"github.com/phrazzld/scry-quests/internal/store"
)

var (
	// ErrUnauthorized indicates a request reached a handler without an
	// authenticated user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidID indicates a malformed path identifier.
	ErrInvalidID = fmt.Errorf("%w: invalid id", progress.ErrValidation)
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing their text.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, auth.ErrMissingUserID):
		return http.StatusUnauthorized

	case errors.Is(err, progress.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, progress.ErrConflict),
		errors.Is(err, store.ErrVersionConflict),
		store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, progress.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case MapErrorToStatusCode(err) == http.StatusUnauthorized:
		return "Invalid token"

	case errors.Is(err, progress.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, progress.ErrAssignmentNotFound),
		errors.Is(err, store.ErrAssignmentNotFound):
		return "Assignment not found"

	case errors.Is(err, progress.ErrConflict),
		errors.Is(err, store.ErrVersionConflict):
		return "The assignment was updated concurrently, please retry"
	case store.IsDuplicateError(err):
		return "Resource already exists"

	case errors.Is(err, progress.ErrInvalidDelta):
		return "Delta must be a positive integer"
	case errors.Is(err, progress.ErrNotClaimed):
		return "Task has not been claimed"
	case errors.Is(err, progress.ErrOutsidePublishWindow):
		return "Task is not currently available"
	case errors.Is(err, progress.ErrProgressNotMet):
		return "Task progress has not reached its target"
	case errors.Is(err, progress.ErrInvalidFilter):
		return "Invalid filter"
	case errors.Is(err, ErrInvalidID):
		return "Invalid ID"
	case errors.Is(err, progress.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"

	default:
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return SanitizeValidationError(err)
		}
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response for err. fallback replaces the
// generic message of unmapped (500) errors when non-empty.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}

	var opts []shared.ResponseOption
	if progress.IsRetryable(err) || errors.Is(err, store.ErrVersionConflict) {
		opts = append(opts, shared.WithRetryable())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}

// HandleValidationError writes a 400 response for a request that failed
// decoding or struct validation.
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
}

// SanitizeValidationError turns validator output into "Invalid <field>: <reason>"
// without echoing rejected values.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	if errors.Is(err, shared.ErrEmptyBody) {
		return "Request body is required"
	}
	return "Invalid request body"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "gt", "gte", "min":
		return "too small"
	case "lt", "lte", "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
