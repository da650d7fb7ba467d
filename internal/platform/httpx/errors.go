// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", "request already processed")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
