package shared

import "errors"

// Error taxonomy shared by every lifecycle module. Services wrap these with
// fmt.Errorf("%s: %w", ...) so handlers can map them to HTTP statuses with
// errors.Is while keeping the human-readable reason.
var (
	// ErrValidation indicates malformed or out-of-range input. Raised before
	// any state mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the operation is disallowed by the entity's
	// current state.
	ErrConflict = errors.New("operation conflicts with current state")
	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserSafeMessage returns a message suitable for end users. Internal errors
// are collapsed to a generic message; taxonomy errors pass through verbatim.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidCredentials):
		return err.Error()
	default:
		return "an unexpected error occurred"
	}
}
