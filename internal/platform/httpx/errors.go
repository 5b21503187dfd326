package httpx

import (
	"errors"
	"net/http"

	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// RespondError maps the closed set of domain error kinds to HTTP responses
// using RFC7807. Unknown errors never leak details to the client.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusBadRequest, "Invalid Credentials", "invalid credentials")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", "request was throttled")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
