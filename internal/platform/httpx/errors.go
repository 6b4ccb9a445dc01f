// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/danmu-hub/console/internal/locale"
	"github.com/danmu-hub/console/internal/permissions"
	"github.com/danmu-hub/console/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Guard
// denials are localized from the request's Accept-Language.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	detail := shared.UserSafeMessage(err)
	switch {
	case permissions.IsDenial(err):
		Problem(w, http.StatusForbidden, "Forbidden", locale.Denial(locale.Match(r.Header.Get("Accept-Language")), err))
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", detail)
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", detail)
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", detail)
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", detail)
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
	case errors.Is(err, shared.ErrRateLimited):
		Problem(w, http.StatusTooManyRequests, "Too Many Requests", detail)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
