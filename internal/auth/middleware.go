package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/shared"
)

// Authenticate requires an "Authorization: Bearer" header naming a live
// session and stores that session in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			httpx.RespondError(w, r, shared.ErrUnauthorized)
			return
		}
		sess, err := h.service.Resolve(r.Context(), bearer)
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthorized) {
				h.logger.Error("resolve session", slog.Any("error", err))
			}
			httpx.RespondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
