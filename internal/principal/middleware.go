package principal

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/danmu-hub/console/internal/platform/httpx"
	"github.com/danmu-hub/console/internal/shared"
)

// Middleware resolves the session placed in the context by the auth layer
// into a Principal. Requests without a session are rejected.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := shared.SessionFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, r, shared.ErrUnauthorized)
			return
		}
		p, err := s.Load(r.Context(), sess.UserID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.RespondError(w, r, shared.ErrUnauthorized)
				return
			}
			s.logger.Error("load principal", slog.Int64("user_id", sess.UserID), slog.Any("error", err))
			httpx.RespondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Require returns middleware rejecting principals for which allow is false.
func Require(allow func(Principal) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				httpx.RespondError(w, r, shared.ErrUnauthorized)
				return
			}
			if err := allow(p); err != nil {
				httpx.RespondError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
