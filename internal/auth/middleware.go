package auth

import (
	"net/http"
	"strings"

	"github.com/halcyon-id/halcyon-id/internal/platform/httpx"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// Attach decodes a Bearer access token when present and stores the user id
// in the request context. Requests without a usable token pass through
// anonymously; flows that must reject authenticated callers rely on this.
func (h *Handler) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := bearerToken(r); tokenString != "" {
			if userID, err := h.service.VerifyAccessToken(tokenString); err == nil {
				r = r.WithContext(shared.ContextWithUserID(r.Context(), userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a valid Bearer access token.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		userID, err := h.service.VerifyAccessToken(tokenString)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
