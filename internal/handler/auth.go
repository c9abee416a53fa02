package handler

import (
	"net/http"

	"github.com/xenking/shop-checkout/internal/domain/auth"
)

// API keys are accepted in either header.
const (
	headerAPIKey  = "api_key"
	headerXAPIKey = "X-API-Key"
)

func apiKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	return r.Header.Get(headerXAPIKey)
}

// requireScope authenticates the request's API key and rejects keys without
// scope. The key identity is stored in the request context.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			info, err := h.auth.Authenticate(ctx, apiKeyFromRequest(r))
			if err != nil {
				mapError(w, r, err)
				return
			}
			if !info.HasScope(scope) {
				mapError(w, r, auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithKey(ctx, info)))
		})
	}
}
