package handlers

import (
	"net/http"
	"strings"

	"github.com/agoramall/orders-api/internal/platform/httpx"
	"github.com/agoramall/orders-api/internal/platform/requestctx"
)

// Trusted identity headers injected by the upstream auth layer. This service
// never validates credentials itself; the gateway strips client-supplied
// copies of these headers before forwarding.
const (
	headerUserID   = "X-User-ID"
	headerTenantID = "X-Tenant-ID"
)

// RequireIdentity extracts the caller identity from trusted headers and puts
// it on the request context. Requests without both headers are rejected.
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(headerUserID))
			tenantID := strings.TrimSpace(r.Header.Get(headerTenantID))
			if userID == "" || tenantID == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "caller identity headers are required", http.StatusUnauthorized))
				return
			}
			ctx := requestctx.WithIdentity(r.Context(), requestctx.Identity{
				UserID:   userID,
				TenantID: tenantID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
