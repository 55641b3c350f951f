package auth

import (
	"log/slog"
	"net/http"

	"github.com/arenabench/agentbox/pkg/observability"
	"github.com/arenabench/agentbox/pkg/storage"
)

// Middleware wraps handlers with chain authentication, optional rate
// limiting, and tenant injection. Paths on the bypass list skip all of it.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := authenticate(w, r, chain)
			if !ok {
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.ServiceTier).Inc()
					writeAuthError(w, `{"error":{"type":"too_many_requests","message":"rate limit exceeded"}}`, http.StatusTooManyRequests)
					return
				}
			}

			ctx := SetIdentity(r.Context(), id)

			// Tenant scoping for the run ledger.
			if tenantID := id.TenantID(); tenantID != "" {
				ctx = storage.SetTenant(ctx, tenantID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate runs the chain and writes the failure response itself.
// It returns the identity and true only on a usable Yes vote.
func authenticate(w http.ResponseWriter, r *http.Request, chain *Chain) (*Identity, bool) {
	result := chain.Authenticate(r.Context(), r)

	switch {
	case result.Decision == No:
		slog.Warn("authentication failed",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"error", result.Err,
		)
		writeAuthError(w, `{"error":{"type":"invalid_request","message":"authentication required"}}`, http.StatusUnauthorized)
		return nil, false

	case result.Decision != Yes || result.Identity == nil:
		writeAuthError(w, `{"error":{"type":"invalid_request","message":"authentication required"}}`, http.StatusUnauthorized)
		return nil, false

	case result.Identity.Subject == "":
		// A Yes vote must carry a usable identity.
		slog.Error("authenticator returned identity with empty subject")
		writeAuthError(w, `{"error":{"type":"server_error","message":"internal authentication error"}}`, http.StatusInternalServerError)
		return nil, false
	}

	slog.Debug("authentication succeeded", "subject", result.Identity.Subject, "path", r.URL.Path)
	return result.Identity, true
}

func writeAuthError(w http.ResponseWriter, body string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// DefaultBypassEndpoints lists paths that never require authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/metrics"}
