package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metrics"
)

// KeyFromContext extracts the rate limit key from the request context.
// This function type allows decoupling from the auth package.
type KeyFromContext func(ctx context.Context) (key string, ok bool)

// RateLimitMiddleware returns middleware that enforces per-caller rate limits.
func RateLimitMiddleware(limiter *RateLimiter, keyOf KeyFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyOf(r.Context())
			if !ok {
				// Unauthenticated requests are rejected before this point
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(key) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(key)
				logging.Debug("rate limited", zap.String("key", key), zap.Int("retry_after", retryAfter))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error":  "rate limit exceeded",
					"code":   "RATE_LIMITED",
					"status": http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
