package httpapi

import (
	"net/http"

	"golang.org/x/time/rate"
)

// corsMiddleware allows all origins, methods, and headers (spec §6: "the
// bridge is expected to sit behind an authenticating gateway").
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeadersMiddleware sets a baseline of response headers that are
// hygiene, not authentication (spec §13: carried regardless of the
// authentication Non-goal).
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// RateLimiter wraps a per-process token bucket, in the shape of
// web/handlers/middleware.go's RateLimiter but applied globally rather than
// per remote address, since the bridge has no user/session concept to key
// on (§10's ambient rate limiter, a Non-goal as a product feature).
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter sustaining reqPerSec with the given burst.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst)}
}

// rateLimitMiddleware rejects requests once the limiter's budget is
// exhausted. A nil RateLimiter disables the check entirely.
func rateLimitMiddleware(rl *RateLimiter, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
