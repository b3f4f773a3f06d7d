package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/thermo/internal/auth"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the coarse per-IP cap for unauthenticated auth endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP throttles requests per client IP. This sits in front of the
// per-identifier lockout in the auth service and only stops floods.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUser throttles authenticated requests per username, falling
// back to the client IP when the gate has not run.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if username := auth.UsernameFromContext(r.Context()); username != "" {
				return "user:" + username, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	retry := 60
	if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil && v > 0 {
		retry = v
	}
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", retry)
}
