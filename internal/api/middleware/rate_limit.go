package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"stockr/internal/pkg/errors"
)

// WriteLimiter sheds load on mutating endpoints. One shared token bucket is
// enough here; the service has no per-tenant isolation to preserve.
type WriteLimiter struct {
	limiter *rate.Limiter
}

func NewWriteLimiter(perSecond float64, burst int) *WriteLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = int(perSecond)
	}
	return &WriteLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *WriteLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			errors.WriteError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many write requests, slow down")
			return
		}
		next(w, r)
	}
}
