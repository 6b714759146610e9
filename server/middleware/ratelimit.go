package middleware

import (
	"net"
	"net/http"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/resilience"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests with 429 once the caller's bucket is empty.
func RateLimit(limiter *resilience.KeyedRateLimiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !limiter.Allow(k) {
				writeError(w, errors.RateLimited().WithDetail("client", k))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
