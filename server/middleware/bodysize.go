package middleware

import "net/http"

// DefaultMaxBodySize bounds request bodies. The API only accepts small JSON
// documents.
const DefaultMaxBodySize = 1 << 20

// BodySizeLimit caps request bodies at max bytes. A non-positive max uses
// DefaultMaxBodySize.
func BodySizeLimit(max int64) Middleware {
	if max <= 0 {
		max = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
