package handler

import "net/http"

// defaultMaxBodyBytes bounds request bodies on the fiscal API.
const defaultMaxBodyBytes = 1 << 20

// MaxBodyMiddleware caps the request body size. Reads past the limit fail
// with *http.MaxBytesError, which handleServiceError maps to 413.
func MaxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
