package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Requests over the limit get a 429
// written by onLimit.
func RateLimit(requestsPerMinute int, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(onLimit),
	)
}

// RateLimitByHeader limits requests by the value of a header, for example
// the API key header, so one credential cannot starve the others.
// Requests without the header share the caller's IP bucket.
func RateLimitByHeader(headerName string, requestsPerMinute int, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if v := r.Header.Get(headerName); v != "" {
				return "h:" + v, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(onLimit),
	)
}
