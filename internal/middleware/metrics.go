package middleware

import (
	"net/http"
	"time"
)

// RequestObserver records finished HTTP requests.
type RequestObserver interface {
	RequestStarted()
	RequestFinished(status int, elapsed time.Duration)
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			obs.RequestStarted()

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r)

			obs.RequestFinished(wrapped.statusCode, time.Since(start))
		})
	}
}
