package middleware

import (
	"net/http"
	"time"
)

type requestRecorder interface {
	RecordHTTPRequest(statusCode int, duration time.Duration)
}

// MetricsMiddleware reports status and latency of every request
func MetricsMiddleware(m requestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			m.RecordHTTPRequest(rec.status, time.Since(start))
		})
	}
}
