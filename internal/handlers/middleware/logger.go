package middleware

import (
	"net/http"
	"time"
)

type logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// LoggerMiddleware writes one access log line per request. Server errors are logged as warnings
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			// Query is not logged, it may carry user data
			fields := []any{
				"method", r.Method,
				"uri", r.URL.Path,
				"remote", clientAddr(r),
				"duration", time.Since(start),
				"status", rec.status,
				"size", rec.bytes,
			}

			log := l.Info
			msg := "got HTTP request"
			if rec.status >= http.StatusInternalServerError {
				log, msg = l.Warn, "HTTP request failed"
			}
			log(msg, fields...)
		})
	}
}
