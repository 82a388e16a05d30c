package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"challenge-engine/internal/metrics"
)

// statusRecorder captures the first status code written
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status != 0 {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// MetricsMiddleware records request count and latency under endpoint. Server
// errors are also logged with the caller, if Auth ran first.
func MetricsMiddleware(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			duration := time.Since(start)
			statusStr := strconv.Itoa(rec.status)
			metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusStr).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(endpoint, statusStr).Observe(duration.Seconds())

			if rec.status >= http.StatusInternalServerError {
				user, _ := UserFrom(r.Context())
				slog.Warn("Request returned server error",
					"endpoint", endpoint,
					"status", rec.status,
					"user_id", user.ID,
					"duration_ms", duration.Milliseconds())
			}
		})
	}
}

// WrapHandler wraps a HandlerFunc with MetricsMiddleware
func WrapHandler(endpoint string, handler http.HandlerFunc) http.Handler {
	return MetricsMiddleware(endpoint)(handler)
}
