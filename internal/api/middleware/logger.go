package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	pkgmw "github.com/tars-dashboard/engine/pkg/middleware"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	// Logger and Telemetry share one wrapper
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Flush keeps event streams working behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logger returns structured request logging middleware.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		event := log.Info()
		if rw.statusCode >= 400 {
			event = log.Warn()
		}
		if rw.statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Int("bytes", rw.bytes).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Str("session", pkgmw.GetSessionID(r.Context())).
			Msg("request")
	})
}
