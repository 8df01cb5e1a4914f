package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"worktracker/internal/logfields"
)

const requestIDHeader = "X-Request-ID"

// LoggingMiddleware logs every request with its status and duration, tags it
// with a request ID and turns handler panics into 500s.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				slog.Error("HTTP handler panic",
					slog.Any("panic", err),
					logfields.Method(r.Method),
					logfields.Path(r.URL.Path),
					logfields.RequestID(id))
				if !wrapped.written {
					http.Error(wrapped, "internal server error", http.StatusInternalServerError)
				}
			}
			slog.Info("HTTP request",
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path),
				slog.Int("code", wrapped.statusCode),
				logfields.DurationMS(float64(time.Since(start).Microseconds())/1000),
				logfields.RequestID(id))
		}()
		next.ServeHTTP(wrapped, r)
	})
}

// responseWriter captures status codes for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}
