package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware logs one line per request and attaches a request-scoped logger
// to the context for the handlers downstream.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLogger := logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})

			next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))

			fields := map[string]interface{}{
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
				"remote":     r.RemoteAddr,
			}
			if ww.Status() >= http.StatusInternalServerError {
				reqLogger.Error("request failed", fields)
				return
			}
			reqLogger.Info("request completed", fields)
		})
	}
}
