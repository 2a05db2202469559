package middleware

import (
	"net/http"
	"time"

	"taskboard-project/microservices/api-service/logging"

	"github.com/sirupsen/logrus"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Logger returns the request-scoped log entry.
func Logger(r *http.Request) *logrus.Entry {
	entry := logrus.NewEntry(logging.Logger)
	if id := GetRequestID(r.Context()); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// AccessLog logs one line per request once the response is written.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		entry := Logger(r)

		entry.Debugf("Event ID: REQUEST_START, Description: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(wrapped, r)

		fields := entry.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   r.RemoteAddr,
		})
		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			fields.Error("Event ID: REQUEST_FAILED, Description: Request completed with a server error")
		case wrapped.statusCode >= http.StatusBadRequest:
			fields.Warn("Event ID: REQUEST_REJECTED, Description: Request completed with a client error")
		default:
			fields.Info("Event ID: REQUEST_COMPLETED, Description: Request completed")
		}
	})
}
