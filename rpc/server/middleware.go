package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"bucketdb/rpc/client"
)

// authorized wraps a handler with the API-key check. The key travels
// in the X-API-Key header; replication traffic authenticates with the
// shared replication secret through the same header.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.validator.Validate(r.Header.Get(client.APIKeyHeader)) {
			writeJSON(w, http.StatusUnauthorized, envelope{Error: "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// responseWriter is a custom ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs every request with a generated request id.
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		rw.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(rw, r)

		log.Debug("request handled",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"took", time.Since(start))
	})
}
