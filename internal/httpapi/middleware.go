package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AuthMiddleware gates the admin endpoints behind a bearer token, per
// section 4.9: admin and contribution endpoints are separate trust
// domains, so only the admin subrouter carries this. Grounded on the
// teacher's AuthMiddleware (internal/admin-api/middleware.go), simplified
// from JWT claims to a single shared-secret token since the design does
// not call for per-operator identity.
func AuthMiddleware(token string, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != token {
				log.Warn("httpapi: admin auth rejected", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "AUTH_INVALID", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Debug("httpapi: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
