// Package httpapi implements the external HTTP interface from section 6
// of the design: JSON contribution create/status endpoints, CLI-equivalent
// admin endpoints, and /health. Grounded on the teacher's admin-api server
// (gorilla/mux routing from internal/event-hooks, bearer-token middleware
// adapted from internal/admin-api/middleware.go).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the HTTP front door: contribution ingest, admin, and health.
type Server struct {
	router *mux.Router
	http   *http.Server
	log    *zap.Logger
}

// Config carries the server's listen address and admin auth token.
type Config struct {
	ListenAddr      string
	AdminToken      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ContribTimeout  time.Duration
}

// NewServer wires every route. ingest/admin/health are the three handler
// groups; nil groups are simply not mounted (used by tests that only
// exercise one surface).
func NewServer(cfg Config, ingest *IngestHandlers, admin *AdminHandlers, health *HealthHandlers, log *zap.Logger) *Server {
	r := mux.NewRouter()

	if ingest != nil {
		ir := r.PathPrefix("/ingest/v1").Subrouter()
		ir.HandleFunc("/contrib", ingest.CreateSync).Methods(http.MethodPost)
		ir.HandleFunc("/contrib/async", ingest.CreateAsync).Methods(http.MethodPost)
		ir.HandleFunc("/contrib/{id}", ingest.Status).Methods(http.MethodGet)
		ir.HandleFunc("/contrib/{id}", ingest.Cancel).Methods(http.MethodDelete)
	}

	if admin != nil {
		ar := r.PathPrefix("/admin/v1").Subrouter()
		ar.Use(AuthMiddleware(cfg.AdminToken, log))
		ar.HandleFunc("/stats", admin.Stats).Methods(http.MethodGet)
		ar.HandleFunc("/databases", admin.ListDatabases).Methods(http.MethodGet)
		ar.HandleFunc("/databases/{name}", admin.RegisterDatabase).Methods(http.MethodPut)
		ar.HandleFunc("/databases/{name}", admin.UnregisterDatabase).Methods(http.MethodDelete)
	}

	if health != nil {
		r.HandleFunc("/health", health.Check).Methods(http.MethodGet)
	}

	s := &Server{router: r, log: log}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(log)(r),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router exposes the mux for tests (httptest.NewServer(s.Router())).
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) ListenAndServe() error {
	s.log.Info("httpapi: listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
