package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves Prometheus metrics and health checks on a dedicated port.
type Server struct {
	server *http.Server
	addr   string
	db     Pinger
}

// NewServer creates the operational HTTP server. db may be nil, in
// which case /healthz only reports process liveness.
func NewServer(addr string, db Pinger) *Server {
	s := &Server{addr: addr, db: db}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body><h1>FlarePage</h1><p><a href="/metrics">Metrics</a> | <a href="/healthz">Health</a></p></body></html>`))
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			status = fmt.Sprintf("storage unreachable: %v", err)
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Start starts the operational server.
func (s *Server) Start() error {
	log.Printf("ops server listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the operational server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("shutting down ops server")
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}
