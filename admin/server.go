// Package admin serves the worker's ops surface: health, job stats, and
// Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/jobs"
	"github.com/pairworks/pairworker/telemetry"
)

// StatsProvider exposes the runner's counters to the stats endpoint.
type StatsProvider interface {
	Stats() jobs.Stats
}

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the router. A non-empty secret gates every endpoint
// except /healthz behind PSK auth.
func NewServer(bindAddress string, port int, secret string, stats StatsProvider) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(secret))
		r.Get("/stats", handleStats(stats))
		if handler := telemetry.GetMetricsHandler(); handler != nil {
			r.Handle("/metrics", handler)
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(bindAddress, fmt.Sprintf("%d", port)),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("Admin server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin server shutdown failed")
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleStats(stats StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if stats == nil {
			_ = json.NewEncoder(w).Encode(jobs.Stats{})
			return
		}
		_ = json.NewEncoder(w).Encode(stats.Stats())
	}
}
