// Package health provides the bridge's status HTTP endpoints.
//
// Docker and Kubernetes probe /healthz and /readyz to monitor the daemon;
// /statusz exposes the pipeline counters so operators can watch ingestion,
// drops and forward failures without log scraping.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/proyecto-redes/puente/internal/bridge"
)

// Server is a lightweight HTTP server exposing the status endpoints.
type Server struct {
	port   int
	ready  atomic.Bool
	stats  func() bridge.StatsSnapshot
	server *http.Server
}

// New creates a status server. stats supplies the counter snapshot served
// by /statusz.
func New(port int, stats func() bridge.StatsSnapshot) *Server {
	return &Server{port: port, stats: stats}
}

// SetReady marks the bridge as running and ready.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ListenAndServe starts the status HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleReadiness)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	mux.HandleFunc("GET /statusz", s.handleStatus)

	// Swagger UI — serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("status server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// handleReadiness reports liveness/readiness.
//
// @Summary     Bridge readiness
// @Description Returns 200 once the bridge has an acknowledged broker subscription, 503 otherwise.
// @Tags        status
// @Produce     json
// @Success     200  {object}  map[string]string
// @Failure     503  {object}  map[string]string
// @Router      /readyz [get]
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus serves the pipeline counters.
//
// @Summary     Bridge pipeline counters
// @Description Message counts by outcome: received, decode errors, backpressure drops, forwarded, forward failures, and current queue depth.
// @Tags        status
// @Produce     json
// @Success     200  {object}  bridge.StatsSnapshot
// @Router      /statusz [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats())
}
