// Package api is the optional HTTP sidecar: the operator event feed on
// /ws, the Prometheus scrape endpoint on /metrics, and /healthz. The
// sidecar only runs when a listen address is configured; the tool surface
// itself stays on stdio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/internal/websocket"
)

// Config carries the sidecar settings.
type Config struct {
	ListenAddr string
	Version    string
}

// Server is the sidecar HTTP server.
type Server struct {
	cfg     Config
	hub     *websocket.Hub
	httpSrv *http.Server
	started time.Time
}

// New builds the sidecar over the given hub and Prometheus gatherer.
func New(cfg Config, hub *websocket.Hub, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("HTTP sidecar listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP sidecar shutdown")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"version":       s.cfg.Version,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"wsClients":     s.hub.ClientCount(),
	})
}
