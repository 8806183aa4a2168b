// Package server exposes the operational HTTP surface: a liveness
// endpoint and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/leakwatch/internal/metrics"
)

// shutdownTimeout bounds how long in-flight requests may delay teardown.
const shutdownTimeout = 5 * time.Second

// Config holds ops server configuration.
type Config struct {
	Port int
}

// Server serves GET /health and GET /metrics.
type Server struct {
	cfg     Config
	metrics *metrics.Metrics
	httpSrv *http.Server
}

// New creates the ops server.
func New(cfg Config, m *metrics.Metrics) *Server {
	s := &Server{cfg: cfg, metrics: m}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", m.Handler())
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve listens on the configured port and blocks until ctx is cancelled
// or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	logrus.Infof("ops server listening on %s", lis.Addr())
	return s.ServeOn(ctx, lis)
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: s.metrics.Uptime().Seconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
