// Package server implements the HTTP servers for health checks, metrics
// and the timeline API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config/dto"
)

// Server represents the health/API and metrics HTTP servers.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *zap.Logger
}

// NewServer creates the servers. The metrics server is omitted when
// metrics are disabled; api may be nil.
func NewServer(cfg dto.ObservabilityConfig, healthChecker HealthChecker, api *API, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+cfg.Health.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+cfg.Health.ReadinessPath, ReadinessHandler(healthChecker, logger))
	if api != nil {
		api.Register(healthMux)
	}

	// No write timeout: the stream endpoint holds connections open.
	s := &Server{
		healthServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           healthMux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}
	return s
}

// Handler returns the health and API handler.
func (s *Server) Handler() http.Handler {
	return s.healthServer.Handler
}

// Start starts the servers in the background.
func (s *Server) Start() {
	for _, srv := range s.servers() {
		go func(srv *http.Server) {
			s.logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("HTTP server failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}(srv)
	}
}

func (s *Server) servers() []*http.Server {
	if s.metricsServer == nil {
		return []*http.Server{s.healthServer}
	}
	return []*http.Server{s.healthServer, s.metricsServer}
}

// Shutdown gracefully shuts down the servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := s.servers()
	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			errChan <- srv.Shutdown(ctx)
		}(srv)
	}

	var lastErr error
	for range servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
