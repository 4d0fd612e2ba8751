package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Component statuses reported by Health.
const (
	StatusHealthy  = "healthy"
	StatusStarting = "starting"
	StatusDegraded = "degraded"
	StatusStopped  = "stopped"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	GetStatus() map[string]string
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health tracks the status of named components. The process is ready once
// every registered component is healthy.
type Health struct {
	mu         sync.RWMutex
	components map[string]string
	alive      bool
}

// NewHealth creates a live checker with no components.
func NewHealth() *Health {
	return &Health{components: make(map[string]string), alive: true}
}

// Set records the status of a component.
func (h *Health) Set(component, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[component] = status
}

// SetAlive marks the process as live or not.
func (h *Health) SetAlive(alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = alive
}

// Liveness reports whether the process should keep running.
func (h *Health) Liveness() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.alive
}

// Readiness reports whether every component is healthy.
func (h *Health) Readiness(ctx context.Context) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.alive || ctx.Err() != nil {
		return false
	}
	for _, status := range h.components {
		if status != StatusHealthy {
			return false
		}
	}
	return true
}

// GetStatus returns a copy of the component statuses.
func (h *Health) GetStatus() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.components))
	for k, v := range h.components {
		out[k] = v
	}
	return out
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
