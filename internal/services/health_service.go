package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"tickerpulse/internal/pipeline"
	"tickerpulse/internal/session"
	"tickerpulse/internal/stream"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	workers   *pipeline.Registry
	sessions  *session.Registry
	hub       *stream.Hub
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a new health service with injected dependencies
func NewHealthService(version string, workers *pipeline.Registry, sessions *session.Registry, hub *stream.Hub, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		workers:   workers,
		sessions:  sessions,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "services.health")),
	}
}

// HealthCheck returns overall health with per-component detail. The
// service degrades, never errors: a misshapen pipeline reports down
// while sessions and stream still answer.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	status.Services["pipeline"] = hs.checkPipeline()
	status.Services["sessions"] = hs.checkSessions()
	status.Services["stream"] = hs.checkStream()

	for _, svc := range status.Services {
		if sh, ok := svc.(ServiceHealth); ok && sh.Status != "up" {
			status.Status = "degraded"
			break
		}
	}

	hs.logger.DebugContext(ctx, "health check completed",
		slog.String("status", status.Status))
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	return map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
}

func (hs *HealthService) checkPipeline() ServiceHealth {
	if hs.workers == nil {
		return ServiceHealth{Status: "down", Message: "worker registry not configured"}
	}
	if err := hs.workers.ValidateShape(); err != nil {
		return ServiceHealth{Status: "down", Message: err.Error()}
	}
	return ServiceHealth{
		Status:  "up",
		Message: fmt.Sprintf("%d workers registered", hs.workers.Count()),
	}
}

func (hs *HealthService) checkSessions() ServiceHealth {
	if hs.sessions == nil {
		return ServiceHealth{Status: "down", Message: "session registry not configured"}
	}
	return ServiceHealth{
		Status:  "up",
		Message: fmt.Sprintf("%d resident sessions", hs.sessions.Count()),
	}
}

func (hs *HealthService) checkStream() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "down", Message: "stream hub not configured"}
	}
	return ServiceHealth{
		Status: "up",
		Message: fmt.Sprintf("%d clients, %d subscribed sessions",
			hs.hub.ClientCount(), hs.hub.SessionCount()),
	}
}
