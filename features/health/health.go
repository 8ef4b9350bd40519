// Package health reports the liveness of every external dependency.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"studyrag/internal/httpx"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	Version = "1.0.0"
)

// Check pings one dependency. A nil error means healthy.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type ServiceStatus struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	LatencyMs *float64 `json:"latency_ms"`
	Message   string   `json:"message"`
}

type Report struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
	Services  []ServiceStatus `json:"services"`
}

type Handler struct {
	checks  []Check
	timeout time.Duration
}

func NewHandler(timeout time.Duration, checks ...Check) *Handler {
	return &Handler{checks: checks, timeout: timeout}
}

// Run pings all dependencies concurrently. Any failure degrades the report;
// it is unhealthy only when every dependency fails.
func (h *Handler) Run(ctx context.Context) Report {
	statuses := make([]ServiceStatus, len(h.checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range h.checks {
		g.Go(func() error {
			statuses[i] = h.ping(gctx, c)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	overall := StatusHealthy
	failed := 0
	for _, s := range statuses {
		if s.Status != StatusHealthy {
			overall = StatusDegraded
			failed++
		}
	}
	if len(statuses) > 0 && failed == len(statuses) {
		overall = StatusUnhealthy
	}

	return Report{Status: overall, Timestamp: time.Now().UTC(), Version: Version, Services: statuses}
}

func (h *Handler) ping(ctx context.Context, c Check) ServiceStatus {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "health check failed", "service", c.Name, "error", err)
		return ServiceStatus{Name: c.Name, Status: StatusUnhealthy, Message: err.Error()}
	}
	latency := float64(time.Since(start).Microseconds()) / 1000
	return ServiceStatus{Name: c.Name, Status: StatusHealthy, LatencyMs: &latency, Message: "OK"}
}

// ServeHTTP handles GET /health. It always answers 200; callers read the status field.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(r.Context(), w, http.StatusOK, h.Run(r.Context()))
}
