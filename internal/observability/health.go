package observability

import (
	"context"
	"time"
)

// Health levels for the service health endpoint.
const (
	LevelHealthy  = "healthy"
	LevelDegraded = "degraded"
)

// ComponentCheck probes one subsystem and returns an error when it is down.
type ComponentCheck func(ctx context.Context) error

// HealthReport is the /health response body.
type HealthReport struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	UptimeSecs int64             `json:"uptime_seconds"`
	Components map[string]string `json:"components"`
}

// HealthChecker aggregates component probes into one service-level status.
// Any failing component degrades the overall status without failing the
// endpoint; orchestration decides what degraded means.
type HealthChecker struct {
	version string
	start   time.Time
	checks  map[string]ComponentCheck
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		start:   time.Now(),
		checks:  make(map[string]ComponentCheck),
	}
}

// Register adds a named component probe.
func (h *HealthChecker) Register(name string, check ComponentCheck) {
	h.checks[name] = check
}

// Report runs every probe with a short per-probe timeout.
func (h *HealthChecker) Report(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     LevelHealthy,
		Version:    h.version,
		UptimeSecs: int64(time.Since(h.start).Seconds()),
		Components: make(map[string]string, len(h.checks)),
	}

	for name, check := range h.checks {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(probeCtx)
		cancel()
		if err != nil {
			report.Status = LevelDegraded
			report.Components[name] = err.Error()
			continue
		}
		report.Components[name] = LevelHealthy
	}
	return report
}
