package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/jaylingelbach/AbandonedHobby-sub004/internal/domain"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/httpx"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Healthz only
// reports process build metadata; Readyz delegates to the system service so
// dependency failures surface as 503s.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService injects the system service used for readiness checks.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo records build metadata reported by the probes.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()

	payload := map[string]any{
		"status":    string(domain.HealthStatusOK),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	if !h.build.StartedAt.IsZero() {
		payload["uptime"] = now.Sub(h.build.StartedAt).String()
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz probes dependencies through the system service and maps a degraded
// or erroring report to 503 so load balancers stop routing traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_report_failed", "failed to collect health report", http.StatusServiceUnavailable))
		return
	}

	payload := readinessPayload{
		Status:      string(report.Status),
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: formatTime(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.String()
	}

	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]readinessCheckPayload, len(report.Checks))
		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			check := report.Checks[name]
			payload.Checks[name] = readinessCheckPayload{
				Status:    string(check.Status),
				Detail:    strings.TrimSpace(check.Detail),
				LatencyMS: check.Latency.Milliseconds(),
			}
			if check.Status != domain.HealthStatusOK && check.Error != "" {
				payload.Details = append(payload.Details, fmt.Sprintf("%s: %s", name, check.Error))
			}
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

type readinessPayload struct {
	Status      string                           `json:"status"`
	Version     string                           `json:"version,omitempty"`
	CommitSHA   string                           `json:"commitSha,omitempty"`
	Environment string                           `json:"environment,omitempty"`
	Uptime      string                           `json:"uptime,omitempty"`
	Checks      map[string]readinessCheckPayload `json:"checks,omitempty"`
	Details     []string                         `json:"details,omitempty"`
	GeneratedAt string                           `json:"generatedAt,omitempty"`
}

type readinessCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs,omitempty"`
}
