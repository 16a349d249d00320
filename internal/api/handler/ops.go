// Package handler provides the HTTP handlers of the schedule API.
package handler

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/opentaqwa/opentaqwa/internal/api/models"
	"github.com/opentaqwa/opentaqwa/internal/api/response"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

// SnapshotSource exposes the current engine state.
type SnapshotSource interface {
	Snapshot() engine.Snapshot
}

// OpsConfig holds configuration for the ops handler.
type OpsConfig struct {
	Version   string
	BuildTime string
	Engine    SnapshotSource
	Registry  *resilience.Registry

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	engine    SnapshotSource
	registry  *resilience.Registry
	clock     func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	registry := cfg.Registry
	if registry == nil {
		registry = resilience.NewRegistry()
	}

	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		engine:    cfg.Engine,
		registry:  registry,
		clock:     clock,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once a
// schedule has been loaded; a failed later refresh only degrades it.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if !snap.HasSchedule() {
		response.ServiceUnavailable(w, r, "prayer schedule not loaded yet", 5)
		return
	}

	status := models.HealthStatusOK
	if snap.Status == engine.StatusError {
		status = models.HealthStatusDegraded
	}
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: status,
		Time:   models.Timestamp(h.clock()),
	})
}

// SystemStatus handles GET /v1/ops/status - engine and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()

	status := models.SystemStatus{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock()),
		Engine: models.EngineStatus{
			State:      string(snap.Status),
			Date:       snap.Date,
			Generation: snap.Generation,
			UpdatedAt:  models.TimestampPtr(snap.UpdatedAt),
			Error:      snap.Error,
		},
		Providers: []models.ProviderStatus{},
	}
	if snap.HasSchedule() {
		status.Engine.Place = snap.Place.String()
	}

	switch {
	case !snap.HasSchedule():
		status.Status = models.HealthStatusFail
	case snap.Status == engine.StatusError:
		status.Status = models.HealthStatusDegraded
	}

	// A failing provider degrades the service; only the engine can fail it.
	for _, p := range h.registry.All() {
		ps := providerStatus(p)
		if ps.Status != models.HealthStatusOK {
			status.Status = models.Worst(status.Status, models.HealthStatusDegraded)
		}
		status.Providers = append(status.Providers, ps)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(h resilience.Health) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            h.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        h.State.String(),
		ConsecutiveFailures: h.Counts.ConsecutiveFailures,
		LastSuccessAt:       models.TimestampPtr(h.LastSuccess),
		LastFailureAt:       models.TimestampPtr(h.LastFailure),
	}
	switch h.State {
	case gobreaker.StateHalfOpen:
		ps.Status = models.HealthStatusDegraded
	case gobreaker.StateOpen:
		ps.Status = models.HealthStatusFail
	}
	if h.LastError != "" {
		msg := h.LastError
		ps.Message = &msg
	}
	return ps
}
