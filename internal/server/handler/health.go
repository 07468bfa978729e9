package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/service"
)

// ScheduleProbe is the slice of the phase service the health endpoint needs
// to report where the release schedule currently stands.
type ScheduleProbe interface {
	Status(ctx context.Context) (service.PhaseStatus, error)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	schedule  ScheduleProbe
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. schedule may be nil, in which
// case the response carries liveness only.
func NewHealthHandler(schedule ScheduleProbe, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{schedule: schedule, startedAt: time.Now(), logger: logger}
}

// HealthCheck reports liveness, process uptime, and a snapshot of the active
// phase. A schedule with no active phase reports phase null, which is normal
// before the drop opens and after it sells through.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"service":        "dropmarket",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if h.schedule != nil {
		switch status, err := h.schedule.Status(r.Context()); {
		case err == nil:
			body["phase"] = map[string]any{
				"index":             status.Index,
				"paused":            status.Paused,
				"remaining_seconds": int64(status.Remaining),
			}
		case errors.Is(err, domain.ErrNotFound):
			body["phase"] = nil
		default:
			h.logger.WarnContext(r.Context(), "health: schedule probe failed",
				slog.String("error", err.Error()),
			)
			body["status"] = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, body)
}
