package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/service"
)

// PhaseService defines what the phase handler needs from the service layer.
// Declared locally so the handler package does not depend on the concrete
// service implementation.
type PhaseService interface {
	Status(ctx context.Context) (service.PhaseStatus, error)
	List(ctx context.Context) ([]domain.Phase, error)
	Advance(ctx context.Context) (service.PhaseStatus, error)
	Pause(ctx context.Context) (service.PhaseStatus, error)
	Resume(ctx context.Context) (service.PhaseStatus, error)
	ResetTimer(ctx context.Context) (service.PhaseStatus, error)
	SetIncreaseRate(ctx context.Context, percent float64) error
}

// PhaseHandler serves release-schedule endpoints. The state-changing routes
// are registered behind admin auth by the server.
type PhaseHandler struct {
	phases PhaseService
	logger *slog.Logger
}

// NewPhaseHandler creates a PhaseHandler with the given service and logger.
func NewPhaseHandler(phases PhaseService, logger *slog.Logger) *PhaseHandler {
	return &PhaseHandler{phases: phases, logger: logger}
}

// Status returns the active phase view.
// GET /api/phase
func (h *PhaseHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.phases.Status(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// phaseView is the schedule list item; mutable engine internals stay private.
type phaseView struct {
	Index     int          `json:"index"`
	RateCents domain.Cents `json:"rate_cents"`
	Capacity  int          `json:"capacity"`
	Sold      int          `json:"sold"`
	Active    bool         `json:"active"`
	Paused    bool         `json:"paused"`
}

// Schedule returns every phase in the release schedule.
// GET /api/phase/schedule
func (h *PhaseHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	phases, err := h.phases.List(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	views := make([]phaseView, 0, len(phases))
	for _, p := range phases {
		views = append(views, phaseView{
			Index:     p.Index,
			RateCents: p.RateCents,
			Capacity:  p.Capacity,
			Sold:      p.Sold,
			Active:    p.Active,
			Paused:    p.Paused,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases": views})
}

// Advance moves the schedule to the next phase.
// POST /api/phase/advance
func (h *PhaseHandler) Advance(w http.ResponseWriter, r *http.Request) {
	status, err := h.phases.Advance(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Pause freezes the active phase countdown.
// POST /api/phase/pause
func (h *PhaseHandler) Pause(w http.ResponseWriter, r *http.Request) {
	status, err := h.phases.Pause(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Resume unfreezes a paused phase.
// POST /api/phase/resume
func (h *PhaseHandler) Resume(w http.ResponseWriter, r *http.Request) {
	status, err := h.phases.Resume(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ResetTimer restarts the active phase countdown from now.
// POST /api/phase/reset-timer
func (h *PhaseHandler) ResetTimer(w http.ResponseWriter, r *http.Request) {
	status, err := h.phases.ResetTimer(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type setRateRequest struct {
	Percent float64 `json:"percent"`
}

// SetRate updates the global increase percent.
// PUT /api/phase/rate
func (h *PhaseHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.phases.SetIncreaseRate(r.Context(), req.Percent); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"percent": req.Percent})
}
