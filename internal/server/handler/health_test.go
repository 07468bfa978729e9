package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintforge/dropmarket/internal/domain"
	"github.com/mintforge/dropmarket/internal/service"
)

type stubSchedule struct {
	status service.PhaseStatus
	err    error
}

func (s stubSchedule) Status(context.Context) (service.PhaseStatus, error) {
	return s.status, s.err
}

func TestHealthReportsActivePhase(t *testing.T) {
	h := NewHealthHandler(stubSchedule{status: service.PhaseStatus{
		Index: 3, Paused: true, Remaining: 1800,
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Phase   *struct {
			Index     int   `json:"index"`
			Paused    bool  `json:"paused"`
			Remaining int64 `json:"remaining_seconds"`
		} `json:"phase"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "dropmarket", body.Service)
	require.NotNil(t, body.Phase)
	assert.Equal(t, 3, body.Phase.Index)
	assert.True(t, body.Phase.Paused)
	assert.Equal(t, int64(1800), body.Phase.Remaining)
}

func TestHealthWithIdleSchedule(t *testing.T) {
	h := NewHealthHandler(stubSchedule{err: domain.ErrNotFound}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	v, present := body["phase"]
	assert.True(t, present)
	assert.Nil(t, v)
}
