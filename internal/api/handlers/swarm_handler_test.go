package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-swarm/backend/internal/aggregator"
	"github.com/hunter-swarm/backend/internal/enricher"
	"github.com/hunter-swarm/backend/internal/health"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/orchestrator"
	"github.com/hunter-swarm/backend/internal/quality"
	"github.com/hunter-swarm/backend/internal/queue/memory"
	"github.com/hunter-swarm/backend/internal/validator"
)

type stubStorage struct {
	accepted []models.EnrichedBusiness
}

func (s *stubStorage) InsertBusiness(b models.EnrichedBusiness, qualityScore int) error {
	s.accepted = append(s.accepted, b)
	return nil
}

func (s *stubStorage) InsertAuditEntry(businessID string, result models.ValidationResult) error {
	return nil
}

func (s *stubStorage) PendingExport(limit int) ([]models.EnrichedBusiness, error) { return nil, nil }

func (s *stubStorage) PendingExportCount() (int64, error) { return 0, nil }

func (s *stubStorage) MarkExported(ids []string) error { return nil }

func (s *stubStorage) InsertExportBatch(batch models.ExportBatch) error { return nil }

func (s *stubStorage) UpdateExportBatchStatus(id, status string, sentAt *time.Time) error {
	return nil
}

func (s *stubStorage) Businesses(filter map[string]string, limit int) ([]models.EnrichedBusiness, error) {
	return s.accepted, nil
}

func (s *stubStorage) TotalAccepted() (int64, error) { return int64(len(s.accepted)), nil }

func (s *stubStorage) TotalIndigenous() (int64, error) { return 0, nil }

func (s *stubStorage) RecordHourlyStat(metric string, delta float64) error { return nil }

func (s *stubStorage) HourlyStat(m string, h time.Time) (float64, error) { return 0, nil }

func newTestApp(t *testing.T) (*fiber.App, *orchestrator.Orchestrator) {
	t.Helper()

	store := memory.New()
	lookupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	t.Cleanup(lookupSrv.Close)

	orch := orchestrator.New(
		store,
		validator.New(store, time.Hour),
		enricher.New(enricher.NewHTTPLookup(lookupSrv.URL, time.Second), store, time.Hour),
		quality.NewScorer(store, time.Hour),
		aggregator.New(&stubStorage{}, aggregator.Config{}),
		nil,
		orchestrator.Config{
			Hunters: []models.HunterConfig{{
				Type:      models.HunterTypeGovernment,
				RateLimit: 600,
				Enabled:   true,
			}},
			DiscoveryWorkers:  1,
			ValidationWorkers: 1,
			EnrichmentWorkers: 1,
			ExportWorkers:     1,
			PollInterval:      5 * time.Millisecond,
			Health:            health.Config{Interval: time.Hour},
		},
	)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { orch.Stop(context.Background()) })

	h := NewSwarmHandler(orch)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Get("/health", h.GetHealth)
	api.Get("/progress", h.GetProgress)
	api.Get("/hunters", h.ListHunters)
	api.Post("/hunters/scale", h.ScaleHunters)
	api.Post("/hunters/:id/pause", h.PauseHunter)
	api.Post("/hunters/:id/resume", h.ResumeHunter)
	api.Post("/export", h.ExportBusinesses)

	return app, orch
}

func TestGetHealthReturnsSnapshot(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.HealthSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, models.StatusHealthy, snap.Status)
}

func TestGetProgressReturnsCounters(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var progress models.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	assert.Equal(t, 1, progress.ActiveHunters)
}

func TestListHunters(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/hunters", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Hunters []models.HunterConfig `json:"hunters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Hunters, 1)
	assert.Equal(t, models.HunterTypeGovernment, body.Hunters[0].Type)
	assert.True(t, body.Hunters[0].Enabled)
}

func TestScaleHuntersEndpoint(t *testing.T) {
	app, orch := newTestApp(t)

	payload := bytes.NewBufferString(`{"type":"government","count":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hunters/scale", payload)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, total := orch.HunterCounts()
	assert.Equal(t, 3, total)
}

func TestScaleHuntersRejectsBadRequests(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hunters/scale", bytes.NewBufferString("{broken"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/hunters/scale",
		bytes.NewBufferString(`{"type":"satellite","count":2}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestPauseAndResumeHunterEndpoints(t *testing.T) {
	app, orch := newTestApp(t)

	hunters := orch.Hunters(context.Background())
	require.Len(t, hunters, 1)
	id := hunters[0].ID

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/hunters/"+id+"/pause", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	active, _ := orch.HunterCounts()
	assert.Equal(t, 0, active)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/hunters/"+id+"/resume", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	active, _ = orch.HunterCounts()
	assert.Equal(t, 1, active)
}

func TestPauseUnknownHunterReturns404(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/hunters/ghost/pause", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportEndpointServesCSV(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/export",
		bytes.NewBufferString(`{"format":"csv"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "id,name,business_number")
}
