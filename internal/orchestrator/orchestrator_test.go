package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-swarm/backend/internal/aggregator"
	"github.com/hunter-swarm/backend/internal/enricher"
	"github.com/hunter-swarm/backend/internal/hunter"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/pipeline"
	"github.com/hunter-swarm/backend/internal/quality"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/internal/queue/memory"
	"github.com/hunter-swarm/backend/internal/validator"
)

type stubHunter struct {
	cfg     models.HunterConfig
	results []models.DiscoveredBusiness
	err     error
	hunts   atomic.Int32
	closed  atomic.Bool
}

func (h *stubHunter) ID() string                  { return h.cfg.ID }
func (h *stubHunter) Type() string                { return h.cfg.Type }
func (h *stubHunter) Config() models.HunterConfig { return h.cfg }
func (h *stubHunter) Close()                      { h.closed.Store(true) }

func (h *stubHunter) Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error) {
	h.hunts.Add(1)
	return h.results, h.err
}

type stubStorage struct {
	accepted []models.EnrichedBusiness
	audits   map[string][]models.ValidationResult
}

func newStubStorage() *stubStorage {
	return &stubStorage{audits: make(map[string][]models.ValidationResult)}
}

func (s *stubStorage) InsertBusiness(b models.EnrichedBusiness, qualityScore int) error {
	s.accepted = append(s.accepted, b)
	return nil
}

func (s *stubStorage) InsertAuditEntry(businessID string, result models.ValidationResult) error {
	s.audits[businessID] = append(s.audits[businessID], result)
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

type stubLookup struct{}

func (stubLookup) Verify(ctx context.Context, b models.DiscoveredBusiness) (models.Verification, error) {
	return models.Verification{Verified: true, Confidence: 0.9}, nil
}
func (stubLookup) TaxDebt(ctx context.Context, b models.DiscoveredBusiness) (models.TaxDebt, error) {
	return models.TaxDebt{}, nil
}
func (stubLookup) Certifications(ctx context.Context, b models.DiscoveredBusiness) ([]models.Certification, error) {
	return nil, nil
}
func (stubLookup) Readiness(ctx context.Context, b models.DiscoveredBusiness) (models.ProcurementReadiness, error) {
	return models.ProcurementReadiness{Score: 50}, nil
}

func newTestOrchestrator(store *memory.Store, factory HunterFactory, cfg Config) *Orchestrator {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.DiscoveryWorkers == 0 {
		cfg.DiscoveryWorkers = 1
		cfg.ValidationWorkers = 1
		cfg.EnrichmentWorkers = 1
		cfg.ExportWorkers = 1
	}

	return New(
		store,
		validator.New(store, time.Hour),
		enricher.New(stubLookup{}, store, time.Hour),
		quality.NewScorer(store, time.Hour),
		aggregator.New(newStubStorage(), aggregator.Config{BatchSize: 1000, MaxInterval: time.Hour}),
		factory,
		cfg,
	)
}

func stubFactory(results []models.DiscoveredBusiness) HunterFactory {
	var seq atomic.Int32
	return func(cfg models.HunterConfig) (hunter.Hunter, error) {
		if cfg.ID == "" {
			cfg.ID = fmt.Sprintf("%s-%d", cfg.Type, seq.Add(1))
		}
		return &stubHunter{cfg: cfg, results: results}, nil
	}
}

func govConfig() models.HunterConfig {
	return models.HunterConfig{
		Type:      models.HunterTypeGovernment,
		RateLimit: 600,
		Enabled:   true,
		Sources:   []string{"bc-suppliers"},
	}
}

func TestStartSeedsDiscoveryTasksAndStopsCleanly(t *testing.T) {
	store := memory.New()
	o := newTestOrchestrator(store, stubFactory(nil), Config{
		Hunters: []models.HunterConfig{govConfig()},
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	members, err := store.SetMembers(context.Background(), ActiveHunterSet)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	active, total := o.HunterCounts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, total)

	require.NoError(t, o.Stop(context.Background()))
	require.NoError(t, o.Stop(context.Background()), "stop is idempotent")

	members, err = store.SetMembers(context.Background(), ActiveHunterSet)
	require.NoError(t, err)
	assert.Empty(t, members, "stopping releases the active set")
}

func TestStartFailureReleasesPartialResources(t *testing.T) {
	store := memory.New()

	var created []*stubHunter
	factory := func(cfg models.HunterConfig) (hunter.Hunter, error) {
		if len(created) == 1 {
			return nil, errors.New("bad config")
		}
		h := &stubHunter{cfg: models.HunterConfig{ID: "gov-ok", Type: cfg.Type}}
		created = append(created, h)
		return h, nil
	}

	o := newTestOrchestrator(store, factory, Config{
		Hunters: []models.HunterConfig{govConfig(), govConfig()},
	})

	err := o.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStartup))

	require.Len(t, created, 1)
	assert.True(t, created[0].closed.Load(), "the hunter created before the failure is released")

	members, err := store.SetMembers(context.Background(), ActiveHunterSet)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestPipelineRunsEndToEnd(t *testing.T) {
	store := memory.New()

	discovered := models.DiscoveredBusiness{
		Name:           "Eagle Feather Consulting",
		BusinessNumber: "123456789RC0001",
		Email:          "info@eaglefeather.ca",
		Website:        "https://eaglefeather.ca",
		Address:        models.Address{City: "Prince George", Province: "BC"},
		Industry:       []string{"indigenous_owned"},
		Source:         models.Source{Type: models.HunterTypeGovernment, ID: "bc-suppliers"},
		Confidence:     0.95,
	}

	o := newTestOrchestrator(store, stubFactory([]models.DiscoveredBusiness{discovered}), Config{
		Hunters: []models.HunterConfig{govConfig()},
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		count, err := store.Counter(context.Background(), "stats:discovered")
		require.NoError(t, err)
		if count >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("discovery never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The record flows validation -> enrichment -> export; wait for the
	// pipeline to fully drain.
	for _, q := range queue.StageQueues() {
		queueName := q
		deadline := time.After(5 * time.Second)
		for {
			depth, err := store.Depth(context.Background(), queueName)
			require.NoError(t, err)
			processing, err := store.Depth(context.Background(), queue.ProcessingQueue(queueName))
			require.NoError(t, err)
			if depth == 0 && processing == 0 {
				break
			}
			select {
			case <-deadline:
				t.Fatalf("queue %s never drained", queueName)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}

	dlq, err := store.Depth(context.Background(), queue.QueueDeadLetter)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dlq)

	processed, failed := o.PipelineStats()
	assert.GreaterOrEqual(t, processed, uint64(4), "all four stages completed")
	assert.Equal(t, uint64(0), failed)
}

func TestScaleHuntersUpAndDown(t *testing.T) {
	store := memory.New()
	o := newTestOrchestrator(store, stubFactory(nil), Config{
		Hunters: []models.HunterConfig{govConfig()},
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	require.NoError(t, o.ScaleHunters(context.Background(), models.HunterTypeGovernment, 4))
	_, total := o.HunterCounts()
	assert.Equal(t, 4, total)

	require.NoError(t, o.ScaleHunters(context.Background(), models.HunterTypeGovernment, 1))
	_, total = o.HunterCounts()
	assert.Equal(t, 1, total)

	require.NoError(t, o.ScaleHunters(context.Background(), models.HunterTypeGovernment, 0))
	active, total := o.HunterCounts()
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, active)
}

func TestScaleHuntersRejectsUnknownType(t *testing.T) {
	o := newTestOrchestrator(memory.New(), stubFactory(nil), Config{
		Hunters: []models.HunterConfig{govConfig()},
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	assert.Error(t, o.ScaleHunters(context.Background(), "satellite", 2))
	assert.Error(t, o.ScaleHunters(context.Background(), models.HunterTypeGovernment, -1))
}

func TestPausedHunterDefersItsTasks(t *testing.T) {
	store := memory.New()

	h := &stubHunter{cfg: models.HunterConfig{ID: "gov-1", Type: models.HunterTypeGovernment}}
	factory := func(cfg models.HunterConfig) (hunter.Hunter, error) { return h, nil }

	o := newTestOrchestrator(store, factory, Config{
		Hunters: []models.HunterConfig{govConfig()},
	})
	o.hunters[h.ID()] = h
	require.NoError(t, store.SetAdd(context.Background(), ActiveHunterSet, h.ID()))

	task := newTask(models.TaskTypeDiscover, h.ID(), models.Source{Type: models.HunterTypeGovernment, ID: "bc-suppliers"})

	// Active hunter: the task runs.
	_, err := o.handleDiscover(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.hunts.Load())

	// Paused hunter: the task is deferred, not discarded and not attempted.
	require.NoError(t, o.PauseHunter(context.Background(), h.ID()))
	_, err = o.handleDiscover(context.Background(), task)
	assert.True(t, errors.Is(err, pipeline.ErrTaskDeferred))
	assert.Equal(t, int32(1), h.hunts.Load())

	// Resumed: the task runs again.
	require.NoError(t, o.ResumeHunter(context.Background(), h.ID()))
	_, err = o.handleDiscover(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.hunts.Load())
}

func TestPauseUnknownHunterFails(t *testing.T) {
	o := newTestOrchestrator(memory.New(), stubFactory(nil), Config{})
	assert.Error(t, o.PauseHunter(context.Background(), "ghost"))
	assert.Error(t, o.ResumeHunter(context.Background(), "ghost"))
	assert.Error(t, o.RestartHunter(context.Background(), "ghost"))
}

func TestRestartHunterReplacesInstance(t *testing.T) {
	store := memory.New()

	var instances atomic.Int32
	factory := func(cfg models.HunterConfig) (hunter.Hunter, error) {
		instances.Add(1)
		if cfg.ID == "" {
			cfg.ID = "gov-1"
		}
		return &stubHunter{cfg: cfg}, nil
	}

	o := newTestOrchestrator(store, factory, Config{
		Hunters: []models.HunterConfig{govConfig()},
	})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	before := instances.Load()
	require.NoError(t, o.RestartHunter(context.Background(), "gov-1"))
	assert.Equal(t, before+1, instances.Load())

	_, total := o.HunterCounts()
	assert.Equal(t, 1, total)
}

func TestHandleValidateRejectionIsTerminal(t *testing.T) {
	store := memory.New()
	o := newTestOrchestrator(store, stubFactory(nil), Config{})

	// No contact information: the record fails validation.
	bad := models.DiscoveredBusiness{
		ID:         "biz-bad",
		Name:       "Shadow Holdings",
		Address:    models.Address{City: "Vancouver", Province: "BC"},
		Confidence: 0.9,
	}
	payload, err := json.Marshal(bad)
	require.NoError(t, err)

	task := newTask(models.TaskTypeValidate, "gov-1", bad.Source)
	task.Payload = payload

	followOns, err := o.handleValidate(context.Background(), task)
	require.NoError(t, err, "rejection is an outcome, not a failure")
	assert.Empty(t, followOns)
}

func TestHandleValidateMalformedPayload(t *testing.T) {
	o := newTestOrchestrator(memory.New(), stubFactory(nil), Config{})

	task := newTask(models.TaskTypeValidate, "gov-1", models.Source{})
	task.Payload = []byte("{broken")

	_, err := o.handleValidate(context.Background(), task)
	assert.True(t, errors.Is(err, pipeline.ErrMalformedTask))
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	o := newTestOrchestrator(memory.New(), stubFactory(nil), Config{
		Hunters: []models.HunterConfig{govConfig()},
	})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background())

	events, cancel := o.Subscribe()
	defer cancel()

	require.NoError(t, o.ScaleHunters(context.Background(), models.HunterTypeGovernment, 2))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type != "hunters_scaled" {
				continue
			}
			assert.Equal(t, 2, event.Count)
			return
		case <-deadline:
			t.Fatal("scale event never received")
		}
	}
}
