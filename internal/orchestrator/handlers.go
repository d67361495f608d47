package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/hunter"
	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/pipeline"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// enrichPayload carries a validated record together with its validation
// result between the validation and enrichment stages.
type enrichPayload struct {
	Business   models.DiscoveredBusiness `json:"business"`
	Validation models.ValidationResult   `json:"validation"`
}

func newTask(taskType, hunterID string, source models.Source) models.HuntingTask {
	return models.HuntingTask{
		ID:        uuid.New().String(),
		HunterID:  hunterID,
		Source:    source,
		Type:      taskType,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// handleDiscover runs a hunter against one source locator and emits a
// validation task per candidate found. Tasks whose hunter is paused are
// deferred; tasks whose hunter was scaled away are reassigned to a live
// hunter of the same type.
func (o *Orchestrator) handleDiscover(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
	h, err := o.hunterFor(task)
	if err != nil {
		return nil, err
	}

	active, err := o.store.SetContains(ctx, ActiveHunterSet, h.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to check hunter activation: %w", err)
	}
	if !active {
		return nil, pipeline.ErrTaskDeferred
	}

	start := time.Now()
	businesses, err := h.Hunt(ctx, task.Source.ID)
	metrics.FetchDuration.WithLabelValues(h.Type()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrors.WithLabelValues(h.Type()).Inc()
		if _, cerr := o.store.Incr(ctx, "hunter-failures:"+h.ID(), 24*time.Hour); cerr != nil {
			logger.Warn("Failed to record hunter failure", zap.String("hunter_id", h.ID()), zap.Error(cerr))
		}
		return nil, fmt.Errorf("hunt failed for source %s: %w", task.Source.ID, err)
	}

	followOns := make([]models.HuntingTask, 0, len(businesses))
	for _, b := range businesses {
		b = hunter.Normalize(b)

		payload, err := json.Marshal(b)
		if err != nil {
			logger.Error("Failed to encode discovered business", zap.String("name", b.Name), zap.Error(err))
			continue
		}

		next := newTask(models.TaskTypeValidate, h.ID(), b.Source)
		next.Payload = payload
		followOns = append(followOns, next)

		metrics.BusinessesDiscovered.Inc()
		if _, err := o.store.Incr(ctx, "stats:discovered", 0); err != nil {
			logger.Warn("Failed to bump discovery counter", zap.Error(err))
		}
	}

	o.publish(Event{
		Type:     "source_hunted",
		HunterID: h.ID(),
		Source:   task.Source.ID,
		Count:    len(businesses),
		At:       time.Now().UTC(),
	})

	return followOns, nil
}

// hunterFor resolves the hunter owning a task, falling back to any live
// hunter of the same source type when the original was destroyed.
func (o *Orchestrator) hunterFor(task models.HuntingTask) (hunter.Hunter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if h, ok := o.hunters[task.HunterID]; ok {
		return h, nil
	}
	for _, h := range o.hunters {
		if h.Type() == task.Source.Type {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no live hunter for source type %s: %w", task.Source.Type, pipeline.ErrMalformedTask)
}

// handleValidate runs every validation check on a candidate and forwards
// passing records to enrichment. Rejected records are audited and dropped;
// rejection is a terminal outcome, not a failure.
func (o *Orchestrator) handleValidate(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
	var b models.DiscoveredBusiness
	if err := json.Unmarshal(task.Payload, &b); err != nil {
		return nil, fmt.Errorf("%w: bad validation payload: %v", pipeline.ErrMalformedTask, err)
	}

	b = hunter.Normalize(b)
	result := o.validator.Validate(ctx, b)

	if err := o.aggregator.RecordAudit(b.ID, result); err != nil {
		logger.Warn("Failed to record validation audit", zap.String("business_id", b.ID), zap.Error(err))
	}

	if !result.Valid {
		metrics.BusinessesValidated.WithLabelValues("rejected").Inc()
		logger.Debug("Business rejected",
			zap.String("name", b.Name),
			zap.Strings("reasons", result.Reasons),
		)
		return nil, nil
	}

	metrics.BusinessesValidated.WithLabelValues("accepted").Inc()

	payload, err := json.Marshal(enrichPayload{Business: b, Validation: result})
	if err != nil {
		return nil, fmt.Errorf("failed to encode enrichment payload: %w", err)
	}

	next := newTask(models.TaskTypeEnrich, task.HunterID, b.Source)
	next.Payload = payload
	return []models.HuntingTask{next}, nil
}

// handleEnrich augments a validated record with external lookups, scores it,
// and hands it to the aggregator. Partial lookup failures produce a degraded
// record rather than a retry.
func (o *Orchestrator) handleEnrich(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
	var payload enrichPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: bad enrichment payload: %v", pipeline.ErrMalformedTask, err)
	}

	enriched, err := o.enricher.Enrich(ctx, payload.Business)
	if err != nil {
		return nil, fmt.Errorf("failed to enrich %s: %w", payload.Business.Name, err)
	}

	outcome := "complete"
	if enriched.Degraded {
		outcome = "degraded"
	}
	metrics.BusinessesEnriched.WithLabelValues(outcome).Inc()

	score := o.scorer.Score(ctx, enriched)
	metrics.QualityScore.Observe(float64(score.Overall))

	if err := o.aggregator.Accept(ctx, enriched, payload.Validation, score.Overall); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", enriched.Name, err)
	}

	o.publish(Event{
		Type:     "business_enriched",
		HunterID: task.HunterID,
		Source:   enriched.Source.ID,
		Count:    1,
		At:       time.Now().UTC(),
	})

	return []models.HuntingTask{newTask(models.TaskTypeExport, "", enriched.Source)}, nil
}

// handleExport checks batching conditions and flushes when a batch is due.
// Most export tasks complete without flushing; the aggregator decides.
func (o *Orchestrator) handleExport(ctx context.Context, task models.HuntingTask) ([]models.HuntingTask, error) {
	sent, err := o.aggregator.MaybeExport(ctx)
	if err != nil {
		return nil, fmt.Errorf("export check failed: %w", err)
	}

	if sent > 0 {
		o.publish(Event{Type: "batch_exported", Count: sent, At: time.Now().UTC()})
	}
	return nil, nil
}
