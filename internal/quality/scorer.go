package quality

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

const cachePrefix = "quality:"

// Sub-metric weights. They sum to 1 so the overall score lands in 0-100.
const (
	weightCompleteness = 0.25
	weightAccuracy     = 0.25
	weightConsistency  = 0.15
	weightTimeliness   = 0.15
	weightUniqueness   = 0.10
	weightValidity     = 0.10
)

type Scorer struct {
	store    queue.Store
	cacheTTL time.Duration
}

func NewScorer(store queue.Store, cacheTTL time.Duration) *Scorer {
	if cacheTTL == 0 {
		cacheTTL = 15 * time.Minute
	}
	return &Scorer{store: store, cacheTTL: cacheTTL}
}

// Score computes a quality snapshot for an enriched record. Snapshots are
// cached with a bounded TTL and are never authoritative; callers may recompute
// at any time.
func (s *Scorer) Score(ctx context.Context, b models.EnrichedBusiness) models.QualityScore {
	if s.store != nil {
		var cached models.QualityScore
		if hit, err := s.store.CacheGet(ctx, cachePrefix+b.ID, &cached); err == nil && hit {
			return cached
		}
	}

	score := Compute(b)

	if s.store != nil {
		if err := s.store.CacheSet(ctx, cachePrefix+b.ID, score, s.cacheTTL); err != nil {
			logger.Warn("Failed to cache quality score", zap.String("business_id", b.ID), zap.Error(err))
		}
	}

	return score
}

// Compute derives the six sub-metrics and the weighted overall score. Pure
// function apart from the clock feeding timeliness.
func Compute(b models.EnrichedBusiness) models.QualityScore {
	score := models.QualityScore{
		Completeness: completeness(b),
		Accuracy:     accuracy(b),
		Consistency:  consistency(b),
		Timeliness:   timeliness(b, time.Now().UTC()),
		Uniqueness:   uniqueness(b),
		Validity:     validity(b),
		ComputedAt:   time.Now().UTC(),
	}

	overall := score.Completeness*weightCompleteness +
		score.Accuracy*weightAccuracy +
		score.Consistency*weightConsistency +
		score.Timeliness*weightTimeliness +
		score.Uniqueness*weightUniqueness +
		score.Validity*weightValidity

	score.Overall = int(overall * 100)
	score.Recommendations = recommendations(score)

	return score
}

func completeness(b models.EnrichedBusiness) float64 {
	fields := []bool{
		b.Name != "",
		b.LegalName != "",
		b.BusinessNumber != "",
		b.Email != "",
		b.Phone != "",
		b.Website != "",
		b.Address.City != "",
		b.Address.Province != "",
		len(b.Industry) > 0,
	}

	present := 0
	for _, ok := range fields {
		if ok {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

func accuracy(b models.EnrichedBusiness) float64 {
	if b.Verified {
		return 0.5 + b.Verification.Confidence*0.5
	}
	return b.Confidence * 0.5
}

func consistency(b models.EnrichedBusiness) float64 {
	score := 1.0
	if b.LegalName != "" && b.Name == "" {
		score -= 0.5
	}
	if b.Website == "" && b.Email != "" {
		// Email without a site is common; only a mild inconsistency.
		score -= 0.1
	}
	if len(b.Verification.Issues) > 0 {
		score -= 0.2 * float64(len(b.Verification.Issues))
	}
	if score < 0 {
		score = 0
	}
	return score
}

func timeliness(b models.EnrichedBusiness, now time.Time) float64 {
	age := now.Sub(b.EnrichedAt)
	switch {
	case age < 24*time.Hour:
		return 1.0
	case age < 7*24*time.Hour:
		return 0.8
	case age < 30*24*time.Hour:
		return 0.5
	default:
		return 0.2
	}
}

func uniqueness(b models.EnrichedBusiness) float64 {
	if b.BusinessNumber != "" {
		return 1.0
	}
	if b.Website != "" {
		return 0.7
	}
	return 0.4
}

func validity(b models.EnrichedBusiness) float64 {
	if b.Degraded {
		return 0.4
	}
	if b.Verified {
		return 1.0
	}
	return 0.6
}

// recommendations ranks followups by the weakest sub-metric first.
func recommendations(score models.QualityScore) []string {
	type metric struct {
		value float64
		hint  string
	}

	metrics := []metric{
		{score.Completeness, "fill missing identity and contact fields"},
		{score.Accuracy, "re-verify the business with the registry"},
		{score.Consistency, "resolve conflicting name and verification data"},
		{score.Timeliness, "re-enrich; the snapshot is stale"},
		{score.Uniqueness, "obtain a business number to anchor identity"},
		{score.Validity, "retry the degraded enrichment lookups"},
	}

	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i].value < metrics[j].value
	})

	var recs []string
	for _, m := range metrics {
		if m.value >= 0.8 {
			continue
		}
		recs = append(recs, m.hint)
	}
	return recs
}
