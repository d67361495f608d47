package enricher

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

const cachePrefix = "enrichment:"

type Enricher struct {
	lookup   Lookup
	store    queue.Store
	cacheTTL time.Duration
}

func New(lookup Lookup, store queue.Store, cacheTTL time.Duration) *Enricher {
	if cacheTTL == 0 {
		cacheTTL = 168 * time.Hour
	}
	return &Enricher{lookup: lookup, store: store, cacheTTL: cacheTTL}
}

// Enrich fans out to the verification and classification lookups concurrently
// and merges their results deterministically. A failed lookup degrades the
// record (verified=false, dependent fields empty) instead of failing the task;
// partial enrichment is strictly more useful downstream than none. The result
// is immutable once produced; a later re-enrichment writes a new snapshot for
// the same business identity.
func (e *Enricher) Enrich(ctx context.Context, b models.DiscoveredBusiness) (models.EnrichedBusiness, error) {
	var cached models.EnrichedBusiness
	hit, err := e.store.CacheGet(ctx, cachePrefix+b.ID, &cached)
	if err != nil {
		logger.Warn("Enrichment cache read failed", zap.String("business_id", b.ID), zap.Error(err))
	}
	if hit && !cached.Degraded {
		logger.Debug("Enrichment cache hit", zap.String("business_id", b.ID))
		return cached, nil
	}

	var (
		verification models.Verification
		taxDebt      models.TaxDebt
		certs        []models.Certification
		readiness    models.ProcurementReadiness

		verifyErr, taxErr, certErr, readyErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verification, verifyErr = e.lookup.Verify(gctx, b)
		return nil
	})
	g.Go(func() error {
		taxDebt, taxErr = e.lookup.TaxDebt(gctx, b)
		return nil
	})
	g.Go(func() error {
		certs, certErr = e.lookup.Certifications(gctx, b)
		return nil
	})
	g.Go(func() error {
		readiness, readyErr = e.lookup.Readiness(gctx, b)
		return nil
	})
	g.Wait()

	degraded := verifyErr != nil || taxErr != nil || certErr != nil || readyErr != nil
	if degraded {
		logger.Warn("Enrichment degraded, proceeding with partial data",
			zap.String("business_id", b.ID),
			zap.NamedError("verify", verifyErr),
			zap.NamedError("tax_debt", taxErr),
			zap.NamedError("certifications", certErr),
			zap.NamedError("readiness", readyErr),
		)
	}

	if verifyErr != nil {
		verification = models.Verification{}
	}
	if taxErr != nil {
		taxDebt = models.TaxDebt{}
	}
	if certErr != nil {
		certs = nil
	}
	if readyErr != nil {
		readiness = models.ProcurementReadiness{}
	}

	enriched := models.EnrichedBusiness{
		DiscoveredBusiness: b,
		Verified:           verifyErr == nil && verification.Verified,
		Verification:       verification,
		TaxDebt:            taxDebt,
		Certifications:     certs,
		Readiness:          readiness,
		OwnershipType:      ownershipType(b),
		Degraded:           degraded,
		EnrichedAt:         time.Now().UTC(),
	}

	enriched.RiskScore = RiskScore(enriched)
	enriched.PartnershipScore = PartnershipScore(enriched)

	if err := e.store.CacheSet(ctx, cachePrefix+b.ID, enriched, e.cacheTTL); err != nil {
		logger.Warn("Failed to cache enrichment snapshot", zap.String("business_id", b.ID), zap.Error(err))
	}

	logger.Debug("Business enriched",
		zap.String("business_id", b.ID),
		zap.Bool("verified", enriched.Verified),
		zap.Int("risk_score", enriched.RiskScore),
		zap.Int("partnership_score", enriched.PartnershipScore),
	)

	return enriched, nil
}

func ownershipType(b models.DiscoveredBusiness) string {
	for _, tag := range b.Industry {
		switch strings.ToLower(tag) {
		case models.OwnershipIndigenousOwned:
			return models.OwnershipIndigenousOwned
		case models.OwnershipIndigenousPartnership:
			return models.OwnershipIndigenousPartnership
		}
	}
	return ""
}
