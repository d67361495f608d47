package enricher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue/memory"
)

type stubLookup struct {
	verification models.Verification
	verifyErr    error
	taxDebt      models.TaxDebt
	taxErr       error
	certs        []models.Certification
	certErr      error
	readiness    models.ProcurementReadiness
	readyErr     error

	calls int
}

func (s *stubLookup) Verify(ctx context.Context, b models.DiscoveredBusiness) (models.Verification, error) {
	s.calls++
	return s.verification, s.verifyErr
}

func (s *stubLookup) TaxDebt(ctx context.Context, b models.DiscoveredBusiness) (models.TaxDebt, error) {
	return s.taxDebt, s.taxErr
}

func (s *stubLookup) Certifications(ctx context.Context, b models.DiscoveredBusiness) ([]models.Certification, error) {
	return s.certs, s.certErr
}

func (s *stubLookup) Readiness(ctx context.Context, b models.DiscoveredBusiness) (models.ProcurementReadiness, error) {
	return s.readiness, s.readyErr
}

func testBusiness() models.DiscoveredBusiness {
	return models.DiscoveredBusiness{
		ID:         "biz-1",
		Name:       "Eagle Feather Consulting",
		Industry:   []string{"consulting", "indigenous_owned"},
		Confidence: 0.9,
	}
}

func TestEnrichMergesAllLookups(t *testing.T) {
	lookup := &stubLookup{
		verification: models.Verification{Verified: true, Confidence: 0.85},
		taxDebt:      models.TaxDebt{HasDebt: false},
		certs:        []models.Certification{{Name: "CCAB Certified"}},
		readiness:    models.ProcurementReadiness{Score: 70},
	}
	e := New(lookup, memory.New(), time.Hour)

	got, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)

	assert.True(t, got.Verified)
	assert.False(t, got.Degraded)
	assert.Equal(t, models.OwnershipIndigenousOwned, got.OwnershipType)
	assert.Len(t, got.Certifications, 1)
	assert.Equal(t, 70, got.Readiness.Score)
	assert.False(t, got.EnrichedAt.IsZero())
	assert.Equal(t, RiskScore(got), got.RiskScore)
	assert.Equal(t, PartnershipScore(got), got.PartnershipScore)
}

func TestEnrichDegradesOnLookupFailure(t *testing.T) {
	lookup := &stubLookup{
		verification: models.Verification{Verified: true, Confidence: 0.85},
		taxErr:       errors.New("tax registry timeout"),
	}
	e := New(lookup, memory.New(), time.Hour)

	got, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err, "a failed lookup degrades, it does not fail the task")

	assert.True(t, got.Degraded)
	assert.True(t, got.Verified, "other lookups keep their results")
	assert.Equal(t, models.TaxDebt{}, got.TaxDebt)
}

func TestEnrichVerifyFailureMeansUnverified(t *testing.T) {
	lookup := &stubLookup{
		verification: models.Verification{Verified: true},
		verifyErr:    errors.New("verification service down"),
	}
	e := New(lookup, memory.New(), time.Hour)

	got, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)

	assert.False(t, got.Verified)
	assert.True(t, got.Degraded)
	assert.Equal(t, models.Verification{}, got.Verification)
}

func TestEnrichServesCompleteSnapshotsFromCache(t *testing.T) {
	lookup := &stubLookup{verification: models.Verification{Verified: true}}
	e := New(lookup, memory.New(), time.Hour)

	first, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)
	require.Equal(t, 1, lookup.calls)

	second, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)

	assert.Equal(t, 1, lookup.calls, "second enrichment is a cache hit")
	assert.Equal(t, first.EnrichedAt.Unix(), second.EnrichedAt.Unix())
}

func TestEnrichRetriesDegradedSnapshots(t *testing.T) {
	lookup := &stubLookup{verifyErr: errors.New("down")}
	e := New(lookup, memory.New(), time.Hour)

	_, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)
	require.Equal(t, 1, lookup.calls)

	// Once the lookup recovers, a degraded cached snapshot is recomputed.
	lookup.verifyErr = nil
	lookup.verification = models.Verification{Verified: true}

	got, err := e.Enrich(context.Background(), testBusiness())
	require.NoError(t, err)

	assert.Equal(t, 2, lookup.calls)
	assert.False(t, got.Degraded)
	assert.True(t, got.Verified)
}
