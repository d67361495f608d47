package hunter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hunter-swarm/backend/internal/models"
)

// FetchError means a hunter could not retrieve data from a source. It is
// retryable. A successful fetch with zero results returns an empty slice and a
// nil error instead; the two cases are never conflated.
type FetchError struct {
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch from %s failed with status %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch from %s failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Hunter fetches candidate business records from one category of external
// source and normalizes them into the shared DiscoveredBusiness shape. All
// variants honor the same contract; they differ only in fetching and field
// mapping.
type Hunter interface {
	ID() string
	Type() string
	Config() models.HunterConfig
	Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error)
	Close()
}

type base struct {
	cfg        models.HunterConfig
	limiter    *rate.Limiter
	httpClient *http.Client
}

func newBase(cfg models.HunterConfig) base {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s-%s", cfg.Type, uuid.New().String()[:8])
	}
	perMinute := cfg.RateLimit
	if perMinute <= 0 {
		perMinute = 30
	}

	return base{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (b *base) ID() string                  { return b.cfg.ID }
func (b *base) Type() string                { return b.cfg.Type }
func (b *base) Config() models.HunterConfig { return b.cfg }

func (b *base) Close() {
	b.httpClient.CloseIdleConnections()
}

// wait blocks until the hunter's rate limit admits one more request.
func (b *base) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// New builds the hunter variant selected by the config's type.
func New(cfg models.HunterConfig, baseURLs map[string]string) (Hunter, error) {
	switch cfg.Type {
	case models.HunterTypeGovernment:
		return newGovernmentHunter(cfg, baseURLs[models.HunterTypeGovernment]), nil
	case models.HunterTypeRegistry:
		return newRegistryHunter(cfg, baseURLs[models.HunterTypeRegistry]), nil
	case models.HunterTypeDirectory:
		return newDirectoryHunter(cfg, baseURLs[models.HunterTypeDirectory]), nil
	case models.HunterTypeSocial:
		return newSocialHunter(cfg, baseURLs[models.HunterTypeSocial]), nil
	default:
		return nil, fmt.Errorf("unknown hunter type: %s", cfg.Type)
	}
}
