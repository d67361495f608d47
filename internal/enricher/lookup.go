package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/circuitbreaker"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// Lookup is the boundary to the external verification and classification
// services. Implementations must honor the context deadline; the enricher
// treats every call as fallible and degrades instead of failing the record.
type Lookup interface {
	Verify(ctx context.Context, b models.DiscoveredBusiness) (models.Verification, error)
	TaxDebt(ctx context.Context, b models.DiscoveredBusiness) (models.TaxDebt, error)
	Certifications(ctx context.Context, b models.DiscoveredBusiness) ([]models.Certification, error)
	Readiness(ctx context.Context, b models.DiscoveredBusiness) (models.ProcurementReadiness, error)
}

type httpLookup struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewHTTPLookup(baseURL string, timeout time.Duration) Lookup {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &httpLookup{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("verification", circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Logger:           logger.Log,
		}),
	}
}

func (l *httpLookup) Verify(ctx context.Context, b models.DiscoveredBusiness) (models.Verification, error) {
	var out models.Verification
	err := l.get(ctx, "/v1/verify", b, &out)
	return out, err
}

func (l *httpLookup) TaxDebt(ctx context.Context, b models.DiscoveredBusiness) (models.TaxDebt, error) {
	var out models.TaxDebt
	err := l.get(ctx, "/v1/tax-debt", b, &out)
	return out, err
}

func (l *httpLookup) Certifications(ctx context.Context, b models.DiscoveredBusiness) ([]models.Certification, error) {
	var out []models.Certification
	err := l.get(ctx, "/v1/certifications", b, &out)
	return out, err
}

func (l *httpLookup) Readiness(ctx context.Context, b models.DiscoveredBusiness) (models.ProcurementReadiness, error) {
	var out models.ProcurementReadiness
	err := l.get(ctx, "/v1/readiness", b, &out)
	return out, err
}

func (l *httpLookup) get(ctx context.Context, path string, b models.DiscoveredBusiness, out interface{}) error {
	return l.breaker.Execute(ctx, func() error {
		params := url.Values{}
		params.Set("name", b.Name)
		if b.BusinessNumber != "" {
			params.Set("bn", b.BusinessNumber)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s%s?%s", l.baseURL, path, params.Encode()), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := l.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("lookup %s failed: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lookup %s returned status %d", path, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("lookup %s returned malformed body: %w", path, err)
		}
		return nil
	})
}
