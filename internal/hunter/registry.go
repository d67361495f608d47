package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// registryHunter pulls records from provincial business registries, which use
// a different field vocabulary and a paged envelope.
type registryHunter struct {
	base
	baseURL string
}

func newRegistryHunter(cfg models.HunterConfig, baseURL string) *registryHunter {
	return &registryHunter{base: newBase(cfg), baseURL: baseURL}
}

type registryEnvelope struct {
	Results []registryRecord `json:"results"`
}

type registryRecord struct {
	CompanyName    string  `json:"company_name"`
	RegisteredName string  `json:"registered_name"`
	BusinessNo     string  `json:"business_no"`
	ContactEmail   string  `json:"contact_email"`
	ContactPhone   string  `json:"contact_phone"`
	Homepage       string  `json:"homepage"`
	Address        string  `json:"address"`
	Municipality   string  `json:"municipality"`
	Region         string  `json:"region"`
	Postal         string  `json:"postal"`
	Sector         string  `json:"sector"`
	MatchScore     float64 `json:"match_score"`
}

func (h *registryHunter) Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/api/registrations?registry=%s", h.baseURL, sourceLocator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: sourceLocator, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: err}
	}

	var envelope registryEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	businesses := make([]models.DiscoveredBusiness, 0, len(envelope.Results))
	for _, r := range envelope.Results {
		if r.CompanyName == "" && r.RegisteredName == "" {
			continue
		}

		name := r.CompanyName
		if name == "" {
			name = r.RegisteredName
		}

		confidence := r.MatchScore
		if confidence == 0 {
			confidence = 0.75
		}

		var industry []string
		if r.Sector != "" {
			industry = []string{r.Sector}
		}

		businesses = append(businesses, Normalize(models.DiscoveredBusiness{
			Name:           name,
			LegalName:      r.RegisteredName,
			BusinessNumber: r.BusinessNo,
			Email:          r.ContactEmail,
			Phone:          r.ContactPhone,
			Website:        r.Homepage,
			Address: models.Address{
				Street:     r.Address,
				City:       r.Municipality,
				Province:   r.Region,
				PostalCode: r.Postal,
			},
			Industry:     industry,
			Source:       models.Source{Type: models.HunterTypeRegistry, ID: sourceLocator, URL: fetchURL},
			Confidence:   confidence,
			DiscoveredAt: time.Now().UTC(),
		}))
	}

	logger.Debug("Business registry fetch completed",
		zap.String("hunter_id", h.ID()),
		zap.String("source", sourceLocator),
		zap.Int("records", len(businesses)),
	)

	return businesses, nil
}
