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

// governmentHunter pulls supplier records from a federal registry JSON API.
type governmentHunter struct {
	base
	baseURL string
}

func newGovernmentHunter(cfg models.HunterConfig, baseURL string) *governmentHunter {
	return &governmentHunter{base: newBase(cfg), baseURL: baseURL}
}

type governmentRecord struct {
	LegalName      string   `json:"legal_name"`
	OperatingName  string   `json:"operating_name"`
	BN             string   `json:"bn"`
	Email          string   `json:"email"`
	Telephone      string   `json:"telephone"`
	WebsiteURL     string   `json:"website_url"`
	Street         string   `json:"address_line"`
	City           string   `json:"city"`
	Province       string   `json:"province"`
	PostalCode     string   `json:"postal_code"`
	NAICSCodes     []string `json:"naics_descriptions"`
	IndigenousFlag bool     `json:"indigenous_business"`
}

func (h *governmentHunter) Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/registry/%s/suppliers", h.baseURL, sourceLocator)
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

	var records []governmentRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	businesses := make([]models.DiscoveredBusiness, 0, len(records))
	for _, r := range records {
		name := r.OperatingName
		if name == "" {
			name = r.LegalName
		}
		if name == "" {
			continue
		}

		confidence := 0.9
		industry := r.NAICSCodes
		if r.IndigenousFlag {
			industry = append(industry, "indigenous_owned")
		}

		businesses = append(businesses, Normalize(models.DiscoveredBusiness{
			Name:           name,
			LegalName:      r.LegalName,
			BusinessNumber: r.BN,
			Email:          r.Email,
			Phone:          r.Telephone,
			Website:        r.WebsiteURL,
			Address: models.Address{
				Street:     r.Street,
				City:       r.City,
				Province:   r.Province,
				PostalCode: r.PostalCode,
			},
			Industry:     industry,
			Source:       models.Source{Type: models.HunterTypeGovernment, ID: sourceLocator, URL: fetchURL},
			Confidence:   confidence,
			DiscoveredAt: time.Now().UTC(),
		}))
	}

	logger.Debug("Government registry fetch completed",
		zap.String("hunter_id", h.ID()),
		zap.String("source", sourceLocator),
		zap.Int("records", len(businesses)),
	)

	return businesses, nil
}
