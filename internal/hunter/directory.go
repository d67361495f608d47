package hunter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/logger"
)

// directoryHunter scrapes organization directory listings, including
// indigenous-organization member directories published as plain HTML.
type directoryHunter struct {
	base
	baseURL string
}

func newDirectoryHunter(cfg models.HunterConfig, baseURL string) *directoryHunter {
	return &directoryHunter{base: newBase(cfg), baseURL: baseURL}
}

func (h *directoryHunter) Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/directory/%s", h.baseURL, sourceLocator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: sourceLocator, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &FetchError{Source: sourceLocator, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}

	indigenous := strings.Contains(strings.ToLower(sourceLocator), "indigenous")

	var businesses []models.DiscoveredBusiness
	doc.Find(".listing, .member-listing, article.business").Each(func(i int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Find("h2, h3, .business-name").First().Text())
		if name == "" {
			return
		}

		website, _ := s.Find("a.website, a[rel=external]").First().Attr("href")
		email := strings.TrimPrefix(firstAttr(s.Find("a[href^='mailto:']"), "href"), "mailto:")
		phone := strings.TrimPrefix(firstAttr(s.Find("a[href^='tel:']"), "href"), "tel:")
		city := strings.TrimSpace(s.Find(".city, .locality").First().Text())
		province := strings.TrimSpace(s.Find(".province, .region").First().Text())

		var industry []string
		s.Find(".category, .tag").Each(func(_ int, t *goquery.Selection) {
			if tag := strings.TrimSpace(t.Text()); tag != "" {
				industry = append(industry, tag)
			}
		})
		if indigenous {
			industry = append(industry, "indigenous_owned")
		}

		businesses = append(businesses, Normalize(models.DiscoveredBusiness{
			Name:    name,
			Email:   email,
			Phone:   phone,
			Website: website,
			Address: models.Address{
				City:     city,
				Province: province,
			},
			Industry:     industry,
			Source:       models.Source{Type: models.HunterTypeDirectory, ID: sourceLocator, URL: fetchURL},
			Confidence:   0.6,
			DiscoveredAt: time.Now().UTC(),
		}))
	})

	logger.Debug("Directory scrape completed",
		zap.String("hunter_id", h.ID()),
		zap.String("source", sourceLocator),
		zap.Int("records", len(businesses)),
	)

	return businesses, nil
}

func firstAttr(s *goquery.Selection, attr string) string {
	val, _ := s.First().Attr(attr)
	return val
}
