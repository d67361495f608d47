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

// socialHunter extracts business details from public social profile pages.
// Social profiles are the least trustworthy source, so records carry a low
// confidence and usually need corroboration from another hunter before they
// pass validation.
type socialHunter struct {
	base
	baseURL string
}

func newSocialHunter(cfg models.HunterConfig, baseURL string) *socialHunter {
	return &socialHunter{base: newBase(cfg), baseURL: baseURL}
}

func (h *socialHunter) Hunt(ctx context.Context, sourceLocator string) ([]models.DiscoveredBusiness, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}

	fetchURL := fmt.Sprintf("%s/profiles/%s", h.baseURL, sourceLocator)
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

	var businesses []models.DiscoveredBusiness
	doc.Find(".profile-card").Each(func(i int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Find(".profile-name").First().Text())
		if name == "" {
			return
		}

		// Profile metadata lives in itemprop attributes when present.
		website := firstAttr(s.Find("[itemprop=url]"), "href")
		if website == "" {
			website, _ = s.Find("a.external-link").First().Attr("href")
		}
		city := strings.TrimSpace(s.Find("[itemprop=addressLocality], .location").First().Text())

		var industry []string
		s.Find(".profile-tag").Each(func(_ int, t *goquery.Selection) {
			if tag := strings.TrimSpace(t.Text()); tag != "" {
				industry = append(industry, tag)
			}
		})

		businesses = append(businesses, Normalize(models.DiscoveredBusiness{
			Name:    name,
			Website: website,
			Address: models.Address{
				City: city,
			},
			Industry:     industry,
			Source:       models.Source{Type: models.HunterTypeSocial, ID: sourceLocator, URL: fetchURL},
			Confidence:   0.4,
			DiscoveredAt: time.Now().UTC(),
		}))
	})

	logger.Debug("Social profile scrape completed",
		zap.String("hunter_id", h.ID()),
		zap.String("source", sourceLocator),
		zap.Int("records", len(businesses)),
	)

	return businesses, nil
}
