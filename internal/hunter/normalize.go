package hunter

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/utils"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	phoneStripPattern = regexp.MustCompile(`[^\d+]`)

	legalSuffixes = []string{"inc", "inc.", "ltd", "ltd.", "llc", "corp", "corp.", "co.", "limited", "incorporated", "corporation"}
)

// Normalize canonicalizes a raw candidate record into the shared
// DiscoveredBusiness shape. It is a fixed point: normalizing an already
// normalized record changes nothing.
func Normalize(b models.DiscoveredBusiness) models.DiscoveredBusiness {
	b.Name = collapseWhitespace(b.Name)
	b.LegalName = collapseWhitespace(b.LegalName)
	b.BusinessNumber = strings.ToUpper(strings.ReplaceAll(b.BusinessNumber, " ", ""))
	b.Email = normalizeEmail(b.Email)
	b.Phone = normalizePhone(b.Phone)
	b.Website = normalizeWebsite(b.Website)

	b.Address.Street = collapseWhitespace(b.Address.Street)
	b.Address.City = collapseWhitespace(b.Address.City)
	b.Address.Province = strings.ToUpper(collapseWhitespace(b.Address.Province))
	b.Address.PostalCode = strings.ToUpper(strings.ReplaceAll(b.Address.PostalCode, " ", ""))
	if b.Address.Country == "" {
		b.Address.Country = "CA"
	}

	for i, tag := range b.Industry {
		b.Industry[i] = strings.ToLower(collapseWhitespace(tag))
	}

	if b.Confidence < 0 {
		b.Confidence = 0
	}
	if b.Confidence > 1 {
		b.Confidence = 1
	}

	if b.DiscoveredAt.IsZero() {
		b.DiscoveredAt = time.Now().UTC()
	}
	if b.ID == "" {
		b.ID = utils.HashKey(CanonicalName(b.Name), strings.ToLower(b.Address.City), b.Source.Type)
	}

	return b
}

// CanonicalName lowercases a business name and strips legal suffixes, for
// identity keying only. Display names keep their original form.
func CanonicalName(name string) string {
	canonical := strings.ToLower(collapseWhitespace(name))
	canonical = strings.Trim(canonical, ".,")

	for _, suffix := range legalSuffixes {
		trimmed := strings.TrimSuffix(canonical, " "+suffix)
		if trimmed != canonical {
			canonical = strings.TrimRight(trimmed, " .,")
			break
		}
	}

	return canonical
}

// IdentityKey derives the dedup reservation key for a business.
func IdentityKey(b models.DiscoveredBusiness) string {
	return utils.HashKey(CanonicalName(b.Name), strings.ToLower(b.Address.City))
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func normalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ""
	}
	return email
}

func normalizePhone(phone string) string {
	phone = phoneStripPattern.ReplaceAllString(phone, "")
	if len(phone) < 7 {
		return ""
	}
	return phone
}

func normalizeWebsite(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
		website = "https://" + website
	}

	u, err := url.Parse(website)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}
