package enricher

import "github.com/hunter-swarm/backend/internal/models"

// RiskScore derives a 0-100 risk value from the enrichment outcome. The
// computation is a pure function of the record, so re-running it on the same
// snapshot always yields the same score.
func RiskScore(b models.EnrichedBusiness) int {
	score := 0.0

	if !b.Verified {
		score += 30
	} else if b.Verification.Confidence >= 0.8 {
		score += 10
	} else {
		score += 20
	}

	if b.TaxDebt.HasDebt {
		score += b.TaxDebt.Risk * 0.5
	}

	score += float64(len(b.Verification.Issues)) * 5

	return clampScore(score)
}

// PartnershipScore derives a 0-100 partnership suitability value.
func PartnershipScore(b models.EnrichedBusiness) int {
	score := 0.0

	if b.Verified {
		score += 30
	}

	switch b.OwnershipType {
	case models.OwnershipIndigenousOwned:
		score += 25
	case models.OwnershipIndigenousPartnership:
		score += 20
	}

	if b.BusinessNumber != "" {
		score += 10
	}
	if b.Website != "" {
		score += 5
	}
	if b.Email != "" && b.Phone != "" {
		score += 10
	}
	if b.Address.Remote || b.Address.OnReserve {
		score += 10
	}

	return clampScore(score)
}

func clampScore(score float64) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}
