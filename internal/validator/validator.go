package validator

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/hunter"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/internal/queue"
	"github.com/hunter-swarm/backend/pkg/logger"
)

var (
	// CRA business number: nine digits, optionally a program account suffix.
	businessNumberPattern = regexp.MustCompile(`^\d{9}(R[CTPM]\d{4})?$`)
)

const (
	// BlacklistSet holds canonical names of businesses that must never pass.
	BlacklistSet = "blacklist"

	dedupPrefix = "dedup:"
	seenPrefix  = "seen:"
)

type Validator struct {
	store   queue.Store
	seenTTL time.Duration
}

func New(store queue.Store, seenTTL time.Duration) *Validator {
	if seenTTL == 0 {
		seenTTL = 168 * time.Hour
	}
	return &Validator{store: store, seenTTL: seenTTL}
}

// Validate runs every sub-check on the record and returns the full diagnostic
// set; checks are never short-circuited, so a rejected record still reports
// which other checks it would have passed. Overall validity is the AND of all
// checks. Given identical input and identical dedup-index state, the result is
// identical.
func (v *Validator) Validate(ctx context.Context, b models.DiscoveredBusiness) models.ValidationResult {
	result := models.ValidationResult{
		Checks:      make(map[string]bool, 7),
		ValidatedAt: time.Now().UTC(),
	}

	result.Checks[models.CheckBasicInfo] = v.checkBasicInfo(b, &result)
	result.Checks[models.CheckBusinessNumber] = v.checkBusinessNumber(b, &result)
	result.Checks[models.CheckContact] = v.checkContact(b, &result)
	result.Checks[models.CheckAddress] = v.checkAddress(b, &result)
	result.Checks[models.CheckWebPresence] = v.checkWebPresence(b, &result)
	result.Checks[models.CheckBlacklist] = v.checkBlacklist(ctx, b, &result)

	// A blacklisted record must leave no trace in the dedup index, so the
	// duplicate reservation is skipped and the check passes vacuously.
	if result.Checks[models.CheckBlacklist] {
		result.Checks[models.CheckDuplicate] = v.checkDuplicate(ctx, b, &result)
		v.markSeen(ctx, b)
	} else {
		result.Checks[models.CheckDuplicate] = true
	}

	result.Valid = true
	for _, ok := range result.Checks {
		result.Valid = result.Valid && ok
	}

	logger.Debug("Business validated",
		zap.String("business_id", b.ID),
		zap.String("name", b.Name),
		zap.Bool("valid", result.Valid),
		zap.Strings("reasons", result.Reasons),
	)

	return result
}

func (v *Validator) checkBasicInfo(b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	if len(b.Name) < 2 {
		result.Reasons = append(result.Reasons, "name missing or too short")
		return false
	}
	if b.Confidence < 0.3 {
		result.Reasons = append(result.Reasons, "source confidence below floor")
		return false
	}
	return true
}

func (v *Validator) checkBusinessNumber(b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	// An absent number is not a claim; only a malformed one fails.
	if b.BusinessNumber == "" {
		return true
	}
	if !businessNumberPattern.MatchString(b.BusinessNumber) {
		result.Reasons = append(result.Reasons, "malformed business number")
		return false
	}
	return true
}

func (v *Validator) checkContact(b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	if b.Email == "" && b.Phone == "" && b.Website == "" {
		result.Reasons = append(result.Reasons, "no contact information")
		return false
	}
	return true
}

func (v *Validator) checkAddress(b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	if b.Address.City == "" || b.Address.Province == "" {
		result.Reasons = append(result.Reasons, "incomplete address")
		return false
	}
	return true
}

func (v *Validator) checkWebPresence(b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	if b.Website == "" && b.Email == "" {
		result.Reasons = append(result.Reasons, "no web presence")
		return false
	}
	return true
}

func (v *Validator) checkBlacklist(ctx context.Context, b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	blacklisted, err := v.store.SetContains(ctx, BlacklistSet, hunter.CanonicalName(b.Name))
	if err != nil {
		// An unreadable blacklist fails closed.
		result.Reasons = append(result.Reasons, fmt.Sprintf("blacklist check unavailable: %v", err))
		return false
	}
	if blacklisted {
		result.Reasons = append(result.Reasons, "name is blacklisted")
		return false
	}
	return true
}

// checkDuplicate reserves the record's identity keys so two concurrent
// validations of the same underlying business cannot both pass. The
// reservation stands even if the record is later rejected on another check.
func (v *Validator) checkDuplicate(ctx context.Context, b models.DiscoveredBusiness, result *models.ValidationResult) bool {
	claimed, err := v.store.MarkOnce(ctx, dedupPrefix+hunter.IdentityKey(b), v.seenTTL)
	if err != nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("dedup index unavailable: %v", err))
		return false
	}
	if !claimed {
		result.Reasons = append(result.Reasons, "duplicate of a previously seen business")
		return false
	}

	if b.BusinessNumber != "" {
		claimed, err = v.store.MarkOnce(ctx, dedupPrefix+"bn:"+b.BusinessNumber, v.seenTTL)
		if err != nil {
			result.Reasons = append(result.Reasons, fmt.Sprintf("dedup index unavailable: %v", err))
			return false
		}
		if !claimed {
			result.Reasons = append(result.Reasons, "duplicate business number")
			return false
		}
	}

	return true
}

func (v *Validator) markSeen(ctx context.Context, b models.DiscoveredBusiness) {
	if _, err := v.store.MarkOnce(ctx, seenPrefix+hunter.IdentityKey(b), v.seenTTL); err != nil {
		logger.Warn("Failed to mark business as seen", zap.String("business_id", b.ID), zap.Error(err))
	}
}
