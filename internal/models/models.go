package models

import (
	"encoding/json"
	"time"
)

// Hunter source categories. Closed set; the hunter factory rejects anything else.
const (
	HunterTypeGovernment = "government"
	HunterTypeRegistry   = "registry"
	HunterTypeDirectory  = "directory"
	HunterTypeSocial     = "social"
)

// Task types, one per pipeline stage.
const (
	TaskTypeDiscover = "discover"
	TaskTypeValidate = "validate"
	TaskTypeEnrich   = "enrich"
	TaskTypeExport   = "export"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusDeadLetter = "dead_letter"
)

type Source struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	OnReserve  bool   `json:"on_reserve,omitempty"`
	Remote     bool   `json:"remote,omitempty"`
}

type DiscoveredBusiness struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LegalName      string    `json:"legal_name,omitempty"`
	BusinessNumber string    `json:"business_number,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Website        string    `json:"website,omitempty"`
	Address        Address   `json:"address"`
	Industry       []string  `json:"industry,omitempty"`
	Source         Source    `json:"source"`
	Confidence     float64   `json:"confidence"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// Validation sub-check names. All seven run on every record.
const (
	CheckBasicInfo      = "basic_info"
	CheckBusinessNumber = "business_number"
	CheckContact        = "contact"
	CheckAddress        = "address"
	CheckWebPresence    = "web_presence"
	CheckDuplicate      = "duplicate"
	CheckBlacklist      = "blacklist"
)

type ValidationResult struct {
	Valid       bool            `json:"valid"`
	Checks      map[string]bool `json:"checks"`
	Reasons     []string        `json:"reasons,omitempty"`
	ValidatedAt time.Time       `json:"validated_at"`
}

type Verification struct {
	Verified   bool     `json:"verified"`
	Confidence float64  `json:"confidence"`
	Status     string   `json:"status,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

type TaxDebt struct {
	HasDebt bool    `json:"has_debt"`
	Risk    float64 `json:"risk"`
}

type Certification struct {
	Name       string    `json:"name"`
	Issuer     string    `json:"issuer,omitempty"`
	ValidUntil time.Time `json:"valid_until,omitempty"`
}

type ProcurementReadiness struct {
	Score        int      `json:"score"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Ownership categories recognized by the partnership scorer.
const (
	OwnershipIndigenousOwned       = "indigenous_owned"
	OwnershipIndigenousPartnership = "indigenous_partnership"
)

type EnrichedBusiness struct {
	DiscoveredBusiness

	Verified         bool                 `json:"verified"`
	Verification     Verification         `json:"verification"`
	TaxDebt          TaxDebt              `json:"tax_debt"`
	Certifications   []Certification      `json:"certifications,omitempty"`
	Readiness        ProcurementReadiness `json:"readiness"`
	OwnershipType    string               `json:"ownership_type,omitempty"`
	RiskScore        int                  `json:"risk_score"`
	PartnershipScore int                  `json:"partnership_score"`
	Degraded         bool                 `json:"degraded"`
	EnrichedAt       time.Time            `json:"enriched_at"`
}

type HuntingTask struct {
	ID        string          `json:"id"`
	HunterID  string          `json:"hunter_id,omitempty"`
	Source    Source          `json:"source"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type HunterConfig struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	RateLimit int      `json:"rate_limit"`
	Priority  int      `json:"priority"`
	Enabled   bool     `json:"enabled"`
	Sources   []string `json:"sources,omitempty"`
}

type QualityScore struct {
	Overall         int       `json:"overall"`
	Completeness    float64   `json:"completeness"`
	Accuracy        float64   `json:"accuracy"`
	Consistency     float64   `json:"consistency"`
	Timeliness      float64   `json:"timeliness"`
	Uniqueness      float64   `json:"uniqueness"`
	Validity        float64   `json:"validity"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}

type Progress struct {
	TotalDiscovered      int64   `json:"total_discovered"`
	IndigenousIdentified int64   `json:"indigenous_identified"`
	PercentComplete      float64 `json:"percent_complete"`
	ActiveHunters        int     `json:"active_hunters"`
	DiscoveryRate        float64 `json:"discovery_rate"`
}

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

type HealthSnapshot struct {
	Status        string           `json:"status"`
	QueueDepths   map[string]int64 `json:"queue_depths"`
	ActiveHunters int              `json:"active_hunters"`
	TotalHunters  int              `json:"total_hunters"`
	ErrorRate     float64          `json:"error_rate"`
	DeadLettered  int64            `json:"dead_lettered"`
	CheckedAt     time.Time        `json:"checked_at"`
}

type ExportBatch struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Count     int        `json:"count"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}
