package aggregator

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/metrics"
	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/logger"
	"github.com/hunter-swarm/backend/pkg/retry"
)

// Storage is the persistence the aggregator requires; satisfied by the sqlite
// client and stubbed in tests.
type Storage interface {
	InsertBusiness(b models.EnrichedBusiness, qualityScore int) error
	InsertAuditEntry(businessID string, result models.ValidationResult) error
	PendingExport(limit int) ([]models.EnrichedBusiness, error)
	PendingExportCount() (int64, error)
	MarkExported(ids []string) error
	InsertExportBatch(batch models.ExportBatch) error
	UpdateExportBatchStatus(id, status string, sentAt *time.Time) error
	Businesses(filter map[string]string, limit int) ([]models.EnrichedBusiness, error)
	TotalAccepted() (int64, error)
	TotalIndigenous() (int64, error)
	RecordHourlyStat(metric string, delta float64) error
	HourlyStat(metric string, hour time.Time) (float64, error)
}

type Config struct {
	BatchSize    int
	MaxInterval  time.Duration
	WebhookURL   string
	WebhookToken string
}

// Aggregator persists accepted records and ships them downstream in batches:
// a batch goes out when the pending count crosses the batch size or when the
// maximum inter-export interval elapses, whichever comes first.
type Aggregator struct {
	storage      Storage
	batchSize    int
	maxInterval  time.Duration
	webhookURL   string
	webhookToken string
	httpClient   *http.Client

	mu         sync.Mutex
	lastExport time.Time
}

func New(storage Storage, cfg Config) *Aggregator {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = time.Hour
	}

	return &Aggregator{
		storage:      storage,
		batchSize:    cfg.BatchSize,
		maxInterval:  cfg.MaxInterval,
		webhookURL:   cfg.WebhookURL,
		webhookToken: cfg.WebhookToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		lastExport:   time.Now(),
	}
}

// Accept persists an enriched record with its audit trail and hourly counters.
func (a *Aggregator) Accept(ctx context.Context, b models.EnrichedBusiness, result models.ValidationResult, qualityScore int) error {
	if err := a.storage.InsertBusiness(b, qualityScore); err != nil {
		return fmt.Errorf("failed to persist business: %w", err)
	}

	if err := a.storage.InsertAuditEntry(b.ID, result); err != nil {
		logger.Warn("Failed to record audit entry", zap.String("business_id", b.ID), zap.Error(err))
	}

	if err := a.storage.RecordHourlyStat("accepted", 1); err != nil {
		logger.Warn("Failed to record hourly stat", zap.Error(err))
	}

	return nil
}

// RecordAudit attaches a validation result to a business's audit trail,
// whether or not the record was accepted.
func (a *Aggregator) RecordAudit(businessID string, result models.ValidationResult) error {
	return a.storage.InsertAuditEntry(businessID, result)
}

// MaybeExport ships a batch if either export trigger has fired. Returns the
// number of records exported, zero when no trigger fired.
func (a *Aggregator) MaybeExport(ctx context.Context) (int, error) {
	pending, err := a.storage.PendingExportCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending exports: %w", err)
	}
	if pending == 0 {
		return 0, nil
	}

	a.mu.Lock()
	intervalElapsed := time.Since(a.lastExport) >= a.maxInterval
	a.mu.Unlock()

	if pending < int64(a.batchSize) && !intervalElapsed {
		return 0, nil
	}

	return a.Flush(ctx)
}

// Flush exports up to one batch of pending records immediately. A webhook
// failure leaves every record pending and the batch row marked failed; nothing
// is dropped.
func (a *Aggregator) Flush(ctx context.Context) (int, error) {
	businesses, err := a.storage.PendingExport(a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending exports: %w", err)
	}
	if len(businesses) == 0 {
		return 0, nil
	}

	batch := models.ExportBatch{
		ID:        uuid.New().String(),
		Status:    "pending",
		Count:     len(businesses),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.storage.InsertExportBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to record export batch: %w", err)
	}

	if err := a.deliver(ctx, businesses); err != nil {
		logger.Error("Export webhook delivery failed, batch remains pending",
			zap.String("batch_id", batch.ID),
			zap.Int("count", batch.Count),
			zap.Error(err),
		)
		metrics.ExportBatches.WithLabelValues("failed").Inc()
		if updateErr := a.storage.UpdateExportBatchStatus(batch.ID, "failed", nil); updateErr != nil {
			logger.Warn("Failed to update batch status", zap.Error(updateErr))
		}
		return 0, nil
	}

	ids := make([]string, len(businesses))
	for i, b := range businesses {
		ids[i] = b.ID
	}
	if err := a.storage.MarkExported(ids); err != nil {
		return 0, fmt.Errorf("failed to mark businesses exported: %w", err)
	}

	now := time.Now().UTC()
	if err := a.storage.UpdateExportBatchStatus(batch.ID, "sent", &now); err != nil {
		logger.Warn("Failed to update batch status", zap.Error(err))
	}

	a.mu.Lock()
	a.lastExport = now
	a.mu.Unlock()

	metrics.ExportBatches.WithLabelValues("sent").Inc()
	metrics.BusinessesExported.Add(float64(len(businesses)))

	logger.Info("Export batch delivered",
		zap.String("batch_id", batch.ID),
		zap.Int("count", batch.Count),
	)

	return len(businesses), nil
}

func (a *Aggregator) deliver(ctx context.Context, businesses []models.EnrichedBusiness) error {
	if a.webhookURL == "" {
		// No downstream configured; treat the batch as delivered so local
		// runs drain instead of accumulating forever.
		return nil
	}

	totalAccepted, _ := a.storage.TotalAccepted()
	payload := map[string]interface{}{
		"businesses": businesses,
		"source":     "hunter_swarm",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metrics": map[string]interface{}{
			"batch_size":     len(businesses),
			"total_accepted": totalAccepted,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal export payload: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.Logger = logger.Log

	return retry.Do(ctx, cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.webhookToken)
		req.Header.Set("X-Batch-Size", strconv.Itoa(len(businesses)))

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// Export serves an ad-hoc export in the requested format without touching
// pipeline state.
func (a *Aggregator) Export(ctx context.Context, format string, filter map[string]string) ([]byte, error) {
	businesses, err := a.storage.Businesses(filter, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load businesses: %w", err)
	}

	switch strings.ToLower(format) {
	case "", "json":
		return json.MarshalIndent(businesses, "", "  ")
	case "csv":
		return exportCSV(businesses)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(businesses []models.EnrichedBusiness) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "name", "business_number", "email", "phone", "website",
		"city", "province", "verified", "ownership_type", "risk_score", "partnership_score"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, b := range businesses {
		row := []string{
			b.ID, b.Name, b.BusinessNumber, b.Email, b.Phone, b.Website,
			b.Address.City, b.Address.Province,
			strconv.FormatBool(b.Verified), b.OwnershipType,
			strconv.Itoa(b.RiskScore), strconv.Itoa(b.PartnershipScore),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// Progress summarizes acceptance counters for the control surface.
func (a *Aggregator) Progress() (total, indigenous int64, rate float64) {
	total, err := a.storage.TotalAccepted()
	if err != nil {
		logger.Warn("Failed to read total accepted", zap.Error(err))
	}
	indigenous, err = a.storage.TotalIndigenous()
	if err != nil {
		logger.Warn("Failed to read indigenous count", zap.Error(err))
	}
	rate, err = a.storage.HourlyStat("accepted", time.Now())
	if err != nil {
		logger.Warn("Failed to read hourly rate", zap.Error(err))
	}
	return total, indigenous, rate
}
