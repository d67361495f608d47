package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hunter-swarm/backend/internal/models"
	"github.com/hunter-swarm/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		business_number TEXT,
		source_type TEXT,
		verified INTEGER NOT NULL DEFAULT 0,
		risk_score INTEGER NOT NULL,
		partnership_score INTEGER NOT NULL,
		ownership_type TEXT,
		quality_score INTEGER,
		record TEXT NOT NULL,
		exported INTEGER NOT NULL DEFAULT 0,
		enriched_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_businesses_exported ON businesses(exported);
	CREATE INDEX IF NOT EXISTS idx_businesses_verified ON businesses(verified);
	CREATE INDEX IF NOT EXISTS idx_businesses_ownership ON businesses(ownership_type);

	CREATE TABLE IF NOT EXISTS audit_trail (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id TEXT NOT NULL,
		valid INTEGER NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_business ON audit_trail(business_id);

	CREATE TABLE IF NOT EXISTS export_batches (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		count INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		sent_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON export_batches(status);

	CREATE TABLE IF NOT EXISTS hourly_stats (
		hour INTEGER NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (hour, metric)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// InsertBusiness stores a new version of an accepted enriched record. Versions
// are append-only; re-enrichment writes the next version, never an update.
func (c *Client) InsertBusiness(b models.EnrichedBusiness, qualityScore int) error {
	record, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal business: %w", err)
	}

	query := `
		INSERT INTO businesses (id, version, name, business_number, source_type, verified,
			risk_score, partnership_score, ownership_type, quality_score, record, exported, enriched_at, created_at)
		VALUES (?, (SELECT COALESCE(MAX(version), 0) + 1 FROM businesses WHERE id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	verified := 0
	if b.Verified {
		verified = 1
	}

	_, err = c.db.Exec(
		query,
		b.ID,
		b.ID,
		b.Name,
		b.BusinessNumber,
		b.Source.Type,
		verified,
		b.RiskScore,
		b.PartnershipScore,
		b.OwnershipType,
		qualityScore,
		string(record),
		b.EnrichedAt.Unix(),
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert business: %w", err)
	}

	logger.Debug("Business persisted", zap.String("business_id", b.ID), zap.String("name", b.Name))
	return nil
}

func (c *Client) InsertAuditEntry(businessID string, result models.ValidationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal validation result: %w", err)
	}

	valid := 0
	if result.Valid {
		valid = 1
	}

	query := `INSERT INTO audit_trail (business_id, valid, result, created_at) VALUES (?, ?, ?, ?)`
	_, err = c.db.Exec(query, businessID, valid, string(resultJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// PendingExport returns the latest unexported version of each business, oldest
// first, up to limit.
func (c *Client) PendingExport(limit int) ([]models.EnrichedBusiness, error) {
	query := `
		SELECT record FROM businesses b
		WHERE exported = 0
		AND version = (SELECT MAX(version) FROM businesses WHERE id = b.id)
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending exports: %w", err)
	}
	defer rows.Close()

	var businesses []models.EnrichedBusiness
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var b models.EnrichedBusiness
		if err := json.Unmarshal([]byte(record), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal business record: %w", err)
		}
		businesses = append(businesses, b)
	}

	return businesses, rows.Err()
}

func (c *Client) PendingExportCount() (int64, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM businesses WHERE exported = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending exports: %w", err)
	}
	return count, nil
}

func (c *Client) MarkExported(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE businesses SET exported = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("failed to mark business exported: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) InsertExportBatch(batch models.ExportBatch) error {
	query := `INSERT INTO export_batches (id, status, count, created_at) VALUES (?, ?, ?, ?)`
	_, err := c.db.Exec(query, batch.ID, batch.Status, batch.Count, batch.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert export batch: %w", err)
	}
	return nil
}

func (c *Client) UpdateExportBatchStatus(id, status string, sentAt *time.Time) error {
	var sent interface{}
	if sentAt != nil {
		sent = sentAt.Unix()
	}

	query := `UPDATE export_batches SET status = ?, sent_at = ? WHERE id = ?`
	_, err := c.db.Exec(query, status, sent, id)
	if err != nil {
		return fmt.Errorf("failed to update export batch: %w", err)
	}
	return nil
}

// Businesses returns the latest version of accepted records matching the
// filter, for ad-hoc exports.
func (c *Client) Businesses(filter map[string]string, limit int) ([]models.EnrichedBusiness, error) {
	query := `
		SELECT record FROM businesses b
		WHERE version = (SELECT MAX(version) FROM businesses WHERE id = b.id)
	`
	args := []interface{}{}

	if v, ok := filter["ownership_type"]; ok {
		query += ` AND ownership_type = ?`
		args = append(args, v)
	}
	if v, ok := filter["source_type"]; ok {
		query += ` AND source_type = ?`
		args = append(args, v)
	}
	if v, ok := filter["verified"]; ok {
		verified := 0
		if v == "true" {
			verified = 1
		}
		query += ` AND verified = ?`
		args = append(args, verified)
	}

	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	var businesses []models.EnrichedBusiness
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var b models.EnrichedBusiness
		if err := json.Unmarshal([]byte(record), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal business record: %w", err)
		}
		businesses = append(businesses, b)
	}

	return businesses, rows.Err()
}

func (c *Client) TotalAccepted() (int64, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(DISTINCT id) FROM businesses`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count businesses: %w", err)
	}
	return count, nil
}

func (c *Client) TotalIndigenous() (int64, error) {
	var count int64
	err := c.db.QueryRow(
		`SELECT COUNT(DISTINCT id) FROM businesses WHERE ownership_type IN (?, ?)`,
		models.OwnershipIndigenousOwned,
		models.OwnershipIndigenousPartnership,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count indigenous businesses: %w", err)
	}
	return count, nil
}

// RecordHourlyStat upserts a rolling per-hour counter used by the progress and
// rate views.
func (c *Client) RecordHourlyStat(metric string, delta float64) error {
	hour := time.Now().Truncate(time.Hour).Unix()

	query := `
		INSERT INTO hourly_stats (hour, metric, value) VALUES (?, ?, ?)
		ON CONFLICT(hour, metric) DO UPDATE SET value = value + excluded.value
	`
	_, err := c.db.Exec(query, hour, metric, delta)
	if err != nil {
		return fmt.Errorf("failed to record hourly stat: %w", err)
	}
	return nil
}

func (c *Client) HourlyStat(metric string, hour time.Time) (float64, error) {
	var value float64
	err := c.db.QueryRow(
		`SELECT value FROM hourly_stats WHERE hour = ? AND metric = ?`,
		hour.Truncate(time.Hour).Unix(), metric,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hourly stat: %w", err)
	}
	return value, nil
}
