package sendlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one completed instant-send campaign, logged out-of-band by the
// application after a synchronous send. Tenant listings merge these with
// queued jobs.
type Record struct {
	ID           string     `json:"id"`
	CompanyID    string     `json:"companyId"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	Channel      string     `json:"channel"` // email, sms, whatsapp
	Provider     string     `json:"provider,omitempty"`
	CampaignName string     `json:"campaignName"`
	Recipients   int        `json:"recipients"`
	Sent         int        `json:"sent"`
	Failed       int        `json:"failed"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Status constants for instant-send records
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

const migrationSends = `
CREATE TABLE IF NOT EXISTS instant_sends (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    created_by TEXT,
    channel TEXT NOT NULL,
    provider TEXT,
    campaign_name TEXT NOT NULL,
    recipients INTEGER NOT NULL DEFAULT 0,
    sent INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_instant_sends_company ON instant_sends(company_id, created_at);
CREATE INDEX IF NOT EXISTS idx_instant_sends_created ON instant_sends(created_at);
`

// Log is the completed-campaigns log backed by SQLite.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the send log at path and applies the
// schema migration.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(migrationSends); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Ping verifies the database is reachable.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Insert stores a new record, assigning ID and CreatedAt when unset.
func (l *Log) Insert(ctx context.Context, r *Record) error {
	if r.CompanyID == "" {
		return fmt.Errorf("company id is required")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO instant_sends (id, company_id, created_by, channel, provider, campaign_name,
			recipients, sent, failed, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CompanyID, nullString(r.CreatedBy), r.Channel, nullString(r.Provider), r.CampaignName,
		r.Recipients, r.Sent, r.Failed, r.Status, r.CreatedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert send record: %w", err)
	}
	return nil
}

// ListByCompany returns one tenant's records, newest first.
func (l *Log) ListByCompany(ctx context.Context, companyID string) ([]*Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, company_id, created_by, channel, provider, campaign_name,
			recipients, sent, failed, status, created_at, completed_at
		FROM instant_sends
		WHERE company_id = ?
		ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list send records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var createdBy, provider sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(&r.ID, &r.CompanyID, &createdBy, &r.Channel, &provider, &r.CampaignName,
			&r.Recipients, &r.Sent, &r.Failed, &r.Status, &r.CreatedAt, &completedAt); err != nil {
			return nil, err
		}

		r.CreatedBy = createdBy.String
		r.Provider = provider.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Cleanup deletes records older than maxAge and returns the count removed.
func (l *Log) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := l.db.ExecContext(ctx, `DELETE FROM instant_sends WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up send records: %w", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
