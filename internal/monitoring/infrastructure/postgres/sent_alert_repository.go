package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SentAlertRepository appends a row for every dispatched notification. The
// table is an audit trail; deduplication state lives in memory.
type SentAlertRepository struct {
	db *sql.DB
}

// NewSentAlertRepository constructs a repository.
func NewSentAlertRepository(db *sql.DB) *SentAlertRepository {
	return &SentAlertRepository{db: db}
}

// RecordSent appends one sent alert.
func (r *SentAlertRepository) RecordSent(ctx context.Context, nodeID string, severity, subject string, sentAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("sent alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sent_alerts (node_id, severity, subject, sent_at)
VALUES ($1, $2, $3, $4)`, nodeID, severity, subject, sentAt.UTC())
	return err
}

// CountSince returns the number of alerts sent after the given time.
func (r *SentAlertRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sent alert repo: nil db")
	}
	var count int64
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sent_alerts WHERE sent_at > $1`, since.UTC()).Scan(&count)
	return count, err
}
