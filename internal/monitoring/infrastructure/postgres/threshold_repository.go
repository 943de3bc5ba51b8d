package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

// ThresholdRepository is a Postgres store for per-node channel limits.
// Rows here override the configured defaults at tick time.
type ThresholdRepository struct {
	db *sql.DB
}

// NewThresholdRepository constructs a repository.
func NewThresholdRepository(db *sql.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// Snapshot loads every stored threshold into a ThresholdSet.
func (r *ThresholdRepository) Snapshot(ctx context.Context) (monitoring.ThresholdSet, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT node_id, channel, warning_limit, alert_limit, updated_at
FROM thresholds`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := monitoring.ThresholdSet{}
	for rows.Next() {
		var threshold monitoring.Threshold
		if err := rows.Scan(
			&threshold.NodeID,
			&threshold.Channel,
			&threshold.WarningLimit,
			&threshold.AlertLimit,
			&threshold.UpdatedAt,
		); err != nil {
			return nil, err
		}
		threshold.UpdatedAt = threshold.UpdatedAt.UTC()
		set.Add(threshold)
	}
	return set, rows.Err()
}

// Upsert inserts or updates one threshold row.
func (r *ThresholdRepository) Upsert(ctx context.Context, threshold monitoring.Threshold) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if err := threshold.Validate(); err != nil {
		return err
	}
	if threshold.UpdatedAt.IsZero() {
		threshold.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO thresholds (node_id, channel, warning_limit, alert_limit, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (node_id, channel)
DO UPDATE SET
	warning_limit = EXCLUDED.warning_limit,
	alert_limit = EXCLUDED.alert_limit,
	updated_at = EXCLUDED.updated_at`,
		threshold.NodeID,
		threshold.Channel,
		threshold.WarningLimit,
		threshold.AlertLimit,
		threshold.UpdatedAt,
	)
	return err
}
