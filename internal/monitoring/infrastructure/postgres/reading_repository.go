package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

const defaultReadingsTable = "sensor_readings"

// ReadingRepository is a Postgres store for per-channel sensor readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// ReadingRepositoryOption configures the repository.
type ReadingRepositoryOption func(*ReadingRepository)

// WithReadingsTable overrides the default table name.
func WithReadingsTable(table string) ReadingRepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with the default table name.
func NewReadingRepository(db *sql.DB, opts ...ReadingRepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SaveReading upserts every channel of a reading. Re-fetching the same
// record is harmless because the key is (node_id, channel, ts).
func (r *ReadingRepository) SaveReading(ctx context.Context, reading monitoring.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (node_id, channel, ts, value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (node_id, channel, ts)
DO UPDATE SET value = EXCLUDED.value`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, cv := range reading.Channels {
		if _, err := stmt.ExecContext(ctx, reading.NodeID, cv.Channel, reading.Timestamp.UTC(), cv.Value); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestByNode returns the newest stored reading for a node with all its
// channels. Returns monitoring.ErrNotFound when the node has no rows.
func (r *ReadingRepository) LatestByNode(ctx context.Context, nodeID string) (monitoring.Reading, error) {
	if r == nil || r.db == nil {
		return monitoring.Reading{}, errors.New("reading repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT channel, ts, value
FROM %s
WHERE node_id = $1 AND ts = (SELECT MAX(ts) FROM %s WHERE node_id = $1)
ORDER BY channel`, r.table, r.table)

	rows, err := r.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return monitoring.Reading{}, err
	}
	defer rows.Close()

	reading := monitoring.Reading{NodeID: nodeID}
	for rows.Next() {
		var channel string
		var ts time.Time
		var value float64
		if err := rows.Scan(&channel, &ts, &value); err != nil {
			return monitoring.Reading{}, err
		}
		reading.Timestamp = ts.UTC()
		reading.Channels = append(reading.Channels, monitoring.ChannelValue{Channel: channel, Value: value})
	}
	if err := rows.Err(); err != nil {
		return monitoring.Reading{}, err
	}
	if len(reading.Channels) == 0 {
		return monitoring.Reading{}, monitoring.ErrNotFound
	}
	return reading, nil
}

// ListByNodeRange returns readings for a node within [from, to], newest
// first, grouped by timestamp.
func (r *ReadingRepository) ListByNodeRange(ctx context.Context, nodeID string, from, to time.Time) ([]monitoring.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if !to.After(from) {
		return nil, errors.New("reading repo: empty range")
	}

	query := fmt.Sprintf(`
SELECT channel, ts, value
FROM %s
WHERE node_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts DESC, channel`, r.table)

	rows, err := r.db.QueryContext(ctx, query, nodeID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []monitoring.Reading
	for rows.Next() {
		var channel string
		var ts time.Time
		var value float64
		if err := rows.Scan(&channel, &ts, &value); err != nil {
			return nil, err
		}
		ts = ts.UTC()
		if len(readings) == 0 || !readings[len(readings)-1].Timestamp.Equal(ts) {
			readings = append(readings, monitoring.Reading{NodeID: nodeID, Timestamp: ts})
		}
		last := &readings[len(readings)-1]
		last.Channels = append(last.Channels, monitoring.ChannelValue{Channel: channel, Value: value})
	}
	return readings, rows.Err()
}
