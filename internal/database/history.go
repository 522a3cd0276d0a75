package database

import (
	"database/sql"
	"fmt"
	"time"

	"jordanella.com/gather-bot/internal/march"
)

// SaveMarch inserts a march or updates the mutable columns of an existing one
func (db *DB) SaveMarch(r march.Record) error {
	if r.ID == "" {
		return fmt.Errorf("march record for %s has no id", r.Key())
	}
	h := historyFromRecord(r)

	return db.ExecTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO march_history (
				id, instance_id, slot, resource, level,
				march_ms, gather_ms, total_ms, details_collected,
				deployed_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				level = excluded.level,
				gather_ms = excluded.gather_ms,
				total_ms = excluded.total_ms,
				details_collected = excluded.details_collected,
				completed_at = COALESCE(excluded.completed_at, march_history.completed_at)
		`, h.ID, h.InstanceID, h.Slot, h.Resource, h.Level,
			h.MarchMs, h.GatherMs, h.TotalMs, h.DetailsCollected,
			h.DeployedAt, h.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to save march %s: %w", h.ID, err)
		}
		return nil
	})
}

// GetMarch retrieves a march by ID
func (db *DB) GetMarch(id string) (*MarchHistory, error) {
	row := db.conn.QueryRow(`
		SELECT
			id, instance_id, slot, resource, level,
			march_ms, gather_ms, total_ms, details_collected,
			deployed_at, completed_at
		FROM march_history
		WHERE id = ?
	`, id)
	return scanMarch(row)
}

// QueryHistory returns marches newest first
func (db *DB) QueryHistory(filter HistoryFilter) ([]*MarchHistory, error) {
	query := `
		SELECT
			id, instance_id, slot, resource, level,
			march_ms, gather_ms, total_ms, details_collected,
			deployed_at, completed_at
		FROM march_history
		WHERE 1 = 1
	`
	args := []interface{}{}

	if filter.InstanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *filter.InstanceID)
	}
	if filter.Resource != "" {
		query += " AND resource = ?"
		args = append(args, filter.Resource)
	}
	if !filter.Since.IsZero() {
		query += " AND deployed_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY deployed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*MarchHistory{}
	for rows.Next() {
		h, err := scanMarch(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// CompletedByResource counts completed marches per resource since a point in time
func (db *DB) CompletedByResource(since time.Time) (map[string]int, error) {
	rows, err := db.conn.Query(`
		SELECT resource, COUNT(*) as count
		FROM march_history
		WHERE completed_at IS NOT NULL AND deployed_at >= ?
		GROUP BY resource
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var resource string
		var count int
		if err := rows.Scan(&resource, &count); err != nil {
			return nil, err
		}
		stats[resource] = count
	}

	return stats, rows.Err()
}

// DeleteOldHistory deletes marches deployed before olderThan
func (db *DB) DeleteOldHistory(olderThan time.Time) (int64, error) {
	var deleted int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`DELETE FROM march_history WHERE deployed_at < ?`, olderThan.UTC())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// Prune removes history and activity older than retention
func (db *DB) Prune(retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)

	marches, err := db.DeleteOldHistory(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune march history: %w", err)
	}
	activity, err := db.DeleteOldActivity(cutoff)
	if err != nil {
		return marches, fmt.Errorf("failed to prune instance activity: %w", err)
	}
	return marches + activity, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMarch(row rowScanner) (*MarchHistory, error) {
	h := &MarchHistory{}
	var completedAt sql.NullTime
	err := row.Scan(
		&h.ID, &h.InstanceID, &h.Slot, &h.Resource, &h.Level,
		&h.MarchMs, &h.GatherMs, &h.TotalMs, &h.DetailsCollected,
		&h.DeployedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		at := completedAt.Time
		h.CompletedAt = &at
	}
	return h, nil
}
