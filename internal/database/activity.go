package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Activity logging operations

// LogActivity appends an instance activity entry and returns its ID
func (db *DB) LogActivity(instanceID int, kind, detail, errorMessage string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now()
	}

	var activityID int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`
			INSERT INTO instance_activity (
				instance_id, kind, detail, error_message, occurred_at
			) VALUES (?, ?, ?, ?, ?)
		`, instanceID, kind, nullString(detail), nullString(errorMessage), at.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}

		activityID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	return activityID, nil
}

// RecentActivity returns the newest entries, optionally for one instance
func (db *DB) RecentActivity(instanceID *int, limit int) ([]*InstanceActivity, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, instance_id, kind, detail, error_message, occurred_at
		FROM instance_activity
	`
	args := []interface{}{}
	if instanceID != nil {
		query += " WHERE instance_id = ?"
		args = append(args, *instanceID)
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []*InstanceActivity{}
	for rows.Next() {
		a := &InstanceActivity{}
		if err := rows.Scan(&a.ID, &a.InstanceID, &a.Kind, &a.Detail, &a.ErrorMessage, &a.OccurredAt); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}

	return activities, rows.Err()
}

// ActivityCounts returns entry counts grouped by kind since a point in time
func (db *DB) ActivityCounts(instanceID *int, since time.Time) (map[string]int, error) {
	query := `
		SELECT kind, COUNT(*) as count
		FROM instance_activity
		WHERE occurred_at >= ?
	`
	args := []interface{}{since.UTC()}

	if instanceID != nil {
		query += " AND instance_id = ?"
		args = append(args, *instanceID)
	}
	query += " GROUP BY kind"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats[kind] = count
	}

	return stats, rows.Err()
}

// DeleteOldActivity deletes entries older than the specified time
func (db *DB) DeleteOldActivity(olderThan time.Time) (int64, error) {
	var deleted int64
	err := db.ExecTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(`DELETE FROM instance_activity WHERE occurred_at < ?`, olderThan.UTC())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
