package database

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/metrics"
)

// InsertActivities stores provider activities for userID, ignoring any whose
// provider id is already present. Returns the number of new rows.
func (d *DB) InsertActivities(ctx context.Context, userID string, activities []challenge.Activity) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertActivities))
	defer timer.ObserveDuration()

	if len(activities) == 0 {
		return 0, nil
	}

	inserted := 0
	err := d.WithTx(ctx, func(tx *Tx) error {
		stmt, err := tx.tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO activities (id, user_id, sport, distance_meters, start_time, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare activity insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().Unix()
		for _, a := range activities {
			result, err := stmt.ExecContext(ctx, a.ID, userID, a.Sport, a.DistanceMeters, a.StartTime.Unix(), now)
			if err != nil {
				return fmt.Errorf("failed to insert activity %d: %w", a.ID, err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			inserted += int(rows)
		}
		return nil
	})
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertActivities).Inc()
		return 0, err
	}
	return inserted, nil
}

// SumDistanceBySport totals the meters userID covered per sport with a start
// time in [from, to)
func (d *DB) SumDistanceBySport(ctx context.Context, userID string, from, to time.Time) (map[challenge.Sport]int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpSumDistance))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `
		SELECT sport, COALESCE(SUM(distance_meters), 0)
		FROM activities
		WHERE user_id = ? AND start_time >= ? AND start_time < ?
		GROUP BY sport
	`, userID, from.Unix(), to.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpSumDistance).Inc()
		return nil, fmt.Errorf("failed to sum distance: %w", err)
	}
	defer rows.Close()

	totals := make(map[challenge.Sport]int64)
	for rows.Next() {
		var sport challenge.Sport
		var meters int64
		if err := rows.Scan(&sport, &meters); err != nil {
			return nil, fmt.Errorf("failed to scan distance total: %w", err)
		}
		totals[sport] = meters
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distance totals: %w", err)
	}
	return totals, nil
}
