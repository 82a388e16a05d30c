package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/metrics"
)

// InsertWeekResult stores a weekly result unless one already exists for the
// same challenge and week. Returns false when the row was already there.
func (d *DB) InsertWeekResult(ctx context.Context, w *challenge.WeekResult) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertWeekResult))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO week_results (
			id, challenge_id, week_start, user_a_id, user_b_id,
			user_a_percent, user_b_percent, winner_id, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(challenge_id, week_start) DO NOTHING
	`, w.ID, w.ChallengeID, challenge.FormatDate(w.WeekStart), w.UserAID, w.UserBID,
		w.UserAPercent, w.UserBPercent, w.WinnerID, w.ComputedAt.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertWeekResult).Inc()
		return false, fmt.Errorf("failed to insert week result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetWeekResult returns the result for a challenge and week. Returns nil if not found.
func (d *DB) GetWeekResult(ctx context.Context, challengeID string, weekStart time.Time) (*challenge.WeekResult, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetWeekResult))
	defer timer.ObserveDuration()

	w, err := scanWeekResult(d.db.QueryRowContext(ctx, `
		SELECT id, challenge_id, week_start, user_a_id, user_b_id,
		       user_a_percent, user_b_percent, winner_id, computed_at
		FROM week_results
		WHERE challenge_id = ? AND week_start = ?
	`, challengeID, challenge.FormatDate(weekStart)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetWeekResult).Inc()
		return nil, fmt.Errorf("failed to get week result: %w", err)
	}
	return w, nil
}

// ListWeekResults returns every weekly result of a challenge, oldest week first
func (d *DB) ListWeekResults(ctx context.Context, challengeID string) ([]*challenge.WeekResult, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListWeekResults))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, challenge_id, week_start, user_a_id, user_b_id,
		       user_a_percent, user_b_percent, winner_id, computed_at
		FROM week_results
		WHERE challenge_id = ?
		ORDER BY week_start ASC
	`, challengeID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListWeekResults).Inc()
		return nil, fmt.Errorf("failed to list week results: %w", err)
	}
	defer rows.Close()

	var results []*challenge.WeekResult
	for rows.Next() {
		w, err := scanWeekResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan week result: %w", err)
		}
		results = append(results, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating week results: %w", err)
	}
	return results, nil
}

func scanWeekResult(s scanner) (*challenge.WeekResult, error) {
	var w challenge.WeekResult
	var weekStart string
	var winnerID sql.NullString
	var computedAt int64

	err := s.Scan(&w.ID, &w.ChallengeID, &weekStart, &w.UserAID, &w.UserBID,
		&w.UserAPercent, &w.UserBPercent, &winnerID, &computedAt)
	if err != nil {
		return nil, err
	}

	if w.WeekStart, err = challenge.ParseDate(weekStart); err != nil {
		return nil, err
	}
	w.WinnerID = stringPtr(winnerID)
	w.ComputedAt = time.Unix(computedAt, 0).UTC()

	return &w, nil
}
