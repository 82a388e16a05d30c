package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/metrics"
)

// UpsertDailyProgress writes the progress of one participant for one day,
// replacing any earlier value for the same day
func (d *DB) UpsertDailyProgress(ctx context.Context, p *challenge.DailyProgress) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertDailyProgress))
	defer timer.ObserveDuration()

	meters, err := json.Marshal(p.Meters)
	if err != nil {
		return fmt.Errorf("failed to encode meters: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO daily_progress (challenge_id, user_id, date, meters, overall_percent, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(challenge_id, user_id, date) DO UPDATE SET
			meters = excluded.meters,
			overall_percent = excluded.overall_percent,
			updated_at = excluded.updated_at
	`, p.ChallengeID, p.UserID, challenge.FormatDate(p.Date), string(meters), p.OverallPercent, p.UpdatedAt.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertDailyProgress).Inc()
		return fmt.Errorf("failed to upsert daily progress: %w", err)
	}
	return nil
}

// GetLatestProgress returns the most recent progress record of userID on or
// before asOf. A zero asOf means no upper bound. Returns nil if none exists.
func (d *DB) GetLatestProgress(ctx context.Context, challengeID, userID string, asOf time.Time) (*challenge.DailyProgress, error) {
	return getLatestProgress(ctx, d.db, challengeID, userID, asOf)
}

// GetLatestProgress is the transactional form of DB.GetLatestProgress
func (t *Tx) GetLatestProgress(ctx context.Context, challengeID, userID string, asOf time.Time) (*challenge.DailyProgress, error) {
	return getLatestProgress(ctx, t.tx, challengeID, userID, asOf)
}

func getLatestProgress(ctx context.Context, q querier, challengeID, userID string, asOf time.Time) (*challenge.DailyProgress, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetLatestProgress))
	defer timer.ObserveDuration()

	query := `
		SELECT challenge_id, user_id, date, meters, overall_percent, updated_at
		FROM daily_progress
		WHERE challenge_id = ? AND user_id = ?
	`
	args := []any{challengeID, userID}
	if !asOf.IsZero() {
		query += ` AND date <= ?`
		args = append(args, challenge.FormatDate(asOf))
	}
	query += ` ORDER BY date DESC LIMIT 1`

	p, err := scanProgress(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetLatestProgress).Inc()
		return nil, fmt.Errorf("failed to get latest progress: %w", err)
	}
	return p, nil
}

// ListDailyProgress returns the progress history of a challenge ordered by date
func (d *DB) ListDailyProgress(ctx context.Context, challengeID string) ([]*challenge.DailyProgress, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListProgress))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `
		SELECT challenge_id, user_id, date, meters, overall_percent, updated_at
		FROM daily_progress
		WHERE challenge_id = ?
		ORDER BY date ASC, user_id ASC
	`, challengeID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListProgress).Inc()
		return nil, fmt.Errorf("failed to list daily progress: %w", err)
	}
	defer rows.Close()

	var records []*challenge.DailyProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily progress: %w", err)
		}
		records = append(records, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily progress: %w", err)
	}
	return records, nil
}

func scanProgress(s scanner) (*challenge.DailyProgress, error) {
	var p challenge.DailyProgress
	var date, meters string
	var updatedAt int64

	if err := s.Scan(&p.ChallengeID, &p.UserID, &date, &meters, &p.OverallPercent, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Date, err = challenge.ParseDate(date); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meters), &p.Meters); err != nil {
		return nil, fmt.Errorf("failed to decode meters: %w", err)
	}
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &p, nil
}
