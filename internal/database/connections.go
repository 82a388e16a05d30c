package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/metrics"
)

// Connection is a user's linked Strava account
type Connection struct {
	UserID       string
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertConnection links or relinks a provider account to a user
func (d *DB) UpsertConnection(ctx context.Context, c *Connection) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpsertConnection))
	defer timer.ObserveDuration()

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO connections (
			user_id, athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			athlete_id = excluded.athlete_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.UserID, c.AthleteID, c.AccessToken, c.RefreshToken, c.ExpiresAt.Unix(), c.CreatedAt.Unix(), c.UpdatedAt.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpsertConnection).Inc()
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// GetConnection retrieves the linked account of userID. Returns nil if not linked.
func (d *DB) GetConnection(ctx context.Context, userID string) (*Connection, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetConnection))
	defer timer.ObserveDuration()

	var c Connection
	var expiresAt, createdAt, updatedAt int64
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, athlete_id, access_token, refresh_token, expires_at, created_at, updated_at
		FROM connections WHERE user_id = ?
	`, userID).Scan(&c.UserID, &c.AthleteID, &c.AccessToken, &c.RefreshToken, &expiresAt, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetConnection).Inc()
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	c.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

// UpdateConnectionTokens stores refreshed OAuth tokens
func (d *DB) UpdateConnectionTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateTokens))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE connections
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, expiresAt.Unix(), time.Now().Unix(), userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateTokens).Inc()
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}
	return nil
}
