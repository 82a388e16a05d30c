package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/metrics"
)

// Notification is a persisted message for a user
type Notification struct {
	ID          string
	UserID      string
	Kind        string
	ChallengeID *string
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// InsertNotification stores a notification
func (d *DB) InsertNotification(ctx context.Context, n *Notification) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpInsertNotification))
	defer timer.ObserveDuration()

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, challenge_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Kind, n.ChallengeID, n.Message, n.Read, n.CreatedAt.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpInsertNotification).Inc()
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications of userID
func (d *DB) ListNotifications(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListNotifications))
	defer timer.ObserveDuration()

	query := `
		SELECT id, user_id, kind, challenge_id, message, read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListNotifications).Inc()
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var challengeID sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &challengeID, &n.Message, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.ChallengeID = stringPtr(challengeID)
		n.CreatedAt = time.Unix(createdAt, 0).UTC()
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

// CountUnreadNotifications returns how many notifications userID has not read
func (d *DB) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCountUnread))
	defer timer.ObserveDuration()

	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0
	`, userID).Scan(&count)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCountUnread).Inc()
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationsRead marks every notification of userID as read and
// returns how many changed
func (d *DB) MarkNotificationsRead(ctx context.Context, userID string) (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpMarkNotificationsRead))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0
	`, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpMarkNotificationsRead).Inc()
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
