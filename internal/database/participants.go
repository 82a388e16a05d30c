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

// AddParticipant inserts a participant row
func (t *Tx) AddParticipant(ctx context.Context, p *challenge.Participant) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpAddParticipant))
	defer timer.ObserveDuration()

	goals, err := json.Marshal(p.Goals)
	if err != nil {
		return fmt.Errorf("failed to encode goals: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO participants (id, challenge_id, user_id, user_name, goals, joined_at, forfeited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.ChallengeID, p.UserID, p.UserName, string(goals), p.JoinedAt.Unix(), unixPtr(p.ForfeitedAt))
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpAddParticipant).Inc()
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes the participant row of userID. Returns false if there was none.
func (t *Tx) RemoveParticipant(ctx context.Context, challengeID, userID string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpRemoveParticipant))
	defer timer.ObserveDuration()

	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM participants WHERE challenge_id = ? AND user_id = ?
	`, challengeID, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpRemoveParticipant).Inc()
		return false, fmt.Errorf("failed to remove participant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ForfeitParticipant marks userID as forfeited if they have not already and
// the challenge is still ACTIVE. Returns false when the participant was already
// forfeited, does not exist, or the challenge has left ACTIVE.
func (d *DB) ForfeitParticipant(ctx context.Context, challengeID, userID string, at time.Time) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpForfeitParticipant))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE participants SET forfeited_at = ?
		WHERE challenge_id = ? AND user_id = ? AND forfeited_at IS NULL
		AND EXISTS (SELECT 1 FROM challenges WHERE id = ? AND status = ?)
	`, at.Unix(), challengeID, userID, challengeID, challenge.StatusActive)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpForfeitParticipant).Inc()
		return false, fmt.Errorf("failed to forfeit participant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func listParticipants(ctx context.Context, q querier, challengeID string) ([]*challenge.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, challenge_id, user_id, user_name, goals, joined_at, forfeited_at
		FROM participants
		WHERE challenge_id = ?
		ORDER BY joined_at ASC, rowid ASC
	`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*challenge.Participant
	for rows.Next() {
		var p challenge.Participant
		var goals string
		var joinedAt int64
		var forfeitedAt sql.NullInt64

		if err := rows.Scan(&p.ID, &p.ChallengeID, &p.UserID, &p.UserName, &goals, &joinedAt, &forfeitedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if err := json.Unmarshal([]byte(goals), &p.Goals); err != nil {
			return nil, fmt.Errorf("failed to decode goals: %w", err)
		}
		p.JoinedAt = time.Unix(joinedAt, 0).UTC()
		p.ForfeitedAt = timePtr(forfeitedAt)

		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return participants, nil
}
