package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/metrics"
)

// ErrDuplicateInviteCode is returned when a new challenge collides on its invite code
var ErrDuplicateInviteCode = errors.New("invite code already in use")

const challengeColumns = `
	id, creator_id, invite_code, name, sports, start_date, end_date,
	timezone, status, winner_id, created_at
`

// CreateChallenge inserts a challenge together with its creator's participant row
func (d *DB) CreateChallenge(ctx context.Context, c *challenge.Challenge) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCreateChallenge))
	defer timer.ObserveDuration()

	err := d.WithTx(ctx, func(tx *Tx) error {
		sports, err := json.Marshal(c.Sports)
		if err != nil {
			return fmt.Errorf("failed to encode sports: %w", err)
		}

		now := time.Now().Unix()
		_, err = tx.tx.ExecContext(ctx, `
			INSERT INTO challenges (
				id, creator_id, invite_code, name, sports, start_date, end_date,
				timezone, status, winner_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.CreatorID, c.InviteCode, c.Name, string(sports),
			challenge.FormatDate(c.StartDate), challenge.FormatDate(c.EndDate),
			c.Timezone, c.Status, c.WinnerID, c.CreatedAt.Unix(), now)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: challenges.invite_code") {
				return ErrDuplicateInviteCode
			}
			return fmt.Errorf("failed to create challenge: %w", err)
		}

		for _, p := range c.Participants {
			if err := tx.AddParticipant(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrDuplicateInviteCode) {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCreateChallenge).Inc()
	}
	return err
}

// GetChallenge retrieves a challenge with its participants. Returns nil if not found.
func (d *DB) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetChallenge))
	defer timer.ObserveDuration()

	c, err := getChallenge(ctx, d.db, "id = ?", id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetChallenge).Inc()
		return nil, err
	}
	return c, nil
}

// GetChallengeByInviteCode retrieves a challenge by its invite code. Returns nil if not found.
func (d *DB) GetChallengeByInviteCode(ctx context.Context, code string) (*challenge.Challenge, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetChallengeByInvite))
	defer timer.ObserveDuration()

	c, err := getChallenge(ctx, d.db, "invite_code = ?", code)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetChallengeByInvite).Inc()
		return nil, err
	}
	return c, nil
}

// ListChallengesByStatus returns every challenge in one of the given statuses, oldest first
func (d *DB) ListChallengesByStatus(ctx context.Context, statuses ...challenge.Status) ([]*challenge.Challenge, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListChallenges))
	defer timer.ObserveDuration()

	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}

	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE status IN (` + placeholders + `)
		ORDER BY created_at ASC, id ASC`

	challenges, err := listChallenges(ctx, d.db, query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListChallenges).Inc()
		return nil, err
	}
	return challenges, nil
}

// ListUserChallenges returns every challenge userID participates in, newest first
func (d *DB) ListUserChallenges(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpListChallenges))
	defer timer.ObserveDuration()

	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE id IN (SELECT challenge_id FROM participants WHERE user_id = ?)
		ORDER BY created_at DESC, id ASC`

	challenges, err := listChallenges(ctx, d.db, query, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpListChallenges).Inc()
		return nil, err
	}
	return challenges, nil
}

// CompareAndSetStatus moves a challenge from one status to another only if it is
// still in the expected status. winnerID is written in the same statement.
// Returns false if another writer got there first.
func (d *DB) CompareAndSetStatus(ctx context.Context, id string, from, to challenge.Status, winnerID *string) (bool, error) {
	return compareAndSetStatus(ctx, d.db, id, from, to, winnerID)
}

// RenameChallenge updates the display name of a challenge
func (d *DB) RenameChallenge(ctx context.Context, id, name string) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpRenameChallenge))
	defer timer.ObserveDuration()

	result, err := d.db.ExecContext(ctx, `
		UPDATE challenges SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpRenameChallenge).Inc()
		return fmt.Errorf("failed to rename challenge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("challenge not found")
	}
	return nil
}

// DeleteChallenge removes a challenge unless it is in one of the protected statuses.
// Participants, progress and week results cascade. Returns false if nothing was deleted.
func (d *DB) DeleteChallenge(ctx context.Context, id string, protected ...challenge.Status) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteChallenge))
	defer timer.ObserveDuration()

	query := `DELETE FROM challenges WHERE id = ?`
	args := []any{id}
	for _, s := range protected {
		query += ` AND status != ?`
		args = append(args, s)
	}

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteChallenge).Inc()
		return false, fmt.Errorf("failed to delete challenge: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CountChallengesByStatus returns the number of challenges per status
func (d *DB) CountChallengesByStatus(ctx context.Context) (map[string]int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCountByStatus))
	defer timer.ObserveDuration()

	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM challenges GROUP BY status`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCountByStatus).Inc()
		return nil, fmt.Errorf("failed to count challenges: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// GetChallenge reads a challenge inside the transaction. Returns nil if not found.
func (t *Tx) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	return getChallenge(ctx, t.tx, "id = ?", id)
}

// CompareAndSetStatus is the transactional form of DB.CompareAndSetStatus
func (t *Tx) CompareAndSetStatus(ctx context.Context, id string, from, to challenge.Status, winnerID *string) (bool, error) {
	return compareAndSetStatus(ctx, t.tx, id, from, to, winnerID)
}

// UpdateSports rewrites the sport set of a challenge
func (t *Tx) UpdateSports(ctx context.Context, id string, sports []challenge.Sport) error {
	encoded, err := json.Marshal(sports)
	if err != nil {
		return fmt.Errorf("failed to encode sports: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE challenges SET sports = ?, updated_at = ? WHERE id = ?
	`, string(encoded), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update sports: %w", err)
	}
	return nil
}

func compareAndSetStatus(ctx context.Context, q querier, id string, from, to challenge.Status, winnerID *string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCompareAndSetStatus))
	defer timer.ObserveDuration()

	result, err := q.ExecContext(ctx, `
		UPDATE challenges
		SET status = ?, winner_id = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, winnerID, time.Now().Unix(), id, from)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCompareAndSetStatus).Inc()
		return false, fmt.Errorf("failed to update challenge status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func getChallenge(ctx context.Context, q querier, where string, arg any) (*challenge.Challenge, error) {
	row := q.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE `+where, arg)

	c, err := scanChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	if c.Participants, err = listParticipants(ctx, q, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// listChallenges reads all matching rows before loading participants, the
// single pooled connection cannot serve a second query while rows are open
func listChallenges(ctx context.Context, q querier, query string, args ...any) ([]*challenge.Challenge, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}

	var challenges []*challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}
	rows.Close()

	for _, c := range challenges {
		if c.Participants, err = listParticipants(ctx, q, c.ID); err != nil {
			return nil, err
		}
	}
	return challenges, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChallenge(s scanner) (*challenge.Challenge, error) {
	var c challenge.Challenge
	var sports, startDate, endDate string
	var winnerID sql.NullString
	var createdAt int64

	err := s.Scan(
		&c.ID, &c.CreatorID, &c.InviteCode, &c.Name, &sports, &startDate, &endDate,
		&c.Timezone, &c.Status, &winnerID, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sports), &c.Sports); err != nil {
		return nil, fmt.Errorf("failed to decode sports: %w", err)
	}
	if c.StartDate, err = challenge.ParseDate(startDate); err != nil {
		return nil, err
	}
	if c.EndDate, err = challenge.ParseDate(endDate); err != nil {
		return nil, err
	}
	c.WinnerID = stringPtr(winnerID)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &c, nil
}
