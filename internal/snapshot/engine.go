// Package snapshot records the weekly head-to-head result of running challenges.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
)

// Engine writes one WeekResult per challenge and completed week
type Engine struct {
	db     *database.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a snapshot engine
func New(db *database.DB) *Engine {
	return &Engine{db: db, logger: slog.Default(), now: time.Now}
}

// Report summarises one weekly sweep
type Report struct {
	Visited int
	Written int
	Skipped int
	Failed  int
}

// RunWeeklySnapshotSweep snapshots the previous Monday-to-Sunday week, in each
// challenge's timezone, for every ACTIVE challenge. Weeks already recorded are
// left alone, so running it repeatedly is harmless.
func (e *Engine) RunWeeklySnapshotSweep(ctx context.Context) (Report, error) {
	var report Report

	challenges, err := e.db.ListChallengesByStatus(ctx, challenge.StatusActive)
	if err != nil {
		return report, fmt.Errorf("failed to list active challenges: %w", err)
	}

	for _, c := range challenges {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Visited++

		written, err := e.snapshotOne(ctx, c)
		switch {
		case err != nil:
			report.Failed++
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepWeekly, metrics.ResultFailure).Inc()
			e.logger.Error("Failed to snapshot week", "challenge_id", c.ID, "error", err)
		case written:
			report.Written++
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepWeekly, metrics.ResultSuccess).Inc()
		default:
			report.Skipped++
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepWeekly, metrics.ResultSkipped).Inc()
		}
	}

	e.logger.Info("Weekly sweep finished",
		"visited", report.Visited, "written", report.Written, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

func (e *Engine) snapshotOne(ctx context.Context, c *challenge.Challenge) (written bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic snapshotting challenge: %v", r)
		}
	}()

	now := e.now()
	weekStart, weekEnd := challenge.PreviousWeek(c.Today(now))
	if c.StartDate.After(weekEnd) {
		return false, nil
	}

	existing, err := e.db.GetWeekResult(ctx, c.ID, weekStart)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if len(c.Participants) != challenge.MaxParticipants {
		e.logger.Warn("Skipping weekly snapshot, challenge does not have two participants",
			"challenge_id", c.ID, "participants", len(c.Participants))
		return false, nil
	}

	standings := make([]challenge.Standing, len(c.Participants))
	for i, p := range c.Participants {
		latest, err := e.db.GetLatestProgress(ctx, c.ID, p.UserID, weekEnd)
		if err != nil {
			return false, err
		}
		standings[i] = challenge.Standing{UserID: p.UserID}
		if latest != nil {
			standings[i].Percent = latest.OverallPercent
		}
	}

	result := &challenge.WeekResult{
		ID:           uuid.NewString(),
		ChallengeID:  c.ID,
		WeekStart:    weekStart,
		UserAID:      standings[0].UserID,
		UserBID:      standings[1].UserID,
		UserAPercent: standings[0].Percent,
		UserBPercent: standings[1].Percent,
		WinnerID:     challenge.ComparePercents(standings[0], standings[1]),
		ComputedAt:   now,
	}

	inserted, err := e.db.InsertWeekResult(ctx, result)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	metrics.WeekResultsWrittenTotal.Inc()
	e.logger.Info("Week result recorded", "challenge_id", c.ID, "week_start", challenge.FormatDate(weekStart),
		"user_a_percent", result.UserAPercent, "user_b_percent", result.UserBPercent)
	return true, nil
}
