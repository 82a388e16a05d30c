package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
)

func date(s string) time.Time {
	d, err := challenge.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func setup(t *testing.T) (*Engine, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init())

	e := New(db)
	// Wednesday; the previous week is Mon 2026-03-02 .. Sun 2026-03-08
	e.now = func() time.Time { return time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC) }
	return e, db
}

func createChallenge(t *testing.T, db *database.DB, id, code, start string, users ...string) *challenge.Challenge {
	t.Helper()

	c := &challenge.Challenge{
		ID:         id,
		CreatorID:  users[0],
		InviteCode: code,
		Sports:     []challenge.Sport{challenge.SportRun},
		StartDate:  date(start),
		EndDate:    date("2026-04-30"),
		Timezone:   "UTC",
		Status:     challenge.StatusActive,
		CreatedAt:  time.Now(),
	}
	for _, u := range users {
		c.Participants = append(c.Participants, &challenge.Participant{
			ID: id + "-" + u, ChallengeID: id, UserID: u,
			Goals: challenge.Goals{challenge.SportRun: 10}, JoinedAt: time.Now(),
		})
	}
	require.NoError(t, db.CreateChallenge(context.Background(), c))
	return c
}

func record(t *testing.T, db *database.DB, challengeID, userID, day string, pct int) {
	t.Helper()
	require.NoError(t, db.UpsertDailyProgress(context.Background(), &challenge.DailyProgress{
		ChallengeID: challengeID, UserID: userID, Date: date(day),
		Meters: map[challenge.Sport]int64{challenge.SportRun: int64(pct) * 100}, OverallPercent: pct,
		UpdatedAt: time.Now(),
	}))
}

func TestWeeklySnapshot(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()

	c := createChallenge(t, db, "c1", "AAAAAAAA", "2026-03-01", "alice", "bob")
	record(t, db, c.ID, "alice", "2026-03-04", 40)
	record(t, db, c.ID, "bob", "2026-03-08", 55)
	// After the week ended, must be ignored
	record(t, db, c.ID, "alice", "2026-03-09", 90)

	report, err := e.RunWeeklySnapshotSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Visited: 1, Written: 1}, report)

	w, err := db.GetWeekResult(ctx, c.ID, date("2026-03-02"))
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "alice", w.UserAID)
	assert.Equal(t, "bob", w.UserBID)
	assert.Equal(t, 40, w.UserAPercent)
	assert.Equal(t, 55, w.UserBPercent)
	require.NotNil(t, w.WinnerID)
	assert.Equal(t, "bob", *w.WinnerID)
}

func TestWeeklySnapshotTwiceWritesOnce(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()

	c := createChallenge(t, db, "c1", "AAAAAAAA", "2026-03-01", "alice", "bob")

	_, err := e.RunWeeklySnapshotSweep(ctx)
	require.NoError(t, err)
	report, err := e.RunWeeklySnapshotSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Written)
	assert.Equal(t, 1, report.Skipped)

	results, err := db.ListWeekResults(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsTie(), "no progress on either side is a tie")
}

func TestWeeklySnapshotSkips(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()

	// Started after the previous week ended
	late := createChallenge(t, db, "late", "AAAAAAAA", "2026-03-09", "alice", "bob")
	// Only one participant
	solo := createChallenge(t, db, "solo", "BBBBBBBB", "2026-03-01", "carol")

	report, err := e.RunWeeklySnapshotSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Visited: 2, Skipped: 2}, report)

	for _, id := range []string{late.ID, solo.ID} {
		results, err := db.ListWeekResults(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestWeeklySnapshotUsesChallengeTimezone(t *testing.T) {
	e, db := setup(t)
	ctx := context.Background()

	c := createChallenge(t, db, "c1", "AAAAAAAA", "2026-03-01", "alice", "bob")

	// Monday 2026-03-09 01:00 UTC is still Sunday in Los Angeles
	e.now = func() time.Time { return time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC) }
	c.Timezone = "America/Los_Angeles"

	written, err := e.snapshotOne(ctx, c)
	require.NoError(t, err)
	require.True(t, written)

	w, err := db.GetWeekResult(ctx, c.ID, date("2026-02-23"))
	require.NoError(t, err)
	assert.NotNil(t, w, "in Los Angeles the last full week is Feb 23 - Mar 1")
}
