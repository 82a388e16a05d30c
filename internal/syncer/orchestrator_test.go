package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-engine/internal/cache"
	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
)

type fakeSource struct {
	mu         sync.Mutex
	activities map[string][]challenge.Activity
	failFor    map[string]error
	calls      map[string]int
	nearLimit  bool

	// when set, fetches wait for block to close and then honour ctx
	block   chan struct{}
	entered chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		activities: make(map[string][]challenge.Activity),
		failFor:    make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeSource) FetchActivities(ctx context.Context, conn *database.Connection, after, before time.Time) ([]challenge.Activity, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[conn.UserID]++
	if err := f.failFor[conn.UserID]; err != nil {
		return nil, err
	}

	var out []challenge.Activity
	for _, a := range f.activities[conn.UserID] {
		if !a.StartTime.Before(after) && a.StartTime.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) IsNearLimit(threshold float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nearLimit
}

func (f *fakeSource) callsFor(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func (f *fakeSource) add(userID string, id int64, sport challenge.Sport, meters int64, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities[userID] = append(f.activities[userID], challenge.Activity{
		ID: id, Sport: sport, DistanceMeters: meters, StartTime: start,
	})
}

type testEnv struct {
	db     *database.DB
	source *fakeSource
	orch   *Orchestrator
	now    time.Time
}

func newTestEnv(t *testing.T, throttle cache.Throttle) *testEnv {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init())

	e := &testEnv{
		db:     db,
		source: newFakeSource(),
		now:    time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC),
	}
	e.orch = New(db, e.source, throttle, Config{Concurrency: 4, LazyCooldown: 10 * time.Minute})
	e.orch.now = func() time.Time { return e.now }
	return e
}

func date(s string) time.Time {
	d, err := challenge.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (e *testEnv) link(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, e.db.UpsertConnection(context.Background(), &database.Connection{
		UserID: userID, AthleteID: 1, AccessToken: "a", RefreshToken: "r", ExpiresAt: e.now.Add(time.Hour),
	}))
}

func (e *testEnv) activeChallenge(t *testing.T, id, code string, players map[string]challenge.Goals) *challenge.Challenge {
	t.Helper()

	c := &challenge.Challenge{
		ID:         id,
		CreatorID:  "alice",
		InviteCode: code,
		StartDate:  date("2026-03-10"),
		EndDate:    date("2026-03-20"),
		Timezone:   "UTC",
		Status:     challenge.StatusActive,
		CreatedAt:  e.now,
	}
	for _, userID := range []string{"alice", "bob", "carol"} {
		goals, ok := players[userID]
		if !ok {
			continue
		}
		c.Participants = append(c.Participants, &challenge.Participant{
			ID: id + "-" + userID, ChallengeID: id, UserID: userID, Goals: goals, JoinedAt: e.now,
		})
	}
	c.Sports = challenge.SportUnion(c.Participants)

	require.NoError(t, e.db.CreateChallenge(context.Background(), c))
	return c
}

func (e *testEnv) latest(t *testing.T, challengeID, userID string) *challenge.DailyProgress {
	t.Helper()
	p, err := e.db.GetLatestProgress(context.Background(), challengeID, userID, time.Time{})
	require.NoError(t, err)
	return p
}

func TestRunSyncSweepComputesProgress(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 50},
		"bob":   {challenge.SportRun: 10, challenge.SportRide: 40},
	})
	e.link(t, "alice")
	e.link(t, "bob")

	day := date("2026-03-11").Add(7 * time.Hour)
	e.source.add("alice", 1, challenge.SportRun, 25000, day)
	e.source.add("alice", 2, challenge.SportSwim, 3000, day) // not a challenge sport
	e.source.add("alice", 3, challenge.SportRun, 90000, date("2026-03-09").Add(7*time.Hour))
	e.source.add("bob", 4, challenge.SportRun, 12000, day)
	e.source.add("bob", 5, challenge.SportRide, 10000, day)

	report, err := e.orch.RunSyncSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Challenges: 1, Synced: 2}, report)

	alice := e.latest(t, c.ID, "alice")
	require.NotNil(t, alice)
	assert.Equal(t, date("2026-03-12"), alice.Date)
	assert.Equal(t, 50, alice.OverallPercent)
	assert.Equal(t, int64(25000), alice.Meters[challenge.SportRun])
	assert.NotContains(t, alice.Meters, challenge.SportSwim)

	// run capped at 100, ride 25 -> floor(125/2)
	bob := e.latest(t, c.ID, "bob")
	require.NotNil(t, bob)
	assert.Equal(t, 62, bob.OverallPercent)

	// Re-running with the same activities changes nothing
	_, err = e.orch.RunSyncSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, e.latest(t, c.ID, "alice").OverallPercent)
}

func TestRunSyncSweepSkipsUnlinkedAndForfeited(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5},
		"bob":   {challenge.SportRun: 5},
	})
	e.link(t, "alice")

	report, err := e.orch.RunSyncSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	assert.Nil(t, e.latest(t, c.ID, "bob"))

	ok, err := e.db.ForfeitParticipant(ctx, c.ID, "alice", e.now)
	require.NoError(t, err)
	require.True(t, ok)

	report, err = e.orch.RunSyncSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Synced)
	assert.Equal(t, 1, e.source.callsFor("alice"))
}

func TestRunSyncSweepFetchesSharedWindowOnce(t *testing.T) {
	e := newTestEnv(t, nil)

	e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5}, "bob": {challenge.SportRun: 5},
	})
	e.activeChallenge(t, "c2", "BBBBBBBB", map[string]challenge.Goals{
		"alice": {challenge.SportRide: 20}, "carol": {challenge.SportRide: 20},
	})
	for _, u := range []string{"alice", "bob", "carol"} {
		e.link(t, u)
	}
	e.source.add("alice", 1, challenge.SportRide, 10000, date("2026-03-11"))

	report, err := e.orch.RunSyncSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Synced)
	assert.Equal(t, 1, e.source.callsFor("alice"))
	assert.Equal(t, 50, e.latest(t, "c2", "alice").OverallPercent)
	assert.Equal(t, 0, e.latest(t, "c1", "alice").OverallPercent)
}

func TestRunSyncSweepIsolatesFailures(t *testing.T) {
	e := newTestEnv(t, nil)

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5}, "bob": {challenge.SportRun: 5},
	})
	e.link(t, "alice")
	e.link(t, "bob")
	e.source.failFor["alice"] = errors.New("provider down")

	report, err := e.orch.RunSyncSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Synced)
	assert.NotNil(t, e.latest(t, c.ID, "bob"))
}

func TestSyncChallengeThrottle(t *testing.T) {
	throttle := cache.NewMemoryThrottle()
	e := newTestEnv(t, throttle)
	ctx := context.Background()

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5}, "bob": {challenge.SportRun: 5},
	})
	e.link(t, "alice")
	e.link(t, "bob")

	require.NoError(t, e.orch.SyncChallenge(ctx, c, false))
	require.NoError(t, e.orch.SyncChallenge(ctx, c, false))
	assert.Equal(t, 1, e.source.callsFor("alice"), "second lazy sync within cooldown is skipped")

	require.NoError(t, e.orch.SyncChallenge(ctx, c, true))
	assert.Equal(t, 2, e.source.callsFor("alice"), "forced sync ignores cooldown")
}

func TestSyncChallengeFailureReleasesCooldown(t *testing.T) {
	e := newTestEnv(t, cache.NewMemoryThrottle())
	ctx := context.Background()

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 10},
	})
	e.link(t, "alice")
	e.source.add("alice", 1, challenge.SportRun, 5000, date("2026-03-11"))

	e.source.failFor["alice"] = errors.New("provider down")
	require.Error(t, e.orch.SyncChallenge(ctx, c, false))
	assert.Nil(t, e.latest(t, c.ID, "alice"))

	delete(e.source.failFor, "alice")
	require.NoError(t, e.orch.SyncChallenge(ctx, c, false))
	assert.Equal(t, 2, e.source.callsFor("alice"), "retry after a failure is not throttled")

	p := e.latest(t, c.ID, "alice")
	require.NotNil(t, p)
	assert.Equal(t, 50, p.OverallPercent)

	require.NoError(t, e.orch.SyncChallenge(ctx, c, false))
	assert.Equal(t, 2, e.source.callsFor("alice"), "a successful sync holds the cooldown")
}

func TestSharedFetchOutlivesCancelledCaller(t *testing.T) {
	e := newTestEnv(t, nil)

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 10},
	})
	e.link(t, "alice")
	e.source.add("alice", 1, challenge.SportRun, 5000, date("2026-03-11"))
	e.source.block = make(chan struct{})
	e.source.entered = make(chan struct{}, 2)

	lazyCtx, cancelLazy := context.WithCancel(context.Background())
	lazyErr := make(chan error, 1)
	go func() { lazyErr <- e.orch.SyncChallenge(lazyCtx, c, true) }()
	<-e.source.entered

	finalErr := make(chan error, 1)
	go func() { finalErr <- e.orch.SyncChallenge(context.Background(), c, true) }()
	time.Sleep(50 * time.Millisecond)

	cancelLazy()
	assert.ErrorIs(t, <-lazyErr, context.Canceled)

	close(e.source.block)
	require.NoError(t, <-finalErr, "the other caller still gets the fetch result")

	p := e.latest(t, c.ID, "alice")
	require.NotNil(t, p)
	assert.Equal(t, 50, p.OverallPercent)
}

func TestSyncChallengeSkipsNearRateLimit(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5},
	})
	e.link(t, "alice")
	e.source.nearLimit = true

	require.NoError(t, e.orch.SyncChallenge(ctx, c, false))
	assert.Equal(t, 0, e.source.callsFor("alice"))

	require.NoError(t, e.orch.SyncChallenge(ctx, c, true))
	assert.Equal(t, 1, e.source.callsFor("alice"))
}

func TestSyncChallengeReturnsFailures(t *testing.T) {
	e := newTestEnv(t, nil)

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 5},
	})
	e.link(t, "alice")
	e.source.failFor["alice"] = errors.New("provider down")

	err := e.orch.SyncChallenge(context.Background(), c, true)
	assert.ErrorContains(t, err, "provider down")
}

func TestFinalSyncAfterEndRecordsEndDate(t *testing.T) {
	e := newTestEnv(t, nil)

	c := e.activeChallenge(t, "c1", "AAAAAAAA", map[string]challenge.Goals{
		"alice": {challenge.SportRun: 10},
	})
	e.link(t, "alice")
	e.source.add("alice", 1, challenge.SportRun, 5000, date("2026-03-20").Add(20*time.Hour))
	e.source.add("alice", 2, challenge.SportRun, 5000, date("2026-03-21").Add(8*time.Hour))

	e.now = time.Date(2026, 3, 22, 1, 0, 0, 0, time.UTC)
	require.NoError(t, e.orch.SyncChallenge(context.Background(), c, true))

	p := e.latest(t, c.ID, "alice")
	require.NotNil(t, p)
	assert.Equal(t, date("2026-03-20"), p.Date)
	assert.Equal(t, 50, p.OverallPercent, "activity after the end date does not count")
}

func TestWindow(t *testing.T) {
	c := &challenge.Challenge{StartDate: date("2026-03-10"), EndDate: date("2026-03-20"), Timezone: "UTC"}

	_, _, ok := Window(c, time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC))
	assert.False(t, ok, "scheduled challenges have an empty window")

	from, to, ok := Window(c, time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), to)

	_, to, ok = Window(c, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC), to)
}

func TestWindowCreatorTimezone(t *testing.T) {
	c := &challenge.Challenge{StartDate: date("2026-03-10"), EndDate: date("2026-03-20"), Timezone: "America/New_York"}

	// 02:00 UTC on the 10th is still the 9th in New York
	_, _, ok := Window(c, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC))
	assert.False(t, ok)

	from, to, ok := Window(c, time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC), from.UTC())
	assert.Equal(t, time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC), to.UTC())
}
