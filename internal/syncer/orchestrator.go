// Package syncer pulls participants' activities from the provider and turns
// them into daily progress records.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"challenge-engine/internal/cache"
	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/progress"
)

const (
	// nearLimitPct is the provider usage above which throttled syncs are skipped
	nearLimitPct = 90

	// fetchTimeout bounds a shared provider fetch, which outlives any one caller
	fetchTimeout = 30 * time.Second
)

// ActivitySource fetches a linked user's activities started in [after, before)
type ActivitySource interface {
	FetchActivities(ctx context.Context, conn *database.Connection, after, before time.Time) ([]challenge.Activity, error)
}

// budget is implemented by sources that track a provider request quota
type budget interface {
	IsNearLimit(threshold float64) bool
}

// Config tunes the orchestrator
type Config struct {
	Concurrency   int           // participants synced in parallel
	RatePerSecond float64       // provider fetches per second, 0 disables pacing
	LazyCooldown  time.Duration // minimum gap between throttled syncs of one participant
}

// Orchestrator syncs ACTIVE challenges
type Orchestrator struct {
	db          *database.DB
	source      ActivitySource
	throttle    cache.Throttle
	limiter     *rate.Limiter
	concurrency int
	cooldown    time.Duration
	flight      singleflight.Group
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an orchestrator. A nil throttle never throttles.
func New(db *database.DB, source ActivitySource, throttle cache.Throttle, cfg Config) *Orchestrator {
	if throttle == nil {
		throttle = cache.Unthrottled{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Orchestrator{
		db:          db,
		source:      source,
		throttle:    throttle,
		limiter:     limiter,
		concurrency: cfg.Concurrency,
		cooldown:    cfg.LazyCooldown,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// Report summarises a sync pass
type Report struct {
	Challenges int
	Synced     int
	Skipped    int
	Failed     int
}

type outcome int

const (
	synced outcome = iota
	skipped
	failed
)

// pass performs each fetch of a user and window once per run
type pass struct {
	mu      sync.Mutex
	fetches map[string]func() ([]challenge.Activity, error)
}

func newPass() *pass {
	return &pass{fetches: make(map[string]func() ([]challenge.Activity, error))}
}

// job is one participant of one challenge
type job struct {
	c *challenge.Challenge
	p *challenge.Participant
}

// RunSyncSweep syncs every non-forfeited participant of every ACTIVE challenge.
// Per-participant failures are logged and counted, never returned.
func (o *Orchestrator) RunSyncSweep(ctx context.Context) (Report, error) {
	var report Report

	challenges, err := o.db.ListChallengesByStatus(ctx, challenge.StatusActive)
	if err != nil {
		return report, fmt.Errorf("failed to list active challenges: %w", err)
	}
	report.Challenges = len(challenges)

	var jobs []job
	for _, c := range challenges {
		for _, p := range c.ActiveParticipants() {
			jobs = append(jobs, job{c: c, p: p})
		}
	}

	results := o.run(ctx, jobs, false)
	for _, res := range results {
		switch res.outcome {
		case synced:
			report.Synced++
		case skipped:
			report.Skipped++
		case failed:
			report.Failed++
		}
	}

	o.logger.Info("Sync sweep finished", "challenges", report.Challenges,
		"synced", report.Synced, "skipped", report.Skipped, "failed", report.Failed)
	return report, ctx.Err()
}

// SyncChallenge refreshes the progress of one challenge. Unless force is set,
// each participant is synced at most once per cooldown and not at all while the
// provider quota is nearly spent. Participants without a linked account are skipped.
func (o *Orchestrator) SyncChallenge(ctx context.Context, c *challenge.Challenge, force bool) error {
	var jobs []job
	for _, p := range c.ActiveParticipants() {
		jobs = append(jobs, job{c: c, p: p})
	}

	var errs []error
	for _, res := range o.run(ctx, jobs, !force) {
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}
	return errors.Join(errs...)
}

type result struct {
	outcome outcome
	err     error
}

func (o *Orchestrator) run(ctx context.Context, jobs []job, throttled bool) []result {
	results := make([]result, len(jobs))
	seen := newPass()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			results[i] = o.syncParticipant(gctx, seen, j.c, j.p, throttled)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) syncParticipant(ctx context.Context, seen *pass, c *challenge.Challenge, p *challenge.Participant, throttled bool) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{outcome: failed, err: fmt.Errorf("panic syncing %s in %s: %v", p.UserID, c.ID, r)}
		}
		o.record(c, p, res)
	}()

	now := o.now()
	from, to, ok := Window(c, now)
	if !ok {
		return result{outcome: skipped}
	}

	if throttled {
		if b, isBudget := o.source.(budget); isBudget && b.IsNearLimit(nearLimitPct) {
			return result{outcome: skipped}
		}
		key := "sync:" + c.ID + ":" + p.UserID
		allowed, err := o.throttle.Allow(ctx, key, o.cooldown)
		switch {
		case err != nil:
			o.logger.Warn("Throttle unavailable, syncing anyway", "challenge_id", c.ID, "user_id", p.UserID, "error", err)
		case !allowed:
			return result{outcome: skipped}
		default:
			// A failed sync does not hold the cooldown
			defer func() {
				if res.outcome == failed {
					o.release(key)
				}
			}()
		}
	}

	activities, err := o.fetch(ctx, seen, p.UserID, from, to)
	if errors.Is(err, challenge.ErrNoConnection) {
		return result{outcome: skipped}
	}
	if err != nil {
		return result{outcome: failed, err: err}
	}

	if _, err := o.db.InsertActivities(ctx, p.UserID, activities); err != nil {
		return result{outcome: failed, err: err}
	}

	totals, err := o.db.SumDistanceBySport(ctx, p.UserID, from, to)
	if err != nil {
		return result{outcome: failed, err: err}
	}

	meters := make(map[challenge.Sport]int64, len(c.Sports))
	for _, sport := range c.Sports {
		meters[sport] = totals[sport]
	}
	computed := progress.Compute(p.Goals, meters)

	date := c.Today(now)
	if date.After(c.EndDate) {
		date = c.EndDate
	}

	err = o.db.UpsertDailyProgress(ctx, &challenge.DailyProgress{
		ChallengeID:    c.ID,
		UserID:         p.UserID,
		Date:           date,
		Meters:         meters,
		OverallPercent: computed.Overall,
		UpdatedAt:      now,
	})
	if err != nil {
		return result{outcome: failed, err: err}
	}
	return result{outcome: synced}
}

func (o *Orchestrator) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.throttle.Release(ctx, key); err != nil {
		o.logger.Warn("Failed to release sync cooldown", "key", key, "error", err)
	}
}

func (o *Orchestrator) record(c *challenge.Challenge, p *challenge.Participant, res result) {
	switch res.outcome {
	case synced:
		metrics.ParticipantSyncsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	case skipped:
		metrics.ParticipantSyncsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
	case failed:
		metrics.ParticipantSyncsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		o.logger.Error("Failed to sync participant", "challenge_id", c.ID, "user_id", p.UserID, "error", res.err)
	}
}

// fetch loads userID's activities for the window once per pass. Identical
// fetches running concurrently in different passes are collapsed as well; the
// shared fetch is detached from the caller that started it, and each caller
// stops waiting when its own ctx ends.
func (o *Orchestrator) fetch(ctx context.Context, seen *pass, userID string, from, to time.Time) ([]challenge.Activity, error) {
	key := fmt.Sprintf("%s|%d|%d", userID, from.Unix(), to.Unix())

	seen.mu.Lock()
	once, ok := seen.fetches[key]
	if !ok {
		once = sync.OnceValues(func() ([]challenge.Activity, error) {
			ch := o.flight.DoChan(key, func() (any, error) {
				fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
				defer cancel()
				return o.fetchFromSource(fctx, userID, from, to)
			})

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case res := <-ch:
				if res.Err != nil {
					return nil, res.Err
				}
				return res.Val.([]challenge.Activity), nil
			}
		})
		seen.fetches[key] = once
	}
	seen.mu.Unlock()

	return once()
}

func (o *Orchestrator) fetchFromSource(ctx context.Context, userID string, from, to time.Time) ([]challenge.Activity, error) {
	conn, err := o.db.GetConnection(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, challenge.ErrNoConnection
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	activities, err := o.source.FetchActivities(ctx, conn, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activities for %s: %w", userID, err)
	}
	metrics.ActivitiesFetched.Observe(float64(len(activities)))
	return activities, nil
}

// Window returns the instants bounding the activities that count for c as of
// now: midnight starting the start date until midnight ending the earlier of
// today and the end date, in the creator's timezone. ok is false before the start.
func Window(c *challenge.Challenge, now time.Time) (from, to time.Time, ok bool) {
	today := c.Today(now)
	if today.Before(c.StartDate) {
		return time.Time{}, time.Time{}, false
	}

	last := today
	if last.After(c.EndDate) {
		last = c.EndDate
	}

	loc := c.Location()
	return challenge.StartOfDay(c.StartDate, loc), challenge.StartOfDay(last.AddDate(0, 0, 1), loc), true
}
