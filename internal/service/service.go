// Package service applies challenge lifecycle decisions to the store. Every
// status write is a compare-and-set, so the on-demand path and the background
// sweeps can race on the same challenge without double-applying effects.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/notify"
)

// maxSteps bounds the clock evaluation loop; no chain of clock rules is longer
const maxSteps = 4

// Syncer refreshes a challenge's progress from the activity provider
type Syncer interface {
	SyncChallenge(ctx context.Context, c *challenge.Challenge, force bool) error
}

// Service owns all challenge state changes
type Service struct {
	db       *database.DB
	notifier *notify.Notifier
	syncer   Syncer
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a service. syncer may be nil, in which case reads never sync
// and challenges complete on the progress already stored.
func New(db *database.DB, notifier *notify.Notifier, syncer Syncer) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		syncer:   syncer,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Advance applies every clock transition that is due for challenge id and
// returns its current state. Safe to call any number of times.
func (s *Service) Advance(ctx context.Context, id string) (*challenge.Challenge, error) {
	return s.advanceID(ctx, id, metrics.PathLazy)
}

func (s *Service) advanceID(ctx context.Context, id, path string) (*challenge.Challenge, error) {
	c, err := s.db.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, challenge.NotFoundf("challenge %s not found", id)
	}
	return s.advance(ctx, c, path)
}

func (s *Service) advance(ctx context.Context, c *challenge.Challenge, path string) (*challenge.Challenge, error) {
	for step := 0; step < maxSteps; step++ {
		tr, ok := challenge.Evaluate(challenge.FactsOf(c, s.now()), challenge.TriggerClock)
		if !ok {
			return c, nil
		}

		var applied bool
		var err error
		if tr.Has(challenge.EffectResolveWinner) {
			s.finalSync(ctx, c)
			applied, err = s.complete(ctx, c, tr, path)
		} else {
			applied, err = s.apply(ctx, c, tr, nil, path)
		}
		if err != nil {
			return nil, err
		}
		if applied {
			continue
		}

		// Somebody else moved it; continue from what they wrote
		fresh, err := s.db.GetChallenge(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			return nil, challenge.NotFoundf("challenge %s not found", c.ID)
		}
		c = fresh
	}
	return c, nil
}

// apply writes tr with a compare-and-set
func (s *Service) apply(ctx context.Context, c *challenge.Challenge, tr challenge.Transition, winnerID *string, path string) (bool, error) {
	applied, err := s.db.CompareAndSetStatus(ctx, c.ID, tr.From, tr.To, winnerID)
	if err != nil {
		return false, fmt.Errorf("failed to apply %s -> %s: %w", tr.From, tr.To, err)
	}
	return s.settle(ctx, c, tr, winnerID, applied, path), nil
}

// complete decides the winner and writes the transition in one transaction,
// reading forfeits and progress as they stand at the moment of the write
func (s *Service) complete(ctx context.Context, c *challenge.Challenge, tr challenge.Transition, path string) (bool, error) {
	var winnerID *string
	var participants []*challenge.Participant
	var applied bool

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetChallenge(ctx, c.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.Status != tr.From {
			return nil
		}

		if winnerID, err = resolveWinner(ctx, tx, fresh); err != nil {
			return err
		}
		if applied, err = tx.CompareAndSetStatus(ctx, c.ID, tr.From, tr.To, winnerID); err != nil {
			return err
		}
		participants = fresh.Participants
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply %s -> %s: %w", tr.From, tr.To, err)
	}

	if applied {
		c.Participants = participants
	}
	return s.settle(ctx, c, tr, winnerID, applied, path), nil
}

// settle records the outcome of a status write and, only when this caller won,
// updates c in place and dispatches the transition's effects
func (s *Service) settle(ctx context.Context, c *challenge.Challenge, tr challenge.Transition, winnerID *string, applied bool, path string) bool {
	if !applied {
		metrics.StatusCASLostTotal.WithLabelValues(path).Inc()
		s.logger.Debug("Status transition already applied elsewhere",
			"challenge_id", c.ID, "from", tr.From, "to", tr.To)
		return false
	}

	c.Status = tr.To
	c.WinnerID = winnerID
	s.transitioned(c, tr, path)
	s.dispatch(ctx, c, tr)
	return true
}

func (s *Service) transitioned(c *challenge.Challenge, tr challenge.Transition, path string) {
	metrics.StatusTransitionsTotal.WithLabelValues(string(tr.From), string(tr.To), string(tr.Trigger), path).Inc()
	s.logger.Info("Challenge status changed",
		"challenge_id", c.ID, "from", tr.From, "to", tr.To, "trigger", tr.Trigger, "path", path)
}

func (s *Service) dispatch(ctx context.Context, c *challenge.Challenge, tr challenge.Transition) {
	for _, effect := range tr.Effects {
		switch effect {
		case challenge.EffectNotifyOpponentJoined:
			if opponent := c.Opponent(c.CreatorID); opponent != nil {
				s.notifier.OpponentJoined(ctx, c, opponent)
			}
		case challenge.EffectNotifyStarted:
			s.notifier.Started(ctx, c)
		case challenge.EffectNotifyResult:
			s.notifier.Result(ctx, c, c.WinnerID)
		case challenge.EffectNotifyExpired:
			s.notifier.Expired(ctx, c)
		case challenge.EffectNotifyCancelled:
			s.notifier.Cancelled(ctx, c)
		}
	}
}

// finalSync pulls the latest activities before a winner is decided.
// Failures fall back to the progress already stored.
func (s *Service) finalSync(ctx context.Context, c *challenge.Challenge) {
	if s.syncer == nil {
		return
	}
	if err := s.syncer.SyncChallenge(ctx, c, true); err != nil {
		s.logger.Warn("Final sync failed, resolving on stored progress", "challenge_id", c.ID, "error", err)
	}
}

type progressReader interface {
	GetLatestProgress(ctx context.Context, challengeID, userID string, asOf time.Time) (*challenge.DailyProgress, error)
}

func resolveWinner(ctx context.Context, q progressReader, c *challenge.Challenge) (*string, error) {
	standings := make([]challenge.Standing, 0, len(c.Participants))
	for _, p := range c.Participants {
		st := challenge.Standing{UserID: p.UserID, Forfeited: p.HasForfeited()}
		if !st.Forfeited {
			latest, err := q.GetLatestProgress(ctx, c.ID, p.UserID, time.Time{})
			if err != nil {
				return nil, err
			}
			if latest != nil {
				st.Percent = latest.OverallPercent
			}
		}
		standings = append(standings, st)
	}
	return challenge.ResolveWinner(standings), nil
}

// SweepReport summarises one pass over open challenges
type SweepReport struct {
	Visited      int
	Transitioned int
	Failed       int
}

// RunDailyStatusSweep advances every non-terminal challenge. A failure on one
// challenge, panics included, is logged and does not stop the sweep.
func (s *Service) RunDailyStatusSweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	challenges, err := s.db.ListChallengesByStatus(ctx,
		challenge.StatusPending, challenge.StatusScheduled, challenge.StatusActive)
	if err != nil {
		return report, fmt.Errorf("failed to list open challenges: %w", err)
	}

	for _, c := range challenges {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Visited++

		before := c.Status
		after, err := s.sweepOne(ctx, c)
		switch {
		case err != nil:
			report.Failed++
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepStatus, metrics.ResultFailure).Inc()
			s.logger.Error("Failed to advance challenge", "challenge_id", c.ID, "error", err)
		case after.Status != before:
			report.Transitioned++
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepStatus, metrics.ResultSuccess).Inc()
		default:
			metrics.SweepItemsTotal.WithLabelValues(metrics.SweepStatus, metrics.ResultSkipped).Inc()
		}
	}

	s.logger.Info("Status sweep finished",
		"visited", report.Visited, "transitioned", report.Transitioned, "failed", report.Failed)
	return report, nil
}

func (s *Service) sweepOne(ctx context.Context, c *challenge.Challenge) (after *challenge.Challenge, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic advancing challenge: %v", r)
		}
	}()
	return s.advance(ctx, c, metrics.PathScheduled)
}
