package service

import (
	"context"
	"slices"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/progress"
)

// GetChallenge returns a participant's view of a challenge after applying any
// due transition and, while it runs, a throttled progress refresh
func (s *Service) GetChallenge(ctx context.Context, id, userID string) (*challenge.Challenge, error) {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return nil, err
	}
	if c.Participant(userID) == nil {
		return nil, challenge.Forbiddenf("not a participant of challenge %s", id)
	}

	if c.Status == challenge.StatusActive && s.syncer != nil {
		if err := s.syncer.SyncChallenge(ctx, c, false); err != nil {
			s.logger.Warn("Lazy sync failed", "challenge_id", c.ID, "error", err)
		}
	}
	return c, nil
}

// Standing is one participant's latest progress in a challenge
type Standing struct {
	Participant *challenge.Participant
	Latest      *challenge.DailyProgress // nil before the first sync
	PerSport    map[challenge.Sport]int
	Overall     int
}

// ProgressView is the scoreboard of a challenge
type ProgressView struct {
	Challenge     *challenge.Challenge
	Standings     []Standing
	History       []*challenge.DailyProgress
	TimeRemaining time.Duration
}

// GetProgress returns the current standings and the daily history
func (s *Service) GetProgress(ctx context.Context, id, userID string) (*ProgressView, error) {
	c, err := s.GetChallenge(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.progressView(ctx, c)
}

// SyncNow refreshes the progress of an ACTIVE challenge on a participant's
// request, ignoring the lazy sync cooldown, and returns the new standings.
// A failed sync still returns the stored standings.
func (s *Service) SyncNow(ctx context.Context, id, userID string) (*ProgressView, error) {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return nil, err
	}
	if c.Participant(userID) == nil {
		return nil, challenge.Forbiddenf("not a participant of challenge %s", id)
	}
	if c.Status != challenge.StatusActive {
		return nil, challenge.Conflictf("cannot sync a %s challenge", c.Status)
	}

	if s.syncer != nil {
		if err := s.syncer.SyncChallenge(ctx, c, true); err != nil {
			s.logger.Warn("Manual sync failed", "challenge_id", c.ID, "user_id", userID, "error", err)
		}
	}
	return s.progressView(ctx, c)
}

func (s *Service) progressView(ctx context.Context, c *challenge.Challenge) (*ProgressView, error) {
	view := &ProgressView{Challenge: c}
	if c.Status == challenge.StatusActive {
		view.TimeRemaining = c.TimeRemaining(s.now())
	}

	for _, p := range c.Participants {
		latest, err := s.db.GetLatestProgress(ctx, c.ID, p.UserID, time.Time{})
		if err != nil {
			return nil, err
		}

		st := Standing{Participant: p, Latest: latest}
		if latest != nil {
			res := progress.Compute(p.Goals, latest.Meters)
			st.PerSport = res.PerSport
			st.Overall = latest.OverallPercent
		}
		view.Standings = append(view.Standings, st)
	}

	var err error
	if view.History, err = s.db.ListDailyProgress(ctx, c.ID); err != nil {
		return nil, err
	}
	return view, nil
}

// ListUserChallenges returns the challenges userID takes part in, each brought
// up to date first. When statuses are given only challenges now in one of them
// are returned.
func (s *Service) ListUserChallenges(ctx context.Context, userID string, statuses ...challenge.Status) ([]*challenge.Challenge, error) {
	challenges, err := s.db.ListUserChallenges(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := challenges[:0]
	for _, c := range challenges {
		if !c.Status.Terminal() {
			advanced, err := s.advance(ctx, c, metrics.PathLazy)
			if err != nil {
				s.logger.Warn("Failed to advance challenge on list", "challenge_id", c.ID, "error", err)
			} else {
				c = advanced
			}
		}
		if len(statuses) == 0 || slices.Contains(statuses, c.Status) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListWeekResults returns the weekly snapshots of a challenge
func (s *Service) ListWeekResults(ctx context.Context, id, userID string) ([]*challenge.WeekResult, error) {
	c, err := s.getChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Participant(userID) == nil {
		return nil, challenge.Forbiddenf("not a participant of challenge %s", id)
	}
	return s.db.ListWeekResults(ctx, id)
}

// ListNotifications returns the newest notifications of userID
func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) ([]*database.Notification, error) {
	return s.db.ListNotifications(ctx, userID, limit)
}

// UnreadCount returns how many notifications userID has not read
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.db.CountUnreadNotifications(ctx, userID)
}

// MarkAllRead marks every notification of userID as read
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.db.MarkNotificationsRead(ctx, userID)
}
