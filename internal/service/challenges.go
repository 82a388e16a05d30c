package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
)

const (
	maxNameLength      = 100
	inviteCodeAttempts = 10
)

// CreateInput describes a new challenge
type CreateInput struct {
	CreatorID   string
	CreatorName string
	Name        string
	StartDate   time.Time
	EndDate     time.Time
	Timezone    string
	Goals       challenge.Goals
}

// CreateChallenge validates in and stores a PENDING challenge with the creator
// as its first participant
func (s *Service) CreateChallenge(ctx context.Context, in CreateInput) (*challenge.Challenge, error) {
	if err := challenge.ValidateTimezone(in.Timezone); err != nil {
		return nil, err
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}

	name := strings.TrimSpace(in.Name)
	if len(name) > maxNameLength {
		return nil, challenge.Validationf("name must be at most %d characters", maxNameLength)
	}

	start := challenge.DateIn(in.StartDate, time.UTC)
	end := challenge.DateIn(in.EndDate, time.UTC)
	now := s.now()
	today := challenge.DateIn(now, challenge.LoadLocation(tz))

	if start.Before(today) {
		return nil, challenge.Validationf("start date cannot be in the past")
	}
	if !end.After(start) {
		return nil, challenge.Validationf("end date must be after start date")
	}
	if err := in.Goals.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	creator := &challenge.Participant{
		ID:          uuid.NewString(),
		ChallengeID: id,
		UserID:      in.CreatorID,
		UserName:    in.CreatorName,
		Goals:       in.Goals,
		JoinedAt:    now,
	}
	c := &challenge.Challenge{
		ID:           id,
		CreatorID:    in.CreatorID,
		Name:         name,
		StartDate:    start,
		EndDate:      end,
		Timezone:     tz,
		Status:       challenge.StatusPending,
		CreatedAt:    now,
		Participants: []*challenge.Participant{creator},
	}
	c.Sports = challenge.SportUnion(c.Participants)

	for attempt := 0; ; attempt++ {
		code, err := challenge.GenerateInviteCode()
		if err != nil {
			return nil, err
		}
		c.InviteCode = code

		err = s.db.CreateChallenge(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrDuplicateInviteCode) || attempt+1 >= inviteCodeAttempts {
			return nil, err
		}
	}

	s.logger.Info("Challenge created", "challenge_id", c.ID, "creator_id", c.CreatorID, "invite_code", c.InviteCode)
	return c, nil
}

// PreviewByInviteCode returns the challenge behind an invite without joining it
func (s *Service) PreviewByInviteCode(ctx context.Context, code string) (*challenge.Challenge, error) {
	c, err := s.db.GetChallengeByInviteCode(ctx, challenge.NormalizeInviteCode(code))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, challenge.NotFoundf("no challenge with invite code %s", code)
	}
	return s.advance(ctx, c, metrics.PathLazy)
}

// JoinByInviteCode adds userID as the opponent. Capacity, membership and status
// are checked and the participant inserted in one transaction.
func (s *Service) JoinByInviteCode(ctx context.Context, code, userID, userName string, goals challenge.Goals) (*challenge.Challenge, error) {
	if err := goals.Validate(); err != nil {
		return nil, err
	}

	found, err := s.PreviewByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}

	var joined *challenge.Challenge
	var tr challenge.Transition
	var transitioned bool

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		c, err := tx.GetChallenge(ctx, found.ID)
		if err != nil {
			return err
		}
		if c == nil {
			return challenge.NotFoundf("challenge %s not found", found.ID)
		}

		now := s.now()
		switch {
		case c.Participant(userID) != nil:
			return challenge.Conflictf("already joined this challenge")
		case len(c.Participants) >= challenge.MaxParticipants:
			return challenge.Conflictf("challenge is full")
		case c.EndDate.Before(c.Today(now)):
			return challenge.Conflictf("challenge has already ended")
		case c.Status != challenge.StatusPending:
			return challenge.Conflictf("challenge is %s and cannot be joined", c.Status)
		}

		p := &challenge.Participant{
			ID:          uuid.NewString(),
			ChallengeID: c.ID,
			UserID:      userID,
			UserName:    userName,
			Goals:       goals,
			JoinedAt:    now,
		}
		if err := tx.AddParticipant(ctx, p); err != nil {
			return err
		}
		c.Participants = append(c.Participants, p)
		c.Sports = challenge.SportUnion(c.Participants)
		if err := tx.UpdateSports(ctx, c.ID, c.Sports); err != nil {
			return err
		}

		tr, transitioned = challenge.Evaluate(challenge.FactsOf(c, now), challenge.TriggerOpponentJoined)
		if transitioned {
			ok, err := tx.CompareAndSetStatus(ctx, c.ID, tr.From, tr.To, nil)
			if err != nil {
				return err
			}
			if !ok {
				return challenge.Conflictf("challenge changed while joining, try again")
			}
			c.Status = tr.To
		}

		joined = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Opponent joined challenge", "challenge_id", joined.ID, "user_id", userID)
	if transitioned {
		s.transitioned(joined, tr, metrics.PathUser)
		s.dispatch(ctx, joined, tr)
	}
	return joined, nil
}

// Leave withdraws userID. Before the start the opponent simply leaves and the
// challenge reopens; once running, leaving is a forfeit for either participant.
func (s *Service) Leave(ctx context.Context, id, userID string) (*challenge.Challenge, error) {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return nil, err
	}

	p := c.Participant(userID)
	if p == nil {
		return nil, challenge.NotFoundf("not a participant of challenge %s", id)
	}

	switch c.Status {
	case challenge.StatusScheduled:
		if c.IsCreator(userID) {
			return nil, challenge.Conflictf("the creator cannot leave before the start, cancel the challenge instead")
		}
		return s.leaveBeforeStart(ctx, c.ID, userID)

	case challenge.StatusActive:
		if p.HasForfeited() {
			return nil, challenge.Conflictf("already forfeited")
		}
		ok, err := s.db.ForfeitParticipant(ctx, c.ID, userID, s.now())
		if err != nil {
			return nil, err
		}
		if !ok {
			// Forfeited or moved out of ACTIVE since the read above
			fresh, err := s.getChallenge(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			if fresh.Status != challenge.StatusActive {
				return nil, challenge.Conflictf("cannot leave a %s challenge", fresh.Status)
			}
			return nil, challenge.Conflictf("already forfeited")
		}

		s.logger.Info("Participant forfeited", "challenge_id", c.ID, "user_id", userID)
		if opponent := c.Opponent(userID); opponent != nil && !opponent.HasForfeited() {
			s.notifier.OpponentForfeited(ctx, c, p, opponent)
		}
		return s.getChallenge(ctx, c.ID)

	default:
		return nil, challenge.Conflictf("cannot leave a %s challenge", c.Status)
	}
}

func (s *Service) leaveBeforeStart(ctx context.Context, id, userID string) (*challenge.Challenge, error) {
	var left *challenge.Challenge
	var tr challenge.Transition

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		c, err := tx.GetChallenge(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return challenge.NotFoundf("challenge %s not found", id)
		}
		if c.Status != challenge.StatusScheduled {
			return challenge.Conflictf("cannot leave a %s challenge", c.Status)
		}

		removed, err := tx.RemoveParticipant(ctx, id, userID)
		if err != nil {
			return err
		}
		if !removed {
			return challenge.NotFoundf("not a participant of challenge %s", id)
		}

		remaining := c.Participants[:0]
		for _, p := range c.Participants {
			if p.UserID != userID {
				remaining = append(remaining, p)
			}
		}
		c.Participants = remaining
		c.Sports = challenge.SportUnion(c.Participants)
		if err := tx.UpdateSports(ctx, id, c.Sports); err != nil {
			return err
		}

		var ok bool
		tr, ok = challenge.Evaluate(challenge.FactsOf(c, s.now()), challenge.TriggerOpponentLeft)
		if !ok {
			return challenge.Conflictf("cannot leave a %s challenge", c.Status)
		}
		applied, err := tx.CompareAndSetStatus(ctx, id, tr.From, tr.To, nil)
		if err != nil {
			return err
		}
		if !applied {
			return challenge.Conflictf("challenge changed while leaving, try again")
		}
		c.Status = tr.To

		left = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Opponent left challenge", "challenge_id", id, "user_id", userID)
	s.transitioned(left, tr, metrics.PathUser)
	s.dispatch(ctx, left, tr)
	return left, nil
}

// FinishEarly completes an ACTIVE challenge whose opponent forfeited, with the
// acting participant as winner. Losing the race to another writer is not an error.
func (s *Service) FinishEarly(ctx context.Context, id, userID string) (*challenge.Challenge, error) {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return nil, err
	}

	p := c.Participant(userID)
	if p == nil {
		return nil, challenge.NotFoundf("not a participant of challenge %s", id)
	}
	if p.HasForfeited() {
		return nil, challenge.Conflictf("you have forfeited this challenge")
	}
	if c.Status != challenge.StatusActive {
		return nil, challenge.Conflictf("only an active challenge can be finished early")
	}
	opponent := c.Opponent(userID)
	if opponent == nil || !opponent.HasForfeited() {
		return nil, challenge.Conflictf("can only finish early after the opponent has forfeited")
	}

	tr, ok := challenge.Evaluate(challenge.FactsOf(c, s.now()), challenge.TriggerFinishEarly)
	if !ok {
		return nil, challenge.Conflictf("only an active challenge can be finished early")
	}

	winner := userID
	applied, err := s.apply(ctx, c, tr, &winner, metrics.PathUser)
	if err != nil {
		return nil, err
	}
	if !applied {
		return s.getChallenge(ctx, id)
	}
	return c, nil
}

// Cancel calls off a challenge that has not started. Creator only.
func (s *Service) Cancel(ctx context.Context, id, userID string) (*challenge.Challenge, error) {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return nil, err
	}
	if !c.IsCreator(userID) {
		return nil, challenge.Forbiddenf("only the creator can cancel a challenge")
	}

	tr, ok := challenge.Evaluate(challenge.FactsOf(c, s.now()), challenge.TriggerCancel)
	if !ok {
		return nil, challenge.Conflictf("cannot cancel a %s challenge", c.Status)
	}

	applied, err := s.apply(ctx, c, tr, nil, metrics.PathUser)
	if err != nil {
		return nil, err
	}
	if !applied {
		return s.getChallenge(ctx, id)
	}
	return c, nil
}

// Delete removes a challenge that is not running. Creator only.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	c, err := s.advanceID(ctx, id, metrics.PathLazy)
	if err != nil {
		return err
	}
	if !c.IsCreator(userID) {
		return challenge.Forbiddenf("only the creator can delete a challenge")
	}
	if c.Status == challenge.StatusActive {
		return challenge.Conflictf("cannot delete an active challenge")
	}

	deleted, err := s.db.DeleteChallenge(ctx, id, challenge.StatusActive)
	if err != nil {
		return err
	}
	if !deleted {
		return challenge.Conflictf("cannot delete an active challenge")
	}

	s.logger.Info("Challenge deleted", "challenge_id", id, "user_id", userID)
	return nil
}

// Rename changes the display name. Creator only.
func (s *Service) Rename(ctx context.Context, id, userID, name string) (*challenge.Challenge, error) {
	c, err := s.getChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsCreator(userID) {
		return nil, challenge.Forbiddenf("only the creator can rename a challenge")
	}

	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		return nil, challenge.Validationf("name must be at most %d characters", maxNameLength)
	}
	if err := s.db.RenameChallenge(ctx, id, name); err != nil {
		return nil, err
	}

	c.Name = name
	return c, nil
}

func (s *Service) getChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	c, err := s.db.GetChallenge(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if c == nil {
		return nil, challenge.NotFoundf("challenge %s not found", id)
	}
	return c, nil
}
