// Package notify decides who hears about a challenge event and delivers it to a Sink.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/metrics"
)

// Kind identifies the event a notification reports
type Kind string

const (
	KindOpponentJoined     Kind = "opponent_joined"
	KindChallengeStarted   Kind = "challenge_started"
	KindChallengeWon       Kind = "challenge_won"
	KindChallengeLost      Kind = "challenge_lost"
	KindChallengeTie       Kind = "challenge_tie"
	KindOpponentForfeited  Kind = "opponent_forfeited"
	KindChallengeExpired   Kind = "challenge_expired"
	KindChallengeCancelled Kind = "challenge_cancelled"
)

// Notification is a single message addressed to a user
type Notification struct {
	UserID      string
	Kind        Kind
	ChallengeID string
	Message     string
}

// Sink delivers notifications
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Notifier turns challenge events into notifications. Delivery failures are
// logged and counted, never returned: the state change they report has
// already been committed.
type Notifier struct {
	sink   Sink
	logger *slog.Logger
}

// NewNotifier creates a notifier writing to sink
func NewNotifier(sink Sink, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sink: sink, logger: logger}
}

func displayName(c *challenge.Challenge) string {
	if c.Name == "" {
		return "Challenge"
	}
	return c.Name
}

func (n *Notifier) send(ctx context.Context, userID string, kind Kind, c *challenge.Challenge, msg string) {
	err := n.sink.Notify(ctx, Notification{
		UserID:      userID,
		Kind:        kind,
		ChallengeID: c.ID,
		Message:     msg,
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(kind), metrics.ResultFailure).Inc()
		n.logger.Error("Failed to deliver notification",
			"user_id", userID, "kind", kind, "challenge_id", c.ID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(kind), metrics.ResultSuccess).Inc()
}

// OpponentJoined tells the creator that someone accepted the invite
func (n *Notifier) OpponentJoined(ctx context.Context, c *challenge.Challenge, opponent *challenge.Participant) {
	name := opponent.UserName
	if name == "" {
		name = "Your opponent"
	}
	n.send(ctx, c.CreatorID, KindOpponentJoined, c,
		fmt.Sprintf("%s joined %q", name, displayName(c)))
}

// Started tells every participant that the challenge is running
func (n *Notifier) Started(ctx context.Context, c *challenge.Challenge) {
	for _, p := range c.Participants {
		n.send(ctx, p.UserID, KindChallengeStarted, c,
			fmt.Sprintf("%q has started!", displayName(c)))
	}
}

// Result tells every non-forfeited participant whether they won, lost or tied
func (n *Notifier) Result(ctx context.Context, c *challenge.Challenge, winnerID *string) {
	for _, p := range c.ActiveParticipants() {
		switch {
		case winnerID == nil:
			n.send(ctx, p.UserID, KindChallengeTie, c,
				fmt.Sprintf("%q ended in a tie!", displayName(c)))
		case *winnerID == p.UserID:
			n.send(ctx, p.UserID, KindChallengeWon, c,
				fmt.Sprintf("You won %q!", displayName(c)))
		default:
			n.send(ctx, p.UserID, KindChallengeLost, c,
				fmt.Sprintf("%q has ended. Better luck next time!", displayName(c)))
		}
	}
}

// OpponentForfeited tells the remaining participant that the other one gave up
func (n *Notifier) OpponentForfeited(ctx context.Context, c *challenge.Challenge, forfeiter, remaining *challenge.Participant) {
	name := forfeiter.UserName
	if name == "" {
		name = "Your opponent"
	}
	n.send(ctx, remaining.UserID, KindOpponentForfeited, c,
		fmt.Sprintf("%s forfeited %q. You can finish it now.", name, displayName(c)))
}

// Expired tells the creator nobody joined in time
func (n *Notifier) Expired(ctx context.Context, c *challenge.Challenge) {
	n.send(ctx, c.CreatorID, KindChallengeExpired, c,
		fmt.Sprintf("%q expired, no one joined", displayName(c)))
}

// Cancelled tells everyone except the creator that the challenge was called off
func (n *Notifier) Cancelled(ctx context.Context, c *challenge.Challenge) {
	for _, p := range c.Participants {
		if p.UserID == c.CreatorID {
			continue
		}
		n.send(ctx, p.UserID, KindChallengeCancelled, c,
			fmt.Sprintf("%q was cancelled by its creator", displayName(c)))
	}
}
