package challenge

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a challenge
type Status string

const (
	StatusPending   Status = "PENDING"   // created, waiting for an opponent
	StatusScheduled Status = "SCHEDULED" // both joined, start date in the future
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED" // end date passed without an opponent
)

// ParseStatus returns the status named s, case-insensitively
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusScheduled, StatusActive, StatusCompleted, StatusCancelled, StatusExpired:
		return st, nil
	}
	return "", Validationf("unknown status %q", s)
}

// Terminal reports whether no further transition can leave s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// Trigger is the condition that causes a transition to be considered
type Trigger string

const (
	TriggerClock          Trigger = "clock"
	TriggerOpponentJoined Trigger = "opponent_joined"
	TriggerOpponentLeft   Trigger = "opponent_left"
	TriggerFinishEarly    Trigger = "finish_early"
	TriggerCancel         Trigger = "cancel"
)

// Effect is a side effect attached to a transition
type Effect string

const (
	EffectNotifyOpponentJoined Effect = "notify_opponent_joined"
	EffectNotifyStarted        Effect = "notify_started"
	EffectResolveWinner        Effect = "resolve_winner"
	EffectNotifyResult         Effect = "notify_result"
	EffectNotifyExpired        Effect = "notify_expired"
	EffectNotifyCancelled      Effect = "notify_cancelled"
)

// Facts is everything a transition decision depends on
type Facts struct {
	Status       Status
	StartDate    time.Time
	EndDate      time.Time
	Today        time.Time
	Participants int
}

// FactsOf derives the decision inputs of c at instant now
func FactsOf(c *Challenge, now time.Time) Facts {
	return Facts{
		Status:       c.Status,
		StartDate:    c.StartDate,
		EndDate:      c.EndDate,
		Today:        c.Today(now),
		Participants: len(c.Participants),
	}
}

func (f Facts) started() bool { return !f.StartDate.After(f.Today) }
func (f Facts) ended() bool   { return f.EndDate.Before(f.Today) }
func (f Facts) full() bool    { return f.Participants >= MaxParticipants }

// Transition is a decided state change and the effects that follow it
type Transition struct {
	From    Status
	To      Status
	Trigger Trigger
	Effects []Effect
}

// Has reports whether the transition carries effect e
func (t Transition) Has(e Effect) bool {
	for _, effect := range t.Effects {
		if effect == e {
			return true
		}
	}
	return false
}

type rule struct {
	from    Status
	trigger Trigger
	to      Status
	guard   func(Facts) bool
	effects []Effect
}

// rules is the full transition table. The first matching rule wins.
var rules = []rule{
	{StatusPending, TriggerClock, StatusExpired,
		func(f Facts) bool { return f.ended() && !f.full() },
		[]Effect{EffectNotifyExpired}},
	{StatusPending, TriggerOpponentJoined, StatusScheduled,
		func(f Facts) bool { return f.full() && !f.started() },
		[]Effect{EffectNotifyOpponentJoined}},
	{StatusPending, TriggerOpponentJoined, StatusActive,
		func(f Facts) bool { return f.full() && f.started() },
		[]Effect{EffectNotifyOpponentJoined, EffectNotifyStarted}},
	{StatusScheduled, TriggerClock, StatusActive,
		func(f Facts) bool { return f.started() },
		[]Effect{EffectNotifyStarted}},
	{StatusActive, TriggerClock, StatusCompleted,
		func(f Facts) bool { return f.ended() },
		[]Effect{EffectResolveWinner, EffectNotifyResult}},
	{StatusScheduled, TriggerOpponentLeft, StatusPending,
		func(f Facts) bool { return true },
		nil},
	{StatusActive, TriggerFinishEarly, StatusCompleted,
		func(f Facts) bool { return true },
		[]Effect{EffectNotifyResult}},
	{StatusPending, TriggerCancel, StatusCancelled,
		func(f Facts) bool { return true },
		[]Effect{EffectNotifyCancelled}},
	{StatusScheduled, TriggerCancel, StatusCancelled,
		func(f Facts) bool { return true },
		[]Effect{EffectNotifyCancelled}},
}

// Evaluate decides whether trigger moves a challenge described by f to a new status.
// It is pure: the same facts always produce the same answer.
func Evaluate(f Facts, trigger Trigger) (Transition, bool) {
	for _, r := range rules {
		if r.from != f.Status || r.trigger != trigger {
			continue
		}
		if !r.guard(f) {
			continue
		}
		return Transition{
			From:    r.from,
			To:      r.to,
			Trigger: r.trigger,
			Effects: append([]Effect(nil), r.effects...),
		}, true
	}
	return Transition{}, false
}

// Allows reports whether any rule lets trigger fire from status at all
func Allows(status Status, trigger Trigger) bool {
	for _, r := range rules {
		if r.from == status && r.trigger == trigger {
			return true
		}
	}
	return false
}
