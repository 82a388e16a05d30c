package challenge

import (
	"sort"
	"time"
)

// MaxParticipants is the number of participants a challenge runs with
const MaxParticipants = 2

// Challenge is a timed head-to-head competition between two users
type Challenge struct {
	ID         string
	CreatorID  string
	InviteCode string
	Name       string
	Sports     []Sport
	StartDate  time.Time // calendar date, UTC midnight
	EndDate    time.Time // calendar date, UTC midnight
	Timezone   string    // creator's IANA zone
	Status     Status
	WinnerID   *string
	CreatedAt  time.Time

	Participants []*Participant
}

// Participant is a user's membership in a challenge together with their goals
type Participant struct {
	ID          string
	ChallengeID string
	UserID      string
	UserName    string
	Goals       Goals
	JoinedAt    time.Time
	ForfeitedAt *time.Time
}

// HasForfeited reports whether the participant withdrew
func (p *Participant) HasForfeited() bool {
	return p.ForfeitedAt != nil
}

// DailyProgress is the progress snapshot of one participant for one day
type DailyProgress struct {
	ChallengeID    string
	UserID         string
	Date           time.Time
	Meters         map[Sport]int64
	OverallPercent int
	UpdatedAt      time.Time
}

// WeekResult is the immutable weekly comparison of both participants
type WeekResult struct {
	ID           string
	ChallengeID  string
	WeekStart    time.Time
	UserAID      string
	UserBID      string
	UserAPercent int
	UserBPercent int
	WinnerID     *string // nil means tie
	ComputedAt   time.Time
}

// IsTie reports whether the week ended level
func (w *WeekResult) IsTie() bool {
	return w.WinnerID == nil
}

// Location returns the creator's timezone, falling back to UTC
func (c *Challenge) Location() *time.Location {
	return LoadLocation(c.Timezone)
}

// Today returns the current calendar date in the creator's timezone
func (c *Challenge) Today(now time.Time) time.Time {
	return DateIn(now, c.Location())
}

// Participant returns the membership of userID, or nil
func (c *Challenge) Participant(userID string) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Opponent returns the other participant of userID, or nil
func (c *Challenge) Opponent(userID string) *Participant {
	for _, p := range c.Participants {
		if p.UserID != userID {
			return p
		}
	}
	return nil
}

// ActiveParticipants returns the participants that have not forfeited
func (c *Challenge) ActiveParticipants() []*Participant {
	var active []*Participant
	for _, p := range c.Participants {
		if !p.HasForfeited() {
			active = append(active, p)
		}
	}
	return active
}

// IsCreator reports whether userID created the challenge
func (c *Challenge) IsCreator(userID string) bool {
	return c.CreatorID == userID
}

// SportUnion returns the sorted union of all goal keys of the given participants
func SportUnion(participants []*Participant) []Sport {
	seen := make(map[Sport]bool)
	for _, p := range participants {
		for sport := range p.Goals {
			seen[sport] = true
		}
	}

	sports := make([]Sport, 0, len(seen))
	for sport := range seen {
		sports = append(sports, sport)
	}
	sort.Slice(sports, func(i, j int) bool { return sports[i] < sports[j] })
	return sports
}

// TimeRemaining returns how long until the end date is over in the creator's timezone
func (c *Challenge) TimeRemaining(now time.Time) time.Duration {
	loc := c.Location()
	y, m, d := c.EndDate.AddDate(0, 0, 1).Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if now.After(end) {
		return 0
	}
	return end.Sub(now)
}

// Activity is a single provider activity reduced to what progress needs
type Activity struct {
	ID             int64
	Sport          Sport
	DistanceMeters int64
	StartTime      time.Time
}
