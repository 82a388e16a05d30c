package handlers

import (
	"strings"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/service"
)

type participantResponse struct {
	UserID      string             `json:"user_id"`
	UserName    string             `json:"user_name,omitempty"`
	Goals       map[string]float64 `json:"goals"`
	JoinedAt    time.Time          `json:"joined_at"`
	ForfeitedAt *time.Time         `json:"forfeited_at,omitempty"`
}

type challengeResponse struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	InviteCode   string                `json:"invite_code"`
	Status       string                `json:"status"`
	Sports       []string              `json:"sports"`
	StartDate    string                `json:"start_date"`
	EndDate      string                `json:"end_date"`
	Timezone     string                `json:"timezone"`
	CreatorID    string                `json:"creator_id"`
	WinnerID     *string               `json:"winner_id"`
	CreatedAt    time.Time             `json:"created_at"`
	Participants []participantResponse `json:"participants"`
}

type standingResponse struct {
	UserID         string           `json:"user_id"`
	UserName       string           `json:"user_name,omitempty"`
	Forfeited      bool             `json:"forfeited"`
	OverallPercent int              `json:"overall_percent"`
	PerSport       map[string]int   `json:"per_sport"`
	Meters         map[string]int64 `json:"meters"`
	UpdatedAt      *time.Time       `json:"updated_at"`
}

type dayResponse struct {
	UserID         string           `json:"user_id"`
	Date           string           `json:"date"`
	OverallPercent int              `json:"overall_percent"`
	Meters         map[string]int64 `json:"meters"`
}

type progressResponse struct {
	Challenge            challengeResponse  `json:"challenge"`
	Standings            []standingResponse `json:"standings"`
	History              []dayResponse      `json:"history"`
	TimeRemainingSeconds int64              `json:"time_remaining_seconds"`
}

type weekResponse struct {
	WeekStart    string    `json:"week_start"`
	UserAID      string    `json:"user_a_id"`
	UserBID      string    `json:"user_b_id"`
	UserAPercent int       `json:"user_a_percent"`
	UserBPercent int       `json:"user_b_percent"`
	WinnerID     *string   `json:"winner_id"`
	Tie          bool      `json:"tie"`
	ComputedAt   time.Time `json:"computed_at"`
}

type notificationResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ChallengeID *string   `json:"challenge_id,omitempty"`
	Message     string    `json:"message"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

func toChallengeResponse(c *challenge.Challenge) challengeResponse {
	resp := challengeResponse{
		ID:           c.ID,
		Name:         c.Name,
		InviteCode:   c.InviteCode,
		Status:       string(c.Status),
		Sports:       make([]string, 0, len(c.Sports)),
		StartDate:    challenge.FormatDate(c.StartDate),
		EndDate:      challenge.FormatDate(c.EndDate),
		Timezone:     c.Timezone,
		CreatorID:    c.CreatorID,
		WinnerID:     c.WinnerID,
		CreatedAt:    c.CreatedAt,
		Participants: make([]participantResponse, 0, len(c.Participants)),
	}
	for _, s := range c.Sports {
		resp.Sports = append(resp.Sports, string(s))
	}
	for _, p := range c.Participants {
		resp.Participants = append(resp.Participants, participantResponse{
			UserID:      p.UserID,
			UserName:    p.UserName,
			Goals:       goalsToJSON(p.Goals),
			JoinedAt:    p.JoinedAt,
			ForfeitedAt: p.ForfeitedAt,
		})
	}
	return resp
}

func toChallengeList(challenges []*challenge.Challenge) []challengeResponse {
	resp := make([]challengeResponse, 0, len(challenges))
	for _, c := range challenges {
		resp = append(resp, toChallengeResponse(c))
	}
	return resp
}

func toProgressResponse(view *service.ProgressView) progressResponse {
	resp := progressResponse{
		Challenge:            toChallengeResponse(view.Challenge),
		Standings:            make([]standingResponse, 0, len(view.Standings)),
		History:              make([]dayResponse, 0, len(view.History)),
		TimeRemainingSeconds: int64(view.TimeRemaining.Seconds()),
	}

	for _, st := range view.Standings {
		sr := standingResponse{
			UserID:         st.Participant.UserID,
			UserName:       st.Participant.UserName,
			Forfeited:      st.Participant.HasForfeited(),
			OverallPercent: st.Overall,
			PerSport:       map[string]int{},
			Meters:         map[string]int64{},
		}
		for sport, pct := range st.PerSport {
			sr.PerSport[string(sport)] = pct
		}
		if st.Latest != nil {
			sr.Meters = metersToJSON(st.Latest.Meters)
			sr.UpdatedAt = &st.Latest.UpdatedAt
		}
		resp.Standings = append(resp.Standings, sr)
	}

	for _, d := range view.History {
		resp.History = append(resp.History, dayResponse{
			UserID:         d.UserID,
			Date:           challenge.FormatDate(d.Date),
			OverallPercent: d.OverallPercent,
			Meters:         metersToJSON(d.Meters),
		})
	}
	return resp
}

func toWeekResponses(results []*challenge.WeekResult) []weekResponse {
	resp := make([]weekResponse, 0, len(results))
	for _, w := range results {
		resp = append(resp, weekResponse{
			WeekStart:    challenge.FormatDate(w.WeekStart),
			UserAID:      w.UserAID,
			UserBID:      w.UserBID,
			UserAPercent: w.UserAPercent,
			UserBPercent: w.UserBPercent,
			WinnerID:     w.WinnerID,
			Tie:          w.IsTie(),
			ComputedAt:   w.ComputedAt,
		})
	}
	return resp
}

func toNotificationResponses(notifications []*database.Notification) []notificationResponse {
	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:          n.ID,
			Kind:        n.Kind,
			ChallengeID: n.ChallengeID,
			Message:     n.Message,
			Read:        n.Read,
			CreatedAt:   n.CreatedAt,
		})
	}
	return resp
}

func goalsToJSON(goals challenge.Goals) map[string]float64 {
	out := make(map[string]float64, len(goals))
	for sport, km := range goals {
		out[string(sport)] = km
	}
	return out
}

// goalsFromJSON accepts sport keys in any case
func goalsFromJSON(in map[string]float64) challenge.Goals {
	goals := make(challenge.Goals, len(in))
	for key, km := range in {
		goals[challenge.Sport(strings.ToUpper(strings.TrimSpace(key)))] = km
	}
	return goals
}

func metersToJSON(meters map[challenge.Sport]int64) map[string]int64 {
	out := make(map[string]int64, len(meters))
	for sport, m := range meters {
		out[string(sport)] = m
	}
	return out
}
