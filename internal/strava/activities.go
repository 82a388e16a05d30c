package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
)

const perPage = 200 // Strava max

// ActivitySummary is the part of a list-endpoint activity progress needs
type ActivitySummary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	SportType string    `json:"sport_type"`
	Distance  float64   `json:"distance"`
	StartDate time.Time `json:"start_date"`
}

// ParseActivitiesSummary decodes a list-endpoint response body
func ParseActivitiesSummary(data []byte) ([]ActivitySummary, error) {
	var activities []ActivitySummary
	if err := json.Unmarshal(data, &activities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}
	return activities, nil
}

// ToActivity maps a summary onto a challenge sport. Activities of any other
// sport report false.
func (a ActivitySummary) ToActivity() (challenge.Activity, bool) {
	sport, ok := challenge.SportFromProvider(a.SportType)
	if !ok {
		sport, ok = challenge.SportFromProvider(a.Type)
	}
	if !ok {
		return challenge.Activity{}, false
	}
	return challenge.Activity{
		ID:             a.ID,
		Sport:          sport,
		DistanceMeters: int64(math.Round(max(a.Distance, 0))),
		StartTime:      a.StartDate.UTC(),
	}, true
}

// ListActivities fetches one page of conn's activities started in (after, before).
// Returns whether there may be more pages.
func (c *Client) ListActivities(ctx context.Context, conn *database.Connection, after, before time.Time, page int) ([]ActivitySummary, bool, error) {
	if page < 1 {
		page = 1
	}

	params := url.Values{
		"after":    {strconv.FormatInt(after.Unix(), 10)},
		"before":   {strconv.FormatInt(before.Unix(), 10)},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}

	respBody, err := c.doRequest(ctx, metrics.OpListActivities, "/athlete/activities?"+params.Encode(), conn)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list activities: %w", err)
	}

	activities, err := ParseActivitiesSummary(respBody)
	if err != nil {
		return nil, false, err
	}

	// If we got a full page, there might be more
	return activities, len(activities) == perPage, nil
}

// FetchActivities returns every supported activity conn's athlete started in
// [after, before), following pagination
func (c *Client) FetchActivities(ctx context.Context, conn *database.Connection, after, before time.Time) ([]challenge.Activity, error) {
	// Strava's after is exclusive
	apiAfter := after.Add(-time.Second)

	var result []challenge.Activity
	for page := 1; ; page++ {
		summaries, more, err := c.ListActivities(ctx, conn, apiAfter, before, page)
		if err != nil {
			return nil, err
		}

		for _, s := range summaries {
			a, ok := s.ToActivity()
			if !ok || a.StartTime.Before(after) || !a.StartTime.Before(before) {
				continue
			}
			result = append(result, a)
		}

		if !more {
			break
		}
	}

	c.logger.Debug("Fetched activities", "user_id", conn.UserID, "count", len(result),
		"after", after.Format(time.RFC3339), "before", before.Format(time.RFC3339))
	return result, nil
}
