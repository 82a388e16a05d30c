package strava

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"challenge-engine/internal/challenge"
	"challenge-engine/internal/database"
)

const activitiesURL = "https://www.strava.com/api/v3/athlete/activities"

type recordingTokens struct {
	mu      sync.Mutex
	updates []string
	err     error
}

func (r *recordingTokens) UpdateConnectionTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, userID+":"+accessToken+":"+refreshToken)
	return r.err
}

func setupTestClient(t *testing.T) (*Client, *recordingTokens) {
	t.Helper()

	tokens := &recordingTokens{}
	client := NewClient("test_client_id", "test_client_secret", tokens)
	client.retryDelay = time.Millisecond

	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return client, tokens
}

func freshConnection() *database.Connection {
	return &database.Connection{
		UserID:       "alice",
		AthleteID:    12345,
		AccessToken:  "access_1",
		RefreshToken: "refresh_1",
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}
}

func TestFetchActivities(t *testing.T) {
	client, tokens := setupTestClient(t)

	var gotAuth, gotAfter, gotBefore string
	httpmock.RegisterResponder("GET", activitiesURL, func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		gotAfter = req.URL.Query().Get("after")
		gotBefore = req.URL.Query().Get("before")
		return httpmock.NewStringResponse(200, `[
			{"id": 1, "name": "Morning Run", "type": "Run", "sport_type": "TrailRun", "distance": 5012.6, "start_date": "2026-03-10T06:00:00Z"},
			{"id": 2, "name": "Commute", "type": "Ride", "sport_type": "EBikeRide", "distance": 12000, "start_date": "2026-03-10T08:00:00Z"},
			{"id": 3, "name": "Yoga", "type": "Yoga", "sport_type": "Yoga", "distance": 0, "start_date": "2026-03-10T09:00:00Z"}
		]`), nil
	})

	after := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	activities, err := client.FetchActivities(context.Background(), freshConnection(), after, before)
	if err != nil {
		t.Fatalf("Failed to fetch activities: %v", err)
	}

	if gotAuth != "Bearer access_1" {
		t.Errorf("Expected bearer access_1, got %q", gotAuth)
	}
	if gotAfter != fmt.Sprint(after.Unix()-1) {
		t.Errorf("Expected after %d, got %s", after.Unix()-1, gotAfter)
	}
	if gotBefore != fmt.Sprint(before.Unix()) {
		t.Errorf("Expected before %d, got %s", before.Unix(), gotBefore)
	}

	if len(activities) != 2 {
		t.Fatalf("Expected 2 supported activities, got %d", len(activities))
	}
	if activities[0].Sport != challenge.SportRun || activities[0].DistanceMeters != 5013 {
		t.Errorf("Expected RUN 5013m, got %s %dm", activities[0].Sport, activities[0].DistanceMeters)
	}
	if activities[1].Sport != challenge.SportRide {
		t.Errorf("Expected RIDE, got %s", activities[1].Sport)
	}
	if len(tokens.updates) != 0 {
		t.Errorf("Expected no token refresh, got %v", tokens.updates)
	}
}

func TestFetchActivitiesPaginates(t *testing.T) {
	client, _ := setupTestClient(t)

	full := "["
	for i := 0; i < perPage; i++ {
		if i > 0 {
			full += ","
		}
		full += fmt.Sprintf(`{"id": %d, "type": "Run", "distance": 1000, "start_date": "2026-03-10T07:00:00Z"}`, i+1)
	}
	full += "]"

	pages := []string{}
	httpmock.RegisterResponder("GET", activitiesURL, func(req *http.Request) (*http.Response, error) {
		page := req.URL.Query().Get("page")
		pages = append(pages, page)
		if page == "1" {
			return httpmock.NewStringResponse(200, full), nil
		}
		return httpmock.NewStringResponse(200, `[{"id": 999, "type": "Swim", "distance": 800, "start_date": "2026-03-10T12:00:00Z"}]`), nil
	})

	activities, err := client.FetchActivities(context.Background(), freshConnection(),
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Failed to fetch activities: %v", err)
	}

	if len(pages) != 2 || pages[0] != "1" || pages[1] != "2" {
		t.Errorf("Expected pages [1 2], got %v", pages)
	}
	if len(activities) != perPage+1 {
		t.Errorf("Expected %d activities, got %d", perPage+1, len(activities))
	}
}

func TestFetchActivitiesRefreshesExpiringToken(t *testing.T) {
	client, tokens := setupTestClient(t)

	httpmock.RegisterResponder("POST", defaultTokenURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return httpmock.NewStringResponse(400, "bad form"), nil
		}
		if req.FormValue("grant_type") != "refresh_token" {
			t.Errorf("Expected grant_type refresh_token, got %s", req.FormValue("grant_type"))
		}
		if req.FormValue("refresh_token") != "refresh_1" {
			t.Errorf("Expected refresh_token refresh_1, got %s", req.FormValue("refresh_token"))
		}
		if req.FormValue("client_id") != "test_client_id" {
			t.Errorf("Expected client_id in params, got %s", req.FormValue("client_id"))
		}
		resp := httpmock.NewStringResponse(200,
			`{"access_token": "access_2", "refresh_token": "refresh_2", "token_type": "Bearer", "expires_in": 21600}`)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	})

	var gotAuth string
	httpmock.RegisterResponder("GET", activitiesURL, func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return httpmock.NewStringResponse(200, `[]`), nil
	})

	conn := freshConnection()
	conn.ExpiresAt = time.Now().Add(2 * time.Minute)

	if _, err := client.FetchActivities(context.Background(), conn, time.Now().Add(-time.Hour), time.Now()); err != nil {
		t.Fatalf("Failed to fetch activities: %v", err)
	}

	if gotAuth != "Bearer access_2" {
		t.Errorf("Expected refreshed token to be used, got %q", gotAuth)
	}
	if len(tokens.updates) != 1 || tokens.updates[0] != "alice:access_2:refresh_2" {
		t.Errorf("Expected one persisted refresh, got %v", tokens.updates)
	}
	if conn.AccessToken != "access_2" || conn.RefreshToken != "refresh_2" {
		t.Errorf("Expected connection to carry refreshed tokens, got %s/%s", conn.AccessToken, conn.RefreshToken)
	}
}

func TestFetchActivitiesRefreshFailure(t *testing.T) {
	client, tokens := setupTestClient(t)

	httpmock.RegisterResponder("POST", defaultTokenURL,
		httpmock.NewStringResponder(400, `{"message": "Bad Request", "errors": [{"field": "refresh_token", "code": "invalid"}]}`))

	conn := freshConnection()
	conn.ExpiresAt = time.Now().Add(-time.Hour)

	_, err := client.FetchActivities(context.Background(), conn, time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected error when refresh fails")
	}
	if len(tokens.updates) != 0 {
		t.Errorf("Expected no persisted tokens, got %v", tokens.updates)
	}
	if httpmock.GetCallCountInfo()["GET "+activitiesURL] != 0 {
		t.Error("Expected no activity request without a valid token")
	}
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	client, _ := setupTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", activitiesURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(503, "unavailable"), nil
		}
		resp := httpmock.NewStringResponse(200, `[]`)
		resp.Header.Set("X-RateLimit-Limit", "600,6000")
		resp.Header.Set("X-RateLimit-Usage", "590,100")
		return resp, nil
	})

	_, err := client.FetchActivities(context.Background(), freshConnection(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if !client.IsNearLimit(90) {
		t.Error("Expected rate limit headers to be observed")
	}
}

func TestDoRequestGivesUpAfterMaxRetries(t *testing.T) {
	client, _ := setupTestClient(t)

	httpmock.RegisterResponder("GET", activitiesURL, httpmock.NewStringResponder(429, "slow down"))

	_, err := client.FetchActivities(context.Background(), freshConnection(), time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if got := httpmock.GetCallCountInfo()["GET "+activitiesURL]; got != maxRetries+1 {
		t.Errorf("Expected %d calls, got %d", maxRetries+1, got)
	}
}

func TestDoRequestUnauthorizedIsNotRetried(t *testing.T) {
	client, _ := setupTestClient(t)

	httpmock.RegisterResponder("GET", activitiesURL,
		httpmock.NewStringResponder(401, `{"message": "Authorization Error"}`))

	_, err := client.FetchActivities(context.Background(), freshConnection(), time.Now().Add(-time.Hour), time.Now())
	if !IsUnauthorized(err) {
		t.Fatalf("Expected unauthorized error, got %v", err)
	}
	if got := httpmock.GetCallCountInfo()["GET "+activitiesURL]; got != 1 {
		t.Errorf("Expected 1 call, got %d", got)
	}
}

func TestDoRequestHonoursContextDuringBackoff(t *testing.T) {
	client, _ := setupTestClient(t)
	client.retryDelay = time.Hour

	httpmock.RegisterResponder("GET", activitiesURL, httpmock.NewStringResponder(500, "boom"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchActivities(ctx, freshConnection(), time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("Expected error when context expires")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 0},
		{"15", 15 * time.Second},
		{"-3", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		h := http.Header{}
		h.Set("Retry-After", tt.value)
		if got := parseRetryAfter(h); got != tt.expected {
			t.Errorf("parseRetryAfter(%q) = %v, expected %v", tt.value, got, tt.expected)
		}
	}
}
