package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"challenge-engine/internal/database"
	"challenge-engine/internal/metrics"
)

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultAuthURL  = "https://www.strava.com/oauth/authorize"
	defaultTokenURL = "https://www.strava.com/oauth/token"
	maxRetries      = 5
	initialDelay    = 1 * time.Second
	maxDelay        = 5 * time.Minute
	tokenBuffer     = 5 * time.Minute // Refresh tokens 5 minutes before expiry
)

// TokenStore persists tokens refreshed on behalf of a user
type TokenStore interface {
	UpdateConnectionTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
}

// APIError is a non-retryable Strava response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a 401 from Strava, meaning the link
// must be re-established
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client is a Strava API client
type Client struct {
	httpClient  *http.Client
	baseURL     string
	oauth       *oauth2.Config
	tokens      TokenStore
	logger      *slog.Logger
	rateLimiter *RateLimiter
	retryDelay  time.Duration
}

// NewClient creates a new Strava API client. Refreshed tokens are written
// back through tokens.
func NewClient(clientID, clientSecret string, tokens TokenStore) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   defaultAuthURL,
				TokenURL:  defaultTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens:      tokens,
		logger:      slog.Default(),
		rateLimiter: NewRateLimiter(),
		retryDelay:  initialDelay,
	}
}

// SetBaseURL points the client at a different API root
func (c *Client) SetBaseURL(u string) {
	if u != "" {
		c.baseURL = u
	}
}

// SetTokenURL points token refreshes at a different endpoint
func (c *Client) SetTokenURL(u string) {
	if u != "" {
		c.oauth.Endpoint.TokenURL = u
	}
}

// RateLimiter returns the tracker fed by response headers
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// IsNearLimit reports whether Strava usage is at or above threshold percent
func (c *Client) IsNearLimit(threshold float64) bool {
	return c.rateLimiter.IsNearLimit(threshold)
}

// accessToken returns a valid access token for conn, refreshing and persisting
// it when it is within tokenBuffer of expiry
func (c *Client) accessToken(ctx context.Context, conn *database.Connection) (string, error) {
	current := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       conn.ExpiresAt,
	}

	// The inner source holds only the refresh token so it always refreshes
	// once the outer one decides the current token is too close to expiry
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	refresher := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
	src := oauth2.ReuseTokenSourceWithExpiry(current, refresher, tokenBuffer)

	start := time.Now()
	tok, err := src.Token()
	if err != nil {
		status := "error"
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status = strconv.Itoa(retrieveErr.Response.StatusCode)
		}
		metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpRefreshToken, status).Inc()
		c.logger.Error("Token refresh failed", "user_id", conn.UserID, "error", err)
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if tok.AccessToken == conn.AccessToken {
		return tok.AccessToken, nil
	}

	duration := time.Since(start)
	metrics.StravaAPIRequestsTotal.WithLabelValues(metrics.OpRefreshToken, "200").Inc()
	metrics.StravaAPIRequestDuration.WithLabelValues(metrics.OpRefreshToken, "200").Observe(duration.Seconds())
	c.logger.Info("Refreshed token", "user_id", conn.UserID, "athlete_id", conn.AthleteID, "duration_ms", duration.Milliseconds())

	if err := c.tokens.UpdateConnectionTokens(ctx, conn.UserID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
		c.logger.Error("Failed to update tokens", "user_id", conn.UserID, "error", err)
		return "", fmt.Errorf("failed to update tokens: %w", err)
	}

	conn.AccessToken = tok.AccessToken
	conn.RefreshToken = tok.RefreshToken
	conn.ExpiresAt = tok.Expiry
	return tok.AccessToken, nil
}

// doRequest performs an authenticated GET with retries on 429 and 5xx and
// returns the response body
func (c *Client) doRequest(ctx context.Context, op, path string, conn *database.Connection) ([]byte, error) {
	token, err := c.accessToken(ctx, conn)
	if err != nil {
		return nil, err
	}

	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info("Retrying request", "path", path, "attempt", attempt, "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		duration := time.Since(start)

		if err != nil {
			metrics.StravaAPIRequestsTotal.WithLabelValues(op, "error").Inc()
			lastErr = err
			c.logger.Error("Request failed", "path", path, "error", err, "attempt", attempt)
			continue
		}

		status := strconv.Itoa(resp.StatusCode)
		metrics.StravaAPIRequestsTotal.WithLabelValues(op, status).Inc()
		metrics.StravaAPIRequestDuration.WithLabelValues(op, status).Observe(duration.Seconds())
		c.rateLimiter.Observe(resp.Header)

		c.logger.Debug("Strava API request", "path", path, "status", resp.StatusCode,
			"duration_ms", duration.Milliseconds(), "user_id", conn.UserID)

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response: %w", readErr)
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if retryAfter := parseRetryAfter(resp.Header); retryAfter > 0 {
				delay = retryAfter
			}
			lastErr = fmt.Errorf("rate limited (429)")
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
		default:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseRetryAfter extracts retry delay from Retry-After header
func parseRetryAfter(headers http.Header) time.Duration {
	seconds, err := strconv.Atoi(headers.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
