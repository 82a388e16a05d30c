package strava

import (
	"net/http"
	"testing"
)

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter()
	status := rl.Status()

	if status.Overall.Limit15Min != 200 {
		t.Errorf("Expected default overall 15min limit 200, got %d", status.Overall.Limit15Min)
	}
	if status.Overall.LimitDaily != 2000 {
		t.Errorf("Expected default overall daily limit 2000, got %d", status.Overall.LimitDaily)
	}
	if status.Read.Limit15Min != 100 {
		t.Errorf("Expected default read 15min limit 100, got %d", status.Read.Limit15Min)
	}
	if !status.LastUpdated.IsZero() {
		t.Errorf("Expected zero LastUpdated, got %v", status.LastUpdated)
	}
	if rl.IsNearLimit(1) {
		t.Error("Expected fresh limiter not to be near limit")
	}
}

func TestRateLimiterObserve(t *testing.T) {
	rl := NewRateLimiter()

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "600, 6000")
	h.Set("X-RateLimit-Usage", "150, 1500")
	h.Set("X-ReadRateLimit-Limit", "300,3000")
	h.Set("X-ReadRateLimit-Usage", "30,2700")
	rl.Observe(h)

	status := rl.Status()
	if status.Overall.Limit15Min != 600 || status.Overall.Usage15Min != 150 {
		t.Errorf("Expected overall 15min 150/600, got %d/%d", status.Overall.Usage15Min, status.Overall.Limit15Min)
	}
	if status.Overall.Pct() != 25.0 {
		t.Errorf("Expected overall pct 25, got %f", status.Overall.Pct())
	}
	// Daily read usage dominates the read window
	if status.Read.Pct() != 90.0 {
		t.Errorf("Expected read pct 90, got %f", status.Read.Pct())
	}
	if status.LastUpdated.IsZero() {
		t.Error("Expected LastUpdated to be set")
	}

	if !rl.IsNearLimit(90) {
		t.Error("Expected limiter to be near a 90% threshold")
	}
	if rl.IsNearLimit(95) {
		t.Error("Expected limiter not to be near a 95% threshold")
	}
}

func TestRateLimiterIgnoresMalformedHeaders(t *testing.T) {
	rl := NewRateLimiter()

	tests := []struct {
		name  string
		limit string
		usage string
	}{
		{"missing", "", ""},
		{"single value", "600", "10"},
		{"not a number", "600,abc", "10,20"},
		{"usage missing", "600,6000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("X-RateLimit-Limit", tt.limit)
			h.Set("X-RateLimit-Usage", tt.usage)
			rl.Observe(h)

			status := rl.Status()
			if status.Overall.Limit15Min != 200 {
				t.Errorf("Expected limits to stay at defaults, got %d", status.Overall.Limit15Min)
			}
			if !status.LastUpdated.IsZero() {
				t.Error("Expected LastUpdated to stay zero")
			}
		})
	}
}

func TestWindowPctZeroLimits(t *testing.T) {
	w := Window{Usage15Min: 10, UsageDaily: 10}
	if w.Pct() != 0 {
		t.Errorf("Expected 0 pct with zero limits, got %f", w.Pct())
	}
}
