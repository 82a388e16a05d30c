package strava

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"challenge-engine/internal/metrics"
)

// Window is one pair of Strava rate limit counters
type Window struct {
	Limit15Min int
	Usage15Min int
	LimitDaily int
	UsageDaily int
}

// Pct returns the higher of the 15 minute and daily usage percentages
func (w Window) Pct() float64 {
	pct := 0.0
	if w.Limit15Min > 0 {
		pct = float64(w.Usage15Min) / float64(w.Limit15Min) * 100
	}
	if w.LimitDaily > 0 {
		pct = max(pct, float64(w.UsageDaily)/float64(w.LimitDaily)*100)
	}
	return pct
}

// RateLimiter tracks the limits Strava reports on every response. Activity
// listing counts against both the overall and the read limits.
type RateLimiter struct {
	mu          sync.RWMutex
	overall     Window
	read        Window
	lastUpdated time.Time
}

// RateLimitStatus is a snapshot of the tracked limits
type RateLimitStatus struct {
	Overall     Window
	Read        Window
	LastUpdated time.Time
}

// NewRateLimiter starts from Strava's default application limits
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		overall: Window{Limit15Min: 200, LimitDaily: 2000},
		read:    Window{Limit15Min: 100, LimitDaily: 1000},
	}
}

// Observe updates the limits from response headers. Missing or malformed
// headers leave the previous values in place.
func (rl *RateLimiter) Observe(h http.Header) {
	overall, okOverall := parseWindow(h.Get("X-RateLimit-Limit"), h.Get("X-RateLimit-Usage"))
	read, okRead := parseWindow(h.Get("X-ReadRateLimit-Limit"), h.Get("X-ReadRateLimit-Usage"))
	if !okOverall && !okRead {
		return
	}

	rl.mu.Lock()
	if okOverall {
		rl.overall = overall
		publish(metrics.RateLimitOverall15Min, metrics.RateLimitOverallDaily, overall)
	}
	if okRead {
		rl.read = read
		publish(metrics.RateLimitRead15Min, metrics.RateLimitReadDaily, read)
	}
	rl.lastUpdated = time.Now()
	rl.mu.Unlock()
}

// Status returns the current limits
func (rl *RateLimiter) Status() RateLimitStatus {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return RateLimitStatus{Overall: rl.overall, Read: rl.read, LastUpdated: rl.lastUpdated}
}

// IsNearLimit reports whether any tracked window is at or above threshold percent
func (rl *RateLimiter) IsNearLimit(threshold float64) bool {
	status := rl.Status()
	return status.Overall.Pct() >= threshold || status.Read.Pct() >= threshold
}

// parseWindow reads a "15min,daily" limit header and its usage counterpart
func parseWindow(limitHeader, usageHeader string) (Window, bool) {
	limits := strings.Split(limitHeader, ",")
	usages := strings.Split(usageHeader, ",")
	if len(limits) != 2 || len(usages) != 2 {
		return Window{}, false
	}

	var values [4]int
	for i, raw := range []string{limits[0], limits[1], usages[0], usages[1]} {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Window{}, false
		}
		values[i] = v
	}
	return Window{Limit15Min: values[0], LimitDaily: values[1], Usage15Min: values[2], UsageDaily: values[3]}, true
}

func publish(label15, labelDaily string, w Window) {
	metrics.StravaRateLimitUsage.WithLabelValues(label15, metrics.BucketLimit).Set(float64(w.Limit15Min))
	metrics.StravaRateLimitUsage.WithLabelValues(label15, metrics.BucketUsage).Set(float64(w.Usage15Min))
	metrics.StravaRateLimitUsage.WithLabelValues(labelDaily, metrics.BucketLimit).Set(float64(w.LimitDaily))
	metrics.StravaRateLimitUsage.WithLabelValues(labelDaily, metrics.BucketUsage).Set(float64(w.UsageDaily))
}
