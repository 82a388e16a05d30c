// Package progress turns raw per-sport distances and declared goals into
// completion percentages.
package progress

import "challenge-engine/internal/challenge"

// Result is the completion of one participant
type Result struct {
	PerSport map[challenge.Sport]int
	Overall  int
}

// SportPercent returns floor(meters*100/goalMeters) capped at 100.
// A non-positive goal contributes nothing and yields 0.
func SportPercent(meters, goalMeters int64) int {
	if goalMeters <= 0 {
		return 0
	}
	if meters < 0 {
		meters = 0
	}
	pct := meters * 100 / goalMeters
	if pct > 100 {
		pct = 100
	}
	return int(pct)
}

// Compute derives per-sport and overall percentages for goals given the meters
// covered per sport. Overall is the floored mean over sports with a positive goal.
func Compute(goals challenge.Goals, meters map[challenge.Sport]int64) Result {
	res := Result{PerSport: make(map[challenge.Sport]int, len(goals))}

	sum, count := 0, 0
	for sport := range goals {
		goalMeters := goals.Meters(sport)
		if goalMeters <= 0 {
			continue
		}
		pct := SportPercent(meters[sport], goalMeters)
		res.PerSport[sport] = pct
		sum += pct
		count++
	}

	if count > 0 {
		res.Overall = sum / count
	}
	return res
}
