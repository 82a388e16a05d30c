package challenge

import (
	"math"
	"strings"
)

// Sport is an activity type a goal can be declared for
type Sport string

const (
	SportRun  Sport = "RUN"
	SportRide Sport = "RIDE"
	SportSwim Sport = "SWIM"
	SportWalk Sport = "WALK"
)

// AllSports lists every supported sport
var AllSports = []Sport{SportRun, SportRide, SportSwim, SportWalk}

// Valid reports whether s is a supported sport
func (s Sport) Valid() bool {
	switch s {
	case SportRun, SportRide, SportSwim, SportWalk:
		return true
	}
	return false
}

// providerSports maps provider sport_type strings (lowercased) to sports
var providerSports = map[string]Sport{
	"run":              SportRun,
	"trailrun":         SportRun,
	"virtualrun":       SportRun,
	"ride":             SportRide,
	"virtualride":      SportRide,
	"ebikeride":        SportRide,
	"mountainbikeride": SportRide,
	"gravelride":       SportRide,
	"swim":             SportSwim,
	"walk":             SportWalk,
	"hike":             SportWalk,
}

// SportFromProvider maps an external sport type. ok is false for unsupported types.
func SportFromProvider(sportType string) (Sport, bool) {
	s, ok := providerSports[strings.ToLower(strings.TrimSpace(sportType))]
	return s, ok
}

// Goals maps each sport to its target distance in kilometers
type Goals map[Sport]float64

// Validate requires at least one goal, every sport known and every distance positive
func (g Goals) Validate() error {
	if len(g) == 0 {
		return Validationf("at least one sport goal must be specified")
	}
	for sport, km := range g {
		if !sport.Valid() {
			return Validationf("unknown sport %q", sport)
		}
		if math.IsNaN(km) || math.IsInf(km, 0) || km <= 0 {
			return Validationf("goal for %s must be a positive distance", sport)
		}
	}
	return nil
}

// Meters returns the goal for sport in whole meters, 0 when absent
func (g Goals) Meters(sport Sport) int64 {
	km, ok := g[sport]
	if !ok || km <= 0 {
		return 0
	}
	return int64(math.Round(km * 1000))
}
