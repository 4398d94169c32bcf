package model

import (
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// HazardType identifies a natural hazard category.
type HazardType string

const (
	HazardFlood      HazardType = "flood"
	HazardWildfire   HazardType = "wildfire"
	HazardHeat       HazardType = "heat"
	HazardDrought    HazardType = "drought"
	HazardEarthquake HazardType = "earthquake"
	HazardHurricane  HazardType = "hurricane"
	HazardTornado    HazardType = "tornado"
)

// AllHazards lists every hazard type in display order.
var AllHazards = []HazardType{
	HazardFlood,
	HazardWildfire,
	HazardHeat,
	HazardDrought,
	HazardEarthquake,
	HazardHurricane,
	HazardTornado,
}

// ParseHazard returns the hazard type for s and whether it is known.
func ParseHazard(s string) (HazardType, bool) {
	for _, h := range AllHazards {
		if string(h) == s {
			return h, true
		}
	}
	return "", false
}

// ParseHazards parses hazard names, ignoring case and surrounding space.
// An unknown name is invalid input.
func ParseHazards(names []string) ([]HazardType, error) {
	var out []HazardType
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		h, ok := ParseHazard(n)
		if !ok {
			return nil, eris.Wrapf(ErrInvalidInput, "unknown hazard %q", n)
		}
		if !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out, nil
}

// RiskLevel is the qualitative bucket for a 0-100 score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
	RiskExtreme  RiskLevel = "EXTREME"
)

// LevelFor maps a normalized score to its risk level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score < 20:
		return RiskLow
	case score < 40:
		return RiskModerate
	case score < 60:
		return RiskHigh
	case score < 80:
		return RiskVeryHigh
	default:
		return RiskExtreme
	}
}

// ClampScore bounds a score to [0, 100]. NaN becomes 0.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// ClampConfidence bounds a confidence to [0, 1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
