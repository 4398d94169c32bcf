package aggregate

import (
	"math"
	"time"
)

// DecayConfig controls how a reading's confidence decays with the age of
// the provider's data vintage.
type DecayConfig struct {
	// HalfLife is the age at which confidence halves. Zero disables decay.
	HalfLife time.Duration `mapstructure:"half_life"`
	// Floor is the lowest confidence decay can produce.
	Floor float64 `mapstructure:"floor"`
}

// Enabled reports whether decay applies.
func (d DecayConfig) Enabled() bool { return d.HalfLife > 0 }

// EffectiveConfidence computes the time-decayed confidence of a reading.
// Formula: effective = max(floor, raw * 2^(-age / halfLife))
func EffectiveConfidence(raw float64, dataAsOf, now time.Time, decay DecayConfig) float64 {
	if raw <= 0 {
		return 0
	}
	if dataAsOf.IsZero() || !decay.Enabled() {
		return raw
	}

	age := now.Sub(dataAsOf)
	if age <= 0 {
		return raw
	}

	decayed := raw * math.Pow(2, -float64(age)/float64(decay.HalfLife))
	// The floor never raises a reading above its own raw confidence.
	return max(decayed, min(decay.Floor, raw))
}
