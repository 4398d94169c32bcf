package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveConfidence_Current(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLife: 365 * 24 * time.Hour, Floor: 0.2}

	assert.Equal(t, 0.9, EffectiveConfidence(0.9, now, now, decay))
}

func TestEffectiveConfidence_HalfLife(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oneYearAgo := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLife: 365 * 24 * time.Hour, Floor: 0.2}

	assert.InDelta(t, 0.4, EffectiveConfidence(0.8, oneYearAgo, now, decay), 1e-9)
}

func TestEffectiveConfidence_Floor(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ancient := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	decay := DecayConfig{HalfLife: 365 * 24 * time.Hour, Floor: 0.15}

	assert.Equal(t, 0.15, EffectiveConfidence(0.9, ancient, now, decay))
	// The floor never lifts a reading above its own confidence.
	assert.Equal(t, 0.1, EffectiveConfidence(0.1, ancient, now, decay))
}

func TestEffectiveConfidence_Disabled(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ancient := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0.9, EffectiveConfidence(0.9, ancient, now, DecayConfig{}))
	assert.Equal(t, 0.9, EffectiveConfidence(0.9, time.Time{}, now, DecayConfig{HalfLife: time.Hour}))
}

func TestEffectiveConfidence_NonPositive(t *testing.T) {
	now := time.Now()
	decay := DecayConfig{HalfLife: time.Hour, Floor: 0.2}

	assert.Equal(t, 0.0, EffectiveConfidence(0, now, now, decay))
	assert.Equal(t, 0.0, EffectiveConfidence(-0.5, now, now, decay))
}
