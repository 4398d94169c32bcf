package resilience

import (
	"time"

	"github.com/sells-group/hazard-risk/internal/model"
)

// FromRetrySettings converts config values to a RetryConfig. Zero values
// keep the defaults.
func FromRetrySettings(maxAttempts int, initialBackoff, maxBackoff time.Duration, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoff > 0 {
		cfg.InitialBackoff = initialBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromBreakerPolicy converts a source's breaker policy to a CircuitBreakerConfig.
func FromBreakerPolicy(p model.BreakerPolicy) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if p.FailureThreshold > 0 {
		cfg.FailureThreshold = p.FailureThreshold
	}
	if p.Window > 0 {
		cfg.Window = p.Window
	}
	if p.Cooldown > 0 {
		cfg.Cooldown = p.Cooldown
	}
	return cfg
}
