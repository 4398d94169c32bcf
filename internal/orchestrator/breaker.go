package orchestrator

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/resilience"
)

// shouldTrip reports whether err says something about the source's health.
// Answers about the request itself (no data, bad input) do not count.
func shouldTrip(err error) bool {
	switch {
	case err == nil, neutral(err):
		return false
	case errors.Is(err, model.ErrNoDataForLocation),
		errors.Is(err, model.ErrInvalidInput):
		return false
	default:
		return true
	}
}

// neutral reports calls that never reached the provider: denied by our own
// rate limiter or cancelled by the caller.
func neutral(err error) bool {
	return errors.Is(err, model.ErrRateLimited) || errors.Is(err, context.Canceled)
}

func breakerConfig(d model.SourceDescriptor, clock clockwork.Clock) resilience.CircuitBreakerConfig {
	cfg := resilience.FromBreakerPolicy(d.Breaker)
	cfg.ShouldTrip = shouldTrip
	cfg.Neutral = neutral
	cfg.Clock = clock
	return cfg
}

func newBreakers(clock clockwork.Clock, m *metrics.Metrics, log *zap.Logger) *resilience.ServiceBreakers {
	def := resilience.DefaultCircuitBreakerConfig()
	def.ShouldTrip = shouldTrip
	def.Neutral = neutral
	def.Clock = clock

	sb := resilience.NewServiceBreakers(def)
	sb.OnTransition = func(source string, from, to resilience.CircuitState) {
		m.BreakerState.WithLabelValues(source).Set(float64(to))
		m.BreakerTransitions.WithLabelValues(source, to.String()).Inc()
		log.Warn("orchestrator: circuit breaker transition",
			zap.String("source", source),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return sb
}
