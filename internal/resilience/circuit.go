// Package resilience provides circuit breaker and retry patterns for calls to
// external hazard data providers.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state. Calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen admits exactly one trial call.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures, all inside
	// Window, that opens the circuit. Default: 5.
	FailureThreshold int

	// Window bounds how far back failures are counted. Zero counts every
	// consecutive failure regardless of age.
	Window time.Duration

	// Cooldown is how long the circuit stays open before a trial call is
	// admitted. Default: 30s.
	Cooldown time.Duration

	// ShouldTrip decides whether an error counts as a failure. Nil counts
	// every non-nil error.
	ShouldTrip func(err error) bool

	// Neutral marks errors from calls that never reached the upstream. They
	// neither count nor clear failures, and a neutral half-open trial leaves
	// the circuit half-open for the next caller.
	Neutral func(err error) bool

	// OnStateChange is called with the lock held whenever the state changes.
	OnStateChange func(from, to CircuitState)

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker guards a single upstream source.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	clock clockwork.Clock

	mu            sync.Mutex
	state         CircuitState
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		clock: clock,
		state: CircuitClosed,
	}
}

// Execute runs fn through the circuit breaker. It returns ErrCircuitOpen
// without calling fn when the circuit rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.allowRequest()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.recordResult(err, trial)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := cb.allowRequest()
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err, trial)
	return val, err
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports half-open even before the trial call is made.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.cooldownElapsed() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Counters returns the failures currently inside the window and the state.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneFailures(cb.clock.Now())
	return len(cb.failures), cb.state
}

// OpenedAt returns when the circuit last opened, zero if it never has.
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

func (cb *CircuitBreaker) cooldownElapsed() bool {
	return cb.clock.Since(cb.openedAt) >= cb.cfg.Cooldown
}

// allowRequest reports whether the call is the half-open trial.
func (cb *CircuitBreaker) allowRequest() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if !cb.cooldownElapsed() {
			return false, ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
		cb.trialInFlight = true
		return true, nil
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) recordResult(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.cfg.Neutral != nil && cb.cfg.Neutral(err) {
		if trial {
			cb.trialInFlight = false
		}
		return
	}

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}
	failed := err != nil && shouldTrip(err)
	now := cb.clock.Now()

	if trial {
		cb.trialInFlight = false
		if failed {
			cb.openedAt = now
			cb.transition(CircuitOpen)
			return
		}
		cb.failures = nil
		cb.transition(CircuitClosed)
		return
	}

	// Results of calls admitted before the circuit opened are ignored.
	if cb.state != CircuitClosed {
		return
	}
	if !failed {
		cb.failures = cb.failures[:0]
		return
	}

	cb.failures = append(cb.failures, now)
	cb.pruneFailures(now)
	if len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.openedAt = now
		cb.failures = nil
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) pruneFailures(now time.Time) {
	if cb.cfg.Window <= 0 {
		return
	}
	cutoff := now.Add(-cb.cfg.Window)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Before(cutoff) {
		i++
	}
	cb.failures = cb.failures[i:]
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers manages circuit breakers for multiple sources.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig

	// OnTransition, when set, observes state changes of every breaker.
	OnTransition func(service string, from, to CircuitState)
}

// NewServiceBreakers creates a registry of per-source circuit breakers.
// cfg is used for sources that were never registered explicitly.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Register installs a breaker with a source-specific config, replacing any
// existing one.
func (sb *ServiceBreakers) Register(service string, cfg CircuitBreakerConfig) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb := sb.newBreaker(service, cfg)
	sb.breakers[service] = cb
	return cb
}

// Get returns the circuit breaker for the named source, creating one if needed.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[service]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[service]; ok {
		return cb
	}
	cb = sb.newBreaker(service, sb.cfg)
	sb.breakers[service] = cb
	return cb
}

func (sb *ServiceBreakers) newBreaker(service string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if sb.OnTransition != nil {
		inner := cfg.OnStateChange
		cfg.OnStateChange = func(from, to CircuitState) {
			if inner != nil {
				inner(from, to)
			}
			sb.OnTransition(service, from, to)
		}
	}
	return NewCircuitBreaker(cfg)
}
