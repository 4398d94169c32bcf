package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazard-risk/internal/model"
)

// throttledError is a retryable failure carrying a provider-requested wait.
type throttledError struct{ wait time.Duration }

func (e *throttledError) Error() string { return "429 too many requests" }
func (e *throttledError) RetryAfterHint() time.Duration { return e.wait }

func unavailable(what string) error {
	return fmt.Errorf("%s: %w", what, syscall.ECONNRESET)
}

func retryThrottled(err error) bool {
	var te *throttledError
	return errors.As(err, &te)
}

func quickRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_Attempts(t *testing.T) {
	errBadRequest := errors.New("usgs: 400 bad request")

	tests := []struct {
		name      string
		attempts  int
		failures  int
		failWith  error
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", attempts: 3, wantCalls: 1},
		{name: "recovers after transient 503s", attempts: 3, failures: 2, failWith: unavailable("503"), wantCalls: 3},
		{name: "exhausts attempts", attempts: 4, failures: 10, failWith: unavailable("500"), wantCalls: 4, wantErr: true},
		{name: "permanent error is not retried", attempts: 5, failures: 10, failWith: errBadRequest, wantCalls: 1, wantErr: true},
		{name: "single attempt disables retry", attempts: 1, failures: 10, failWith: unavailable("502"), wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), quickRetry(tt.attempts), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.failWith)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Clock: clock}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(context.Context) error {
			calls++
			return unavailable("busy")
		})
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestDo_ShouldRetryOverride(t *testing.T) {
	errFlaky := errors.New("climatecheck: token refresh")
	cfg := quickRetry(3)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errFlaky) }

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_OnRetryReportsEachWait(t *testing.T) {
	cfg := quickRetry(3)
	var attempts []int
	cfg.OnRetry = func(attempt int, _ error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, delay, cfg.MaxBackoff)
	}

	_ = Do(context.Background(), cfg, func(context.Context) error {
		return unavailable("503")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_WaitsForRetryAfter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Clock: clock}
	cfg.ShouldRetry = retryThrottled
	var waited time.Duration
	cfg.OnRetry = func(_ int, _ error, delay time.Duration) { waited = delay }

	calls := 0
	type outcome struct {
		score float64
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := DoVal(context.Background(), cfg, func(context.Context) (float64, error) {
			calls++
			if calls == 1 {
				return 0, &throttledError{wait: 5 * time.Second}
			}
			return 88, nil
		})
		done <- outcome{v, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	got := <-done
	require.NoError(t, got.err)
	assert.InDelta(t, 88, got.score, 1e-9)
	assert.Equal(t, 5*time.Second, waited)
}

func TestDoVal_RetryAfterCappedAtMaxBackoff(t *testing.T) {
	cfg := quickRetry(2)
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.ShouldRetry = retryThrottled
	var delays []time.Duration
	cfg.OnRetry = func(_ int, _ error, delay time.Duration) { delays = append(delays, delay) }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &throttledError{wait: time.Minute}
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, delays)
}

func TestDoVal_ZeroValueOnFailure(t *testing.T) {
	v, err := DoVal(context.Background(), quickRetry(2), func(context.Context) (string, error) {
		return "partial", unavailable("502")
	})
	assert.Error(t, err)
	assert.Empty(t, v)
}

func TestComputeBackoff(t *testing.T) {
	t.Run("doubles without jitter", func(t *testing.T) {
		cfg := applyDefaults(RetryConfig{InitialBackoff: 250 * time.Millisecond, MaxBackoff: 10 * time.Second, Multiplier: 2})
		want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, 2 * time.Second}
		for i, w := range want {
			assert.Equal(t, w, computeBackoff(i, cfg), "attempt %d", i)
		}
	})

	t.Run("caps at max", func(t *testing.T) {
		cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 10})
		assert.Equal(t, 5*time.Second, computeBackoff(4, cfg))
	})

	t.Run("jitter stays in band", func(t *testing.T) {
		cfg := applyDefaults(RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, JitterFraction: 0.2})
		seen := map[time.Duration]bool{}
		for range 200 {
			d := computeBackoff(0, cfg)
			seen[d] = true
			assert.GreaterOrEqual(t, d, 800*time.Millisecond)
			assert.LessOrEqual(t, d, 1200*time.Millisecond)
		}
		assert.Greater(t, len(seen), 1)
	})
}

func TestFromRetrySettings(t *testing.T) {
	cfg := FromRetrySettings(5, 0, 2*time.Second, 0, 0.1)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 0.1, cfg.JitterFraction, 1e-9)
	assert.Equal(t, DefaultRetryConfig().InitialBackoff, cfg.InitialBackoff)
	assert.InDelta(t, 2.0, cfg.Multiplier, 1e-9)
}

func TestFromBreakerPolicy(t *testing.T) {
	cfg := FromBreakerPolicy(model.BreakerPolicy{FailureThreshold: 3, Cooldown: time.Minute})
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Cooldown)
	assert.Equal(t, DefaultCircuitBreakerConfig().Window, cfg.Window)
}
