// Package ratelimit provides non-blocking per-source token buckets.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/model"
)

// ErrUnknownSource is returned by Acquire for sources that were never registered.
var ErrUnknownSource = eris.New("ratelimit: unknown source")

// bucket is one source's token bucket. Adaptive buckets shrink their refill
// rate on upstream 429s and recover gradually on success. Refunded tokens of
// metered sources are held in credits and spent before the limiter.
type bucket struct {
	policy  model.RateLimitPolicy
	limiter *rate.Limiter

	mu          sync.Mutex
	credits     int
	currentRate rate.Limit
	minRate     rate.Limit
	maxRate     rate.Limit

	billed atomic.Int64
}

func (b *bucket) tokens(now time.Time) float64 {
	return b.limiter.TokensAt(now) + float64(b.credits)
}

// Limiter holds a token bucket per source. Acquire never blocks.
type Limiter struct {
	clock   clockwork.Clock
	metrics *metrics.Metrics

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New creates an empty Limiter. A nil clock uses the real clock.
func New(clock clockwork.Clock, m *metrics.Metrics) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		clock:   clock,
		metrics: metrics.OrDiscard(m),
		buckets: make(map[string]*bucket),
	}
}

// Register installs or replaces the bucket for source. A new bucket starts full.
func (l *Limiter) Register(source string, p model.RateLimitPolicy) {
	if p.MaxTokens <= 0 {
		p.MaxTokens = 1
	}
	limit := rate.Limit(p.RefillPerSec)
	if p.RefillPerSec <= 0 {
		limit = rate.Inf
	}
	b := &bucket{
		policy:      p,
		limiter:     rate.NewLimiter(limit, p.MaxTokens),
		currentRate: limit,
		minRate:     limit / 4,
		maxRate:     limit,
	}
	l.mu.Lock()
	l.buckets[source] = b
	l.mu.Unlock()
}

func (l *Limiter) bucket(source string) (*bucket, error) {
	l.mu.RLock()
	b, ok := l.buckets[source]
	l.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSource, "source %q", source)
	}
	return b, nil
}

// Acquire takes one token for source. On success it returns a Permit and a
// zero wait. When the bucket is empty it returns a nil Permit and the time
// until a token will be available.
func (l *Limiter) Acquire(source string) (*Permit, time.Duration, error) {
	b, err := l.bucket(source)
	if err != nil {
		return nil, 0, err
	}

	now := l.clock.Now()
	b.mu.Lock()
	granted := false
	switch {
	case b.credits > 0:
		b.credits--
		granted = true
	case b.limiter.AllowN(now, 1):
		granted = true
	}
	var wait time.Duration
	if !granted {
		wait = b.waitLocked(now)
	}
	b.mu.Unlock()

	if !granted {
		l.metrics.RateLimitDecisions.WithLabelValues(source, "denied").Inc()
		return nil, wait, nil
	}
	l.metrics.RateLimitDecisions.WithLabelValues(source, "granted").Inc()
	return &Permit{limiter: l, source: source, bucket: b}, 0, nil
}

// waitLocked returns how long until one whole token is available.
func (b *bucket) waitLocked(now time.Time) time.Duration {
	if b.currentRate == rate.Inf || b.currentRate <= 0 {
		return 0
	}
	need := 1 - b.limiter.TokensAt(now)
	if need <= 0 {
		return 0
	}
	wait := time.Duration(need / float64(b.currentRate) * float64(time.Second))
	return max(wait, time.Millisecond)
}

// Available returns the tokens currently in source's bucket.
func (l *Limiter) Available(source string) float64 {
	b, err := l.bucket(source)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens(l.clock.Now())
}

// Usage returns the number of confirmed billable calls for a metered source.
func (l *Limiter) Usage(source string) int64 {
	b, err := l.bucket(source)
	if err != nil {
		return 0
	}
	return b.billed.Load()
}

// OnThrottled halves an adaptive source's refill rate, down to a quarter of
// its configured rate.
func (l *Limiter) OnThrottled(source string) {
	b, err := l.bucket(source)
	if err != nil || !b.policy.Adaptive {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentRate == rate.Inf {
		return
	}
	b.currentRate = max(b.currentRate*0.5, b.minRate)
	b.limiter.SetLimitAt(l.clock.Now(), b.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.String("source", source),
		zap.Float64("new_rate", float64(b.currentRate)),
	)
}

// OnSuccess raises an adaptive source's refill rate by 20%, up to its
// configured rate.
func (l *Limiter) OnSuccess(source string) {
	b, err := l.bucket(source)
	if err != nil || !b.policy.Adaptive {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentRate == rate.Inf || b.currentRate >= b.maxRate {
		return
	}
	b.currentRate = min(b.currentRate*1.2, b.maxRate)
	b.limiter.SetLimitAt(l.clock.Now(), b.currentRate)
}

// Rate returns source's current refill rate in tokens per second.
func (l *Limiter) Rate(source string) float64 {
	b, err := l.bucket(source)
	if err != nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.currentRate)
}

// Permit is a granted token. For metered sources the caller must settle it
// with Confirm after a successful call or Release after a failed one.
// Settling is idempotent; only the first call has an effect.
type Permit struct {
	limiter *Limiter
	source  string
	bucket  *bucket
	settled atomic.Bool
}

// Metered reports whether the permit's source bills per call.
func (p *Permit) Metered() bool { return p.bucket.policy.Metered }

// Confirm records the call as billable for metered sources.
func (p *Permit) Confirm() {
	if !p.settled.CompareAndSwap(false, true) || !p.Metered() {
		return
	}
	p.bucket.billed.Add(1)
	p.limiter.metrics.MeteredUnits.WithLabelValues(p.source).Inc()
}

// Release returns the token to a metered source's bucket, unless the bucket
// has refilled to capacity in the meantime. For unmetered sources the token
// stays spent.
func (p *Permit) Release() {
	if !p.settled.CompareAndSwap(false, true) || !p.Metered() {
		return
	}
	b := p.bucket
	b.mu.Lock()
	refunded := b.tokens(p.limiter.clock.Now())+1 <= float64(b.policy.MaxTokens)
	if refunded {
		b.credits++
	}
	b.mu.Unlock()
	if refunded {
		p.limiter.metrics.RateLimitDecisions.WithLabelValues(p.source, "refunded").Inc()
	}
}
