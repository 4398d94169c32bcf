package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/metrics"
)

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Source  string        `json:"source"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// Monitor probes every registered source on a fixed interval and tracks
// rolling uptime. After FailureThreshold consecutive failures it emits
// EventUnhealthy; the next success emits EventRestored.
type Monitor struct {
	cfg       config.MonitoringConfig
	probers   []Prober
	notifiers []Notifier
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu      sync.RWMutex
	history map[string]*history
	subs    []chan Event
}

// NewMonitor creates a monitor over probers. A nil clock uses the real clock.
func NewMonitor(cfg config.MonitoringConfig, probers []Prober, clock clockwork.Clock, m *metrics.Metrics, notifiers ...Notifier) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hist := make(map[string]*history, len(probers))
	for _, p := range probers {
		hist[p.Name()] = newHistory(cfg.UptimeWindow)
	}
	return &Monitor{
		cfg:       cfg,
		probers:   probers,
		notifiers: notifiers,
		clock:     clock,
		metrics:   metrics.OrDiscard(m),
		log:       zap.L().With(zap.String("component", "monitoring")),
		history:   hist,
	}
}

// Subscribe returns a channel that receives every event. Slow subscribers
// miss events rather than stall probing. Subscribe before calling Run.
func (m *Monitor) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run probes immediately and then every interval until ctx is cancelled.
// Subscriber channels are closed when Run returns.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("starting health monitor",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("sources", len(m.probers)),
		zap.Int("failure_threshold", m.cfg.FailureThreshold),
	)

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	defer m.closeSubscribers()

	m.ProbeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("health monitor stopped")
			return
		case <-ticker.Chan():
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll runs one round of probes concurrently, records the outcomes and
// dispatches any resulting events.
func (m *Monitor) ProbeAll(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(m.probers))
	errs := make([]error, len(m.probers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.probers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, m.cfg.ProbeTimeout)
			defer cancel()

			start := m.clock.Now()
			err := p.Probe(pctx)
			results[i] = ProbeResult{Source: p.Name(), OK: err == nil, Latency: m.clock.Since(start)}
			if err != nil {
				results[i].Error = err.Error()
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return results
	}

	now := m.clock.Now()
	var events []Event
	m.mu.Lock()
	for i, p := range m.probers {
		h := m.history[p.Name()]
		typ, changed := h.record(errs[i], now, m.cfg.FailureThreshold)
		m.observe(p.Name(), h, errs[i])
		if changed {
			events = append(events, Event{
				Type:                typ,
				Source:              p.Name(),
				ConsecutiveFailures: h.consecutiveFailures,
				UptimePercent:       h.uptime(),
				LastError:           h.lastError,
				Timestamp:           now,
			})
		}
	}
	m.mu.Unlock()

	for _, e := range events {
		m.dispatch(ctx, e)
	}
	return results
}

func (m *Monitor) observe(source string, h *history, err error) {
	outcome, up := "success", 1.0
	if err != nil {
		outcome = "failure"
		m.log.Debug("probe failed", zap.String("source", source), zap.Error(err))
	}
	if !h.healthy {
		up = 0
	}
	m.metrics.ProbeResults.WithLabelValues(source, outcome).Inc()
	m.metrics.SourceUp.WithLabelValues(source).Set(up)
	m.metrics.SourceUptime.WithLabelValues(source).Set(h.uptime())
}

func (m *Monitor) dispatch(ctx context.Context, e Event) {
	m.log.Warn("source health changed",
		zap.String("source", e.Source),
		zap.String("event", string(e.Type)),
		zap.Int("consecutive_failures", e.ConsecutiveFailures),
		zap.Float64("uptime_percent", e.UptimePercent),
	)

	m.mu.RLock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
			m.log.Warn("dropping health event for slow subscriber", zap.String("source", e.Source))
		}
	}
	m.mu.RUnlock()

	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			m.log.Error("health notification failed",
				zap.String("notifier", n.Name()),
				zap.String("source", e.Source),
				zap.Error(err),
			)
		}
	}
}

func (m *Monitor) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
}

// Snapshot returns the current health of every source.
func (m *Monitor) Snapshot() map[string]SourceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SourceHealth, len(m.history))
	for name, h := range m.history {
		out[name] = h.snapshot(name)
	}
	return out
}
