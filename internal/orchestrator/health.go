package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/monitoring"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/source"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// Source and overall health states.
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// HealthSnapshotter supplies probe history per source.
type HealthSnapshotter interface {
	Snapshot() map[string]monitoring.SourceHealth
}

// SourceHealth combines probe history, breaker state and transport stats
// for one source.
type SourceHealth struct {
	Source              string           `json:"source"`
	Status              string           `json:"status"`
	UptimePercent       float64          `json:"uptime_percent"`
	LastProbe           *time.Time       `json:"last_probe,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastError           string           `json:"last_error,omitempty"`
	Circuit             string           `json:"circuit"`
	CircuitFailures     int              `json:"circuit_failures"`
	CircuitOpenedAt     *time.Time       `json:"circuit_opened_at,omitempty"`
	Transport           *transport.Stats `json:"transport,omitempty"`
}

// HealthReport is the health of every configured source.
type HealthReport struct {
	Overall     string         `json:"overall"`
	Sources     []SourceHealth `json:"sources"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Watch applies monitor events until ctx is done or events is closed.
// Sources reported unhealthy are skipped by Assess until restored.
func (m *Manager) Watch(ctx context.Context, events <-chan monitoring.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.apply(e)
		}
	}
}

func (m *Manager) apply(e monitoring.Event) {
	if _, ok := m.sources[e.Source]; !ok {
		return
	}
	m.mu.Lock()
	switch e.Type {
	case monitoring.EventUnhealthy:
		m.down[e.Source] = true
	case monitoring.EventRestored:
		delete(m.down, e.Source)
	}
	m.mu.Unlock()
	m.log.Info("orchestrator: source availability changed",
		zap.String("source", e.Source),
		zap.String("event", string(e.Type)),
	)
}

// Health reports every configured source. It never makes network calls.
func (m *Manager) Health() HealthReport {
	var snap map[string]monitoring.SourceHealth
	if m.monitor != nil {
		snap = m.monitor.Snapshot()
	}

	report := HealthReport{GeneratedAt: m.clock.Now().UTC()}
	up := 0
	for _, name := range m.names {
		cb := m.breakers.Get(name)
		state := cb.State()
		failures, _ := cb.Counters()
		sh := SourceHealth{
			Source:          name,
			UptimePercent:   100,
			Circuit:         state.String(),
			CircuitFailures: failures,
		}
		if opened := cb.OpenedAt(); !opened.IsZero() {
			sh.CircuitOpenedAt = &opened
		}
		if h, ok := snap[name]; ok {
			sh.UptimePercent = h.UptimePercent
			sh.ConsecutiveFailures = h.ConsecutiveFailures
			sh.LastError = h.LastError
			if !h.LastProbe.IsZero() {
				lp := h.LastProbe
				sh.LastProbe = &lp
			}
		}
		if sr, ok := m.sources[name].(source.StatsReporter); ok {
			st := sr.Stats()
			sh.Transport = &st
		}

		switch {
		case m.isDown(name) || state == resilience.CircuitOpen:
			sh.Status = StatusDown
		case state == resilience.CircuitHalfOpen || sh.ConsecutiveFailures > 0:
			sh.Status = StatusDegraded
		default:
			sh.Status = StatusUp
			up++
		}
		report.Sources = append(report.Sources, sh)
	}

	switch {
	case len(m.names) > 0 && up == len(m.names):
		report.Overall = StatusUp
	case up == 0 && !anyStatus(report.Sources, StatusDegraded):
		report.Overall = StatusDown
	default:
		report.Overall = StatusDegraded
	}
	return report
}

func anyStatus(sources []SourceHealth, status string) bool {
	for _, s := range sources {
		if s.Status == status {
			return true
		}
	}
	return false
}
