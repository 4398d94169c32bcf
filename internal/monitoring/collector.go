package monitoring

import (
	"time"
)

// SourceHealth is a point-in-time view of one source's probe history.
type SourceHealth struct {
	Source              string    `json:"source"`
	Healthy             bool      `json:"healthy"`
	UptimePercent       float64   `json:"uptime_percent"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Probes              int       `json:"probes"`
	LastProbe           time.Time `json:"last_probe"`
	LastError           string    `json:"last_error,omitempty"`
}

// history tracks one source's recent probe outcomes in a fixed ring.
type history struct {
	window []bool
	next   int
	filled int

	consecutiveFailures int
	healthy             bool
	lastProbe           time.Time
	lastError           string
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 100
	}
	// Sources start healthy until proven otherwise.
	return &history{window: make([]bool, size), healthy: true}
}

// record adds a probe outcome and returns the transition it caused, if any.
func (h *history) record(err error, at time.Time, threshold int) (EventType, bool) {
	ok := err == nil
	h.window[h.next] = ok
	h.next = (h.next + 1) % len(h.window)
	if h.filled < len(h.window) {
		h.filled++
	}
	h.lastProbe = at

	if ok {
		h.consecutiveFailures = 0
		h.lastError = ""
		if !h.healthy {
			h.healthy = true
			return EventRestored, true
		}
		return "", false
	}

	h.consecutiveFailures++
	h.lastError = err.Error()
	if h.healthy && h.consecutiveFailures >= threshold {
		h.healthy = false
		return EventUnhealthy, true
	}
	return "", false
}

func (h *history) uptime() float64 {
	if h.filled == 0 {
		return 100
	}
	up := 0
	for i := range h.filled {
		if h.window[i] {
			up++
		}
	}
	return float64(up) / float64(h.filled) * 100
}

func (h *history) snapshot(source string) SourceHealth {
	return SourceHealth{
		Source:              source,
		Healthy:             h.healthy,
		UptimePercent:       h.uptime(),
		ConsecutiveFailures: h.consecutiveFailures,
		Probes:              h.filled,
		LastProbe:           h.lastProbe,
		LastError:           h.lastError,
	}
}
