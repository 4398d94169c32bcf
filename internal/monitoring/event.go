// Package monitoring probes hazard data providers in the background and
// publishes health transitions to subscribers and notifiers.
package monitoring

import (
	"context"
	"time"
)

// EventType identifies a health transition.
type EventType string

const (
	// EventUnhealthy fires when a source reaches the consecutive failure
	// threshold.
	EventUnhealthy EventType = "source_unhealthy"
	// EventRestored fires on the first successful probe of an unhealthy source.
	EventRestored EventType = "source_restored"
)

// Event is a health transition of one source.
type Event struct {
	Type                EventType `json:"type"`
	Source              string    `json:"source"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UptimePercent       float64   `json:"uptime_percent"`
	LastError           string    `json:"last_error,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// Notifier delivers events outside the process.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Prober is anything that can be health checked.
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}
