package model

import (
	"slices"
	"time"
)

// RateLimitPolicy configures a source's token bucket.
type RateLimitPolicy struct {
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	RefillPerSec float64 `json:"refill_per_sec" mapstructure:"refill_per_sec"`
	Metered      bool    `json:"metered" mapstructure:"metered"`
	Adaptive     bool    `json:"adaptive" mapstructure:"adaptive"`
}

// BreakerPolicy configures a source's circuit breaker.
type BreakerPolicy struct {
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"`
	Window           time.Duration `json:"window" mapstructure:"window"`
	Cooldown         time.Duration `json:"cooldown" mapstructure:"cooldown"`
}

// SourceDescriptor is the static description of one configured provider.
// It is built once at startup and never mutated.
type SourceDescriptor struct {
	Name         string          `json:"name"`
	BaseURL      string          `json:"base_url"`
	Weight       float64         `json:"weight"`
	Confidence   float64         `json:"confidence"`
	Hazards      []HazardType    `json:"hazards"`
	RateLimit    RateLimitPolicy `json:"rate_limit"`
	Breaker      BreakerPolicy   `json:"breaker"`
	PricePerCall float64         `json:"price_per_call,omitempty"`
}

// Covers reports whether the source declares coverage of h.
func (d SourceDescriptor) Covers(h HazardType) bool {
	return slices.Contains(d.Hazards, h)
}

// HazardScore is one source's normalized reading for one hazard.
type HazardScore struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Projected  *float64 `json:"projected,omitempty"`
}

// RawSourceResult is what a single source call produces. It is created by
// a source client and consumed by the aggregator.
type RawSourceResult struct {
	Source    string                     `json:"source"`
	Hazards   map[HazardType]HazardScore `json:"hazards"`
	Latency   time.Duration              `json:"latency"`
	Success   bool                       `json:"success"`
	FromCache bool                       `json:"from_cache"`
	DataAsOf  *time.Time                 `json:"data_as_of,omitempty"`
	Billable  bool                       `json:"billable,omitempty"`
}

// FetchRequest is the input to a source fetch.
type FetchRequest struct {
	Location           Location
	IncludeProjections bool
	// Refresh skips the cache lookup. The fresh result is still stored.
	Refresh bool
}
