package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Error taxonomy surfaced by source clients and the orchestrator.
var (
	ErrInvalidInput      = eris.New("invalid input")
	ErrRateLimited       = eris.New("rate limited")
	ErrSourceUnavailable = eris.New("source unavailable")
	ErrTimeout           = eris.New("timeout")
	ErrNoDataAvailable   = eris.New("no data available")

	// ErrNoDataForLocation means a source answered but has nothing for the
	// requested point. It does not count against the source's breaker.
	ErrNoDataForLocation = eris.New("no data for location")
)

// RateLimitError carries the wait a caller should observe before retrying.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
