package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sells-group/hazard-risk/internal/resilience"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindClient     ErrorKind = "client"
	KindServer     ErrorKind = "server"
)

// Error is returned by Client.Do for every failed call. It records the last
// attempt's classification.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Method     string
	URL        string
	Attempts   int
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: %s error: status %d", e.Method, e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterHint implements resilience.RetryAfterHinter.
func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// Retryable reports whether the failure is transient: timeouts, connection
// failures, 5xx, 408, and 429.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection:
		return true
	default:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	}
}

// Throttled reports whether the upstream answered 429.
func (e *Error) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// AsError extracts a transport error from err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	ok := errors.As(err, &te)
	return te, ok
}

func isRetryable(err error) bool {
	if te, ok := AsError(err); ok {
		return te.Retryable()
	}
	return resilience.IsTransient(err)
}

// classifyFailure maps a transport-level error (no response) to a kind.
func classifyFailure(attemptCtx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

func statusKind(code int) ErrorKind {
	if code >= 500 {
		return KindServer
	}
	return KindClient
}

// parseRetryAfter reads a Retry-After header in either delay-seconds or
// HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
