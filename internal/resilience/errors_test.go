package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset behind eris wrap", eris.Wrap(fmt.Errorf("fema body: %w", syscall.ECONNRESET), "fema query"), true},
		{"plain validation failure", errors.New("latitude out of range"), false},
		{"connection reset", fmt.Errorf("read fema body: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial climatecheck: %w", syscall.ECONNREFUSED), true},
		{"connection aborted", fmt.Errorf("write firststreet: %w", syscall.ECONNABORTED), true},
		{"dns timeout", &net.DNSError{Err: "lookup timed out", IsTimeout: true}, true},
		{"dns not found", &net.DNSError{Err: "no such host", IsNotFound: true}, false},
		{"proxy reset text", errors.New("upstream: Connection reset by peer"), true},
		{"tls text", errors.New("net/http: TLS handshake timeout"), true},
		{"eof text", errors.New("unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 599} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 304, 400, 401, 403, 404, 422, 600} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestRetryAfterHint(t *testing.T) {
	throttled := &throttledError{wait: 2 * time.Second}

	assert.Equal(t, 2*time.Second, retryAfterHint(eris.Wrap(throttled, "fema query")))
	assert.Zero(t, retryAfterHint(errors.New("plain")))
}
