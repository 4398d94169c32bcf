// Package transport performs HTTP calls to hazard data providers with
// per-attempt timeouts, classified errors, and retry with backoff.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/resilience"
)

const tracerName = "github.com/sells-group/hazard-risk/internal/transport"

// Request describes a single provider call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a successful (2xx/3xx) provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
	Attempts   int
}

// Options configures a Client.
type Options struct {
	// Source names the provider in logs, metrics, and spans.
	Source string

	// Timeout bounds each attempt. Default: 10s.
	Timeout time.Duration

	Retry resilience.RetryConfig

	UserAgent string

	// StatsWindow is the number of recent calls kept for Stats. Default: 100.
	StatsWindow int

	// MaxBodyBytes caps how much of a response body is read. Default: 8 MiB.
	MaxBodyBytes int64

	// OnThrottle is invoked for every 429 attempt.
	OnThrottle func()

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client is a per-source HTTP transport.
type Client struct {
	opts    Options
	http    *http.Client
	stats   *rollingStats
	metrics *metrics.Metrics
	tracer  trace.Tracer
	log     *zap.Logger
}

// New creates a Client with the given options.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "hazard-risk/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		opts:    opts,
		http:    hc,
		stats:   newRollingStats(opts.StatsWindow),
		metrics: metrics.OrDiscard(opts.Metrics),
		tracer:  otel.Tracer(tracerName),
		log:     zap.L().With(zap.String("component", "transport"), zap.String("source", opts.Source)),
	}
}

// Source returns the provider name this client serves.
func (c *Client) Source() string { return c.opts.Source }

// Stats returns rolling statistics over the most recent calls.
func (c *Client) Stats() Stats { return c.stats.snapshot() }

// Do executes req, retrying transient failures. A non-nil error is always a
// *Error (possibly wrapped) unless ctx was cancelled before the first attempt.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	target := redactURL(req.URL)

	ctx, span := c.tracer.Start(ctx, "transport "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hazard.source", c.opts.Source),
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()

	retry := c.opts.Retry
	retry.ShouldRetry = isRetryable
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.TransportRetries.WithLabelValues(c.opts.Source).Inc()
		c.log.Debug("retrying request",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	start := time.Now()
	attempts := 0
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
		attempts++
		return c.attempt(ctx, req, target)
	})
	latency := time.Since(start)

	c.stats.record(err == nil, latency)
	c.metrics.TransportDuration.WithLabelValues(c.opts.Source).Observe(latency.Seconds())
	span.SetAttributes(attribute.Int("hazard.attempts", attempts))

	if err != nil {
		kind := KindConnection
		if te, ok := AsError(err); ok {
			te.Attempts = attempts
			kind = te.Kind
			span.SetAttributes(attribute.Int("http.response.status_code", te.StatusCode))
		}
		c.metrics.TransportRequests.WithLabelValues(c.opts.Source, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		c.log.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("url", target),
			zap.String("kind", string(kind)),
			zap.Int("attempts", attempts),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}

	resp.Latency = latency
	resp.Attempts = attempts
	c.metrics.TransportRequests.WithLabelValues(c.opts.Source, "success").Inc()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.log.Info("request completed",
		zap.String("method", req.Method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempts", attempts),
		zap.Duration("latency", latency),
	)
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request, target string) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindClient, Method: req.Method, URL: target, Err: eris.Wrap(err, "build request")}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("User-Agent", c.opts.UserAgent)

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, &Error{Kind: classifyFailure(actx, err), Method: req.Method, URL: target, Err: err}
	}
	defer hresp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(hresp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: classifyFailure(actx, err), Method: req.Method, URL: target, Err: eris.Wrap(err, "read body")}
	}

	if hresp.StatusCode >= 400 {
		te := &Error{
			Kind:       statusKind(hresp.StatusCode),
			StatusCode: hresp.StatusCode,
			Method:     req.Method,
			URL:        target,
			RetryAfter: parseRetryAfter(hresp.Header.Get("Retry-After"), time.Now()),
			Body:       snippet(data),
			Err:        eris.Errorf("unexpected status %d", hresp.StatusCode),
		}
		if te.Throttled() && c.opts.OnThrottle != nil {
			c.opts.OnThrottle()
		}
		return nil, te
	}

	return &Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       data,
	}, nil
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}

// redactURL strips query values that look like credentials before logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, k := range []string{"key", "api_key", "apikey", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
