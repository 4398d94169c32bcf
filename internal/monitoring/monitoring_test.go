package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/metrics"
)

type fakeProber struct {
	name string

	mu  sync.Mutex
	err error
}

func (p *fakeProber) Name() string { return p.name }

func (p *fakeProber) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, e Event) error {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
	return nil
}

func testConfig(threshold int) config.MonitoringConfig {
	return config.MonitoringConfig{
		Enabled:          true,
		Interval:         time.Minute,
		ProbeTimeout:     time.Second,
		FailureThreshold: threshold,
		UptimeWindow:     10,
	}
}

func TestMonitor_UnhealthyAfterThresholdThenRestored(t *testing.T) {
	down := errors.New("503 service unavailable")
	fema := &fakeProber{name: "fema", err: down}
	usgs := &fakeProber{name: "usgs"}
	rec := &recordingNotifier{}

	mon := NewMonitor(testConfig(3), []Prober{fema, usgs}, clockwork.NewFakeClock(), metrics.NewForTesting(), rec)
	events := mon.Subscribe(4)
	ctx := context.Background()

	mon.ProbeAll(ctx)
	mon.ProbeAll(ctx)
	assert.Empty(t, events)
	assert.True(t, mon.Snapshot()["fema"].Healthy)

	results := mon.ProbeAll(ctx)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Equal(t, "503 service unavailable", results[0].Error)
	assert.True(t, results[1].OK)

	e := <-events
	assert.Equal(t, EventUnhealthy, e.Type)
	assert.Equal(t, "fema", e.Source)
	assert.Equal(t, 3, e.ConsecutiveFailures)
	assert.Zero(t, e.UptimePercent)

	// Further failures do not repeat the event.
	mon.ProbeAll(ctx)
	assert.Empty(t, events)

	fema.set(nil)
	mon.ProbeAll(ctx)
	e = <-events
	assert.Equal(t, EventRestored, e.Type)

	snap := mon.Snapshot()
	assert.True(t, snap["fema"].Healthy)
	assert.Zero(t, snap["fema"].ConsecutiveFailures)
	assert.InDelta(t, 20, snap["fema"].UptimePercent, 1e-9)
	assert.Equal(t, 5, snap["fema"].Probes)
	assert.InDelta(t, 100, snap["usgs"].UptimePercent, 1e-9)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 2)
	assert.Equal(t, EventUnhealthy, rec.events[0].Type)
	assert.Equal(t, EventRestored, rec.events[1].Type)
}

func TestMonitor_RunTicksOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fema := &fakeProber{name: "fema", err: errors.New("down")}

	mon := NewMonitor(testConfig(1), []Prober{fema}, clock, nil)
	events := mon.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(done)
	}()

	// The first round runs immediately.
	e := <-events
	assert.Equal(t, EventUnhealthy, e.Type)

	fema.set(nil)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	e = <-events
	assert.Equal(t, EventRestored, e.Type)

	cancel()
	<-done
	_, open := <-events
	assert.False(t, open, "subscriber channel closed on shutdown")
}

type blockingProber struct{ name string }

func (p *blockingProber) Name() string { return p.name }

func (p *blockingProber) Probe(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	cfg := testConfig(1)
	cfg.ProbeTimeout = 20 * time.Millisecond
	mon := NewMonitor(cfg, []Prober{&blockingProber{name: "climatecheck"}}, nil, nil)

	results := mon.ProbeAll(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "deadline exceeded")
	assert.False(t, mon.Snapshot()["climatecheck"].Healthy)
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	fema := &fakeProber{name: "fema", err: errors.New("down")}
	mon := NewMonitor(testConfig(1), []Prober{fema}, clockwork.NewFakeClock(), nil)
	events := mon.Subscribe(1)

	mon.ProbeAll(context.Background()) // unhealthy, fills the buffer
	fema.set(nil)
	mon.ProbeAll(context.Background()) // restored, dropped

	assert.Len(t, events, 1)
}

func TestHistory_UptimeWindow(t *testing.T) {
	h := newHistory(4)
	now := time.Now()
	fail := errors.New("x")

	for _, err := range []error{fail, fail, nil, nil, nil, nil} {
		h.record(err, now, 10)
	}
	assert.InDelta(t, 100, h.uptime(), 1e-9, "failures rolled out of the window")

	h.record(fail, now, 10)
	assert.InDelta(t, 75, h.uptime(), 1e-9)
	assert.InDelta(t, 100, newHistory(4).uptime(), 1e-9)
}

func TestAlerter_Notify(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL, srv.Client())
	err := a.Notify(context.Background(), Event{Type: EventUnhealthy, Source: "firststreet", ConsecutiveFailures: 3})
	require.NoError(t, err)

	assert.Equal(t, "high", got.Severity)
	assert.Equal(t, "firststreet", got.Source)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.Contains(t, got.Message, "unhealthy")
}

func TestAlerter_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewAlerter(srv.URL, nil).Notify(context.Background(), Event{Type: EventRestored, Source: "fema"})
	assert.ErrorContains(t, err, "status 500")
}

func TestAlerter_NoURL(t *testing.T) {
	assert.NoError(t, NewAlerter("", nil).Notify(context.Background(), Event{}))
}

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestEventPublisher_Notify(t *testing.T) {
	w := &fakeWriter{}
	p := &EventPublisher{writer: w}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.Notify(context.Background(), Event{Type: EventUnhealthy, Source: "usgs", Timestamp: at}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("usgs"), msg.Key)
	assert.Contains(t, string(msg.Value), `"type":"source_unhealthy"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("source_unhealthy"), msg.Headers[0].Value)
	assert.Equal(t, []byte(at.Format(time.RFC3339)), msg.Headers[1].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEventPublisher_WriteError(t *testing.T) {
	p := &EventPublisher{writer: &fakeWriter{err: errors.New("broker unreachable")}}
	err := p.Notify(context.Background(), Event{Source: "fema"})
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestNewEventPublisher(t *testing.T) {
	p := NewEventPublisher([]string{"localhost:9092"}, "hazard-risk.health")
	assert.Equal(t, "kafka", p.Name())
	assert.NoError(t, p.Close())
}
