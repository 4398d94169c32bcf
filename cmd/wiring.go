package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/aggregate"
	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/cost"
	"github.com/sells-group/hazard-risk/internal/geocode"
	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/monitoring"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
	"github.com/sells-group/hazard-risk/internal/ratelimit"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/source"
)

// engine holds the wired components shared by every command.
type engine struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Manager  *orchestrator.Manager
	Monitor  *monitoring.Monitor

	// memory is set for the in-process backend, which needs a janitor.
	memory *cache.MemoryStore
	closers []func() error
}

type engineOptions struct {
	// Monitor wires a health monitor and makes the manager consult it.
	Monitor bool
	// Notifiers receive monitor events.
	Notifiers []monitoring.Notifier
	// HTTPClient overrides the outbound client.
	HTTPClient *http.Client
}

func newEngine(ctx context.Context, c *config.Config, opts engineOptions) (*engine, error) {
	e := &engine{
		Registry: metrics.NewRegistry(),
		Clock:    clockwork.NewRealClock(),
	}
	e.Metrics = metrics.New(e.Registry)

	store, err := e.openStore(ctx, c.Cache)
	if err != nil {
		return nil, err
	}
	e.Cache = cache.New(store, c.Cache.TTL, e.Metrics)
	e.closers = append(e.closers, e.Cache.Close)
	e.Limiter = ratelimit.New(e.Clock, e.Metrics)

	deps := source.Deps{
		Limiter:    e.Limiter,
		Cache:      e.Cache,
		Metrics:    e.Metrics,
		Retry:      retryConfig(c.Transport),
		Timeout:    c.Transport.Timeout,
		UserAgent:  c.Transport.UserAgent,
		HTTPClient: opts.HTTPClient,
		APIKeys:    c.APIKeys(),
	}

	descs := c.Descriptors()
	var sources []source.Source
	var used []model.SourceDescriptor
	for _, d := range descs {
		if source.RequiresKey(d.Name) && deps.APIKeys[d.Name] == "" {
			zap.L().Warn("skipping source without api key", zap.String("source", d.Name))
			continue
		}
		s, err := source.Build(d, deps)
		if err != nil {
			e.Close()
			return nil, eris.Wrapf(err, "build source %s", d.Name)
		}
		sources = append(sources, s)
		used = append(used, d)
	}
	if len(sources) == 0 {
		e.Close()
		return nil, eris.New("no hazard sources available: enable a source or configure its api key")
	}

	census, resolver := buildGeocoding(c.Geocode, deps, e.Cache)

	if opts.Monitor {
		probers := make([]monitoring.Prober, 0, len(sources)+1)
		for _, s := range sources {
			probers = append(probers, s)
		}
		probers = append(probers, census)
		e.Monitor = monitoring.NewMonitor(c.Monitoring, probers, e.Clock, e.Metrics, opts.Notifiers...)
	}

	mdeps := orchestrator.Deps{
		Locator:    resolver,
		Sources:    sources,
		Aggregator: aggregate.New(c.Aggregate.Decay),
		Cost:       cost.NewCalculator(cost.RatesFromDescriptors(used, map[string]float64{geocode.GoogleName: c.Geocode.GooglePrice})),
		Clock:      e.Clock,
		Metrics:    e.Metrics,
	}
	if e.Monitor != nil {
		mdeps.Monitor = e.Monitor
	}
	e.Manager = orchestrator.New(c.Orchestrator, mdeps)

	zap.L().Info("engine ready",
		zap.Int("sources", len(sources)),
		zap.String("cache", c.Cache.Backend),
		zap.Bool("monitor", e.Monitor != nil),
	)
	return e, nil
}

func (e *engine) openStore(ctx context.Context, c config.CacheConfig) (cache.Store, error) {
	switch c.Backend {
	case "sqlite":
		st, err := cache.NewSQLite(ctx, c.DSN, e.Clock)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite cache")
		}
		return st, nil
	case "postgres":
		pool, err := cache.NewPostgresPool(ctx, c.DSN)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres cache")
		}
		st := cache.NewPostgres(pool, e.Clock)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	default:
		e.memory = cache.NewMemoryStore(e.Clock)
		return e.memory, nil
	}
}

// buildGeocoding wires the Census primary and Google fallback geocoders.
// Census also serves reverse lookups.
func buildGeocoding(c config.GeocodeConfig, deps source.Deps, ch *cache.Cache) (*geocode.Census, *geocode.Resolver) {
	census := geocode.NewCensus(
		source.NewGatewayFor(model.SourceDescriptor{Name: geocode.CensusName, RateLimit: c.CensusRateLimit}, deps),
		c.CensusURL,
	)
	google := geocode.NewGoogle(
		source.NewGatewayFor(model.SourceDescriptor{Name: geocode.GoogleName, RateLimit: c.GoogleRateLimit}, deps),
		c.GoogleURL,
		c.GoogleAPIKey,
	)

	var reverse geocode.ReverseProvider
	if c.Reverse {
		reverse = census
	}
	return census, geocode.NewResolver(ch, reverse, census, google)
}

func retryConfig(t config.TransportConfig) resilience.RetryConfig {
	return resilience.FromRetrySettings(t.MaxAttempts, t.InitialBackoff, t.MaxBackoff, t.Multiplier, t.JitterFraction)
}

// runJanitor sweeps expired entries from the in-process cache until ctx is
// done. Shared backends expire rows on read.
func (e *engine) runJanitor(ctx context.Context, interval time.Duration) {
	if e.memory == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go e.memory.Run(ctx, interval)
}

// Close releases the cache backend.
func (e *engine) Close() {
	for _, fn := range e.closers {
		if err := fn(); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}
