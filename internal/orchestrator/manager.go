// Package orchestrator runs assessments: it resolves the location, fans out
// to the selected sources behind per-source circuit breakers, and aggregates
// whatever came back before the assessment deadline.
package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/aggregate"
	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/cost"
	"github.com/sells-group/hazard-risk/internal/metrics"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/source"
)

const tracerName = "github.com/sells-group/hazard-risk/internal/orchestrator"

// Locator resolves assessment input to a point.
type Locator interface {
	Resolve(ctx context.Context, in model.Input) (model.Location, error)
}

// Options narrows a single assessment.
type Options struct {
	// Sources restricts the assessment to these providers. Empty means all.
	Sources            []string
	IncludeProjections bool
	// HazardFilter restricts the output. Sources covering none of these
	// hazards are not called.
	HazardFilter []model.HazardType
}

// Deps are the collaborators a Manager is built from.
type Deps struct {
	Locator    Locator
	Sources    []source.Source
	Aggregator *aggregate.Aggregator
	Cost       *cost.Calculator
	// Monitor supplies probe history for Health. Optional.
	Monitor HealthSnapshotter
	Clock   clockwork.Clock
	Metrics *metrics.Metrics
}

// Manager owns the configured sources and their circuit breakers.
type Manager struct {
	cfg      config.OrchestratorConfig
	locator  Locator
	sources  map[string]source.Source
	names    []string
	breakers *resilience.ServiceBreakers
	agg      *aggregate.Aggregator
	cost     *cost.Calculator
	monitor  HealthSnapshotter
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	log      *zap.Logger

	mu   sync.RWMutex
	down map[string]bool
}

// New creates a Manager. Each source gets a breaker built from its
// descriptor's policy.
func New(cfg config.OrchestratorConfig, deps Deps) *Manager {
	if cfg.AssessmentTimeout <= 0 {
		cfg.AssessmentTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	agg := deps.Aggregator
	if agg == nil {
		agg = aggregate.New(aggregate.DecayConfig{})
	}
	calc := deps.Cost
	if calc == nil {
		calc = cost.NewCalculator(cost.Rates{})
	}

	m := &Manager{
		cfg:     cfg,
		locator: deps.Locator,
		sources: make(map[string]source.Source, len(deps.Sources)),
		agg:     agg,
		cost:    calc,
		monitor: deps.Monitor,
		clock:   clock,
		metrics: metrics.OrDiscard(deps.Metrics),
		tracer:  otel.Tracer(tracerName),
		log:     zap.L().With(zap.String("component", "orchestrator")),
		down:    make(map[string]bool),
	}
	m.breakers = newBreakers(clock, m.metrics, m.log)

	for _, s := range deps.Sources {
		m.sources[s.Name()] = s
		m.names = append(m.names, s.Name())
		m.breakers.Register(s.Name(), breakerConfig(s.Descriptor(), clock))
	}
	slices.Sort(m.names)
	return m
}

// Sources returns the configured sources ordered by name.
func (m *Manager) Sources() []source.Source {
	out := make([]source.Source, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.sources[name])
	}
	return out
}

// Breakers exposes the per-source circuit breakers.
func (m *Manager) Breakers() *resilience.ServiceBreakers { return m.breakers }

// Assess produces a risk assessment for in. Partial results are normal:
// sources that fail, time out or are skipped only lower confidence. The
// call fails with ErrNoDataAvailable only when no source produced data.
func (m *Manager) Assess(ctx context.Context, in model.Input, opts Options) (*model.RiskAssessment, error) {
	start := m.clock.Now()
	ctx, span := m.tracer.Start(ctx, "orchestrator.Assess")
	defer span.End()

	ra, err := m.assess(ctx, in, opts)

	outcome := "ok"
	switch {
	case err == nil:
		span.SetAttributes(
			attribute.String("assessment.id", ra.ID),
			attribute.Int("assessment.sources_used", len(ra.SourcesUsed)),
		)
	case errors.Is(err, model.ErrInvalidInput):
		outcome = "invalid_input"
	case errors.Is(err, model.ErrNoDataAvailable):
		outcome = "no_data"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	m.metrics.Assessments.WithLabelValues(outcome).Inc()
	m.metrics.AssessmentDuration.Observe(m.clock.Since(start).Seconds())
	return ra, err
}

func (m *Manager) assess(ctx context.Context, in model.Input, opts Options) (*model.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AssessmentTimeout)
	defer cancel()

	selected, err := m.selectSources(opts)
	if err != nil {
		return nil, err
	}

	if m.locator == nil {
		return nil, eris.New("orchestrator: no locator configured")
	}
	loc, err := m.locator.Resolve(ctx, in)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: resolve location")
	}

	req := model.FetchRequest{Location: loc, IncludeProjections: opts.IncludeProjections}
	results, reports, err := m.fanOut(ctx, selected, req)
	if err != nil {
		return nil, err
	}

	descs := make([]model.SourceDescriptor, 0, len(selected))
	for _, s := range selected {
		descs = append(descs, s.Descriptor())
	}
	out := m.agg.Aggregate(aggregate.Input{
		Results:            results,
		Selected:           descs,
		Hazards:            opts.HazardFilter,
		IncludeProjections: opts.IncludeProjections,
		Now:                m.clock.Now(),
	})

	if out.OverallScore == nil {
		m.log.Warn("orchestrator: no source produced data",
			zap.Float64("lat", loc.Lat),
			zap.Float64("lon", loc.Lon),
			zap.Any("sources", reports),
		)
		return nil, eris.Wrapf(model.ErrNoDataAvailable, "orchestrator: %d sources selected, none produced data", len(selected))
	}

	geometry, err := loc.GeoJSON()
	if err != nil {
		m.log.Warn("orchestrator: encode geometry", zap.Error(err))
	}

	ra := &model.RiskAssessment{
		ID:                uuid.NewString(),
		Location:          loc,
		Geometry:          geometry,
		OverallScore:      out.OverallScore,
		OverallLevel:      out.OverallLevel,
		OverallConfidence: out.OverallConfidence,
		Hazards:           out.Hazards,
		SourcesUsed:       out.SourcesUsed,
		Sources:           reports,
		EstimatedCostUSD:  m.cost.Assessment(results, loc).Total,
		GeneratedAt:       m.clock.Now().UTC(),
	}

	m.log.Info("orchestrator: assessment complete",
		zap.String("id", ra.ID),
		zap.Float64("overall_score", *ra.OverallScore),
		zap.Float64("overall_confidence", ra.OverallConfidence),
		zap.Strings("sources_used", ra.SourcesUsed),
		zap.Float64("estimated_cost_usd", ra.EstimatedCostUSD),
	)
	return ra, nil
}

// selectSources intersects the requested names with the configured sources
// and drops those covering none of the requested hazards.
func (m *Manager) selectSources(opts Options) ([]source.Source, error) {
	names := m.names
	if len(opts.Sources) > 0 {
		names = nil
		for _, name := range opts.Sources {
			if _, ok := m.sources[name]; !ok {
				return nil, eris.Wrapf(model.ErrInvalidInput, "unknown source %q", name)
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
		slices.Sort(names)
	}

	selected := make([]source.Source, 0, len(names))
	for _, name := range names {
		s := m.sources[name]
		if len(opts.HazardFilter) > 0 && !coversAny(s.Descriptor(), opts.HazardFilter) {
			continue
		}
		selected = append(selected, s)
	}
	return selected, nil
}

func coversAny(d model.SourceDescriptor, hazards []model.HazardType) bool {
	for _, h := range hazards {
		if d.Covers(h) {
			return true
		}
	}
	return false
}
