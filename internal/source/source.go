// Package source implements clients for the external hazard data providers.
// Each client normalizes its provider's native scale to 0-100.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// Source is a hazard data provider.
type Source interface {
	Name() string
	Descriptor() model.SourceDescriptor
	// Fetch returns the provider's normalized readings for a location.
	Fetch(ctx context.Context, req model.FetchRequest) (*model.RawSourceResult, error)
	// Probe makes a cheap request that succeeds only if the provider is up.
	Probe(ctx context.Context) error
}

// StatsReporter is implemented by sources that expose transport statistics.
type StatsReporter interface {
	Stats() transport.Stats
}

// reading is what a provider parser extracts from one response. It is also
// the cached representation.
type reading struct {
	Hazards  map[model.HazardType]model.HazardScore `json:"hazards"`
	DataAsOf *time.Time                             `json:"data_as_of,omitempty"`
}

type parseFunc func(body []byte) (*reading, error)

// base holds what every provider client shares: descriptor, gateway, cache.
type base struct {
	desc  model.SourceDescriptor
	gw    *Gateway
	cache *cache.Cache
	log   *zap.Logger

	// classify, when set, remaps gateway errors before negative caching.
	classify func(error) error
}

func newBase(desc model.SourceDescriptor, gw *Gateway, c *cache.Cache) base {
	return base{
		desc:  desc,
		gw:    gw,
		cache: c,
		log:   zap.L().With(zap.String("component", "source"), zap.String("source", desc.Name)),
	}
}

func (b *base) Name() string                       { return b.desc.Name }
func (b *base) Descriptor() model.SourceDescriptor { return b.desc }
func (b *base) Stats() transport.Stats             { return b.gw.Stats() }

// fetch runs the shared flow: cache lookup, rate-limited call, parse,
// cache store. Empty readings and no-data answers are cached too, so points
// a provider does not cover are not re-requested until the entry expires.
func (b *base) fetch(ctx context.Context, req model.FetchRequest, build func(model.Location) transport.Request, parse parseFunc) (*model.RawSourceResult, error) {
	start := time.Now()
	loc := req.Location
	key := cache.HazardKey(b.desc.Name, loc.Lat, loc.Lon)

	if !req.Refresh {
		var cached reading
		ok, err := b.cache.GetJSON(ctx, cache.CategoryHazard, key, &cached)
		if err != nil {
			b.log.Warn("cache lookup failed, fetching", zap.Error(err))
		}
		if ok {
			if len(cached.Hazards) == 0 {
				return nil, eris.Wrapf(model.ErrNoDataForLocation, "%s: cached empty result", b.desc.Name)
			}
			return b.result(&cached, req, time.Since(start), true), nil
		}
	}

	resp, err := b.gw.Call(ctx, build(loc))
	if err != nil {
		if b.classify != nil {
			err = b.classify(err)
		}
		if errors.Is(err, model.ErrNoDataForLocation) {
			b.store(ctx, key, &reading{})
		}
		return nil, err
	}

	r, err := parse(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnavailable, "%s: malformed response: %v", b.desc.Name, err)
	}
	b.store(ctx, key, r)
	if len(r.Hazards) == 0 {
		return nil, eris.Wrapf(model.ErrNoDataForLocation, "%s: empty result", b.desc.Name)
	}

	res := b.result(r, req, time.Since(start), false)
	res.Billable = b.desc.RateLimit.Metered
	return res, nil
}

func (b *base) store(ctx context.Context, key string, r *reading) {
	if err := b.cache.SetJSON(ctx, cache.CategoryHazard, key, r); err != nil {
		b.log.Warn("cache store failed", zap.Error(err))
	}
}

// result clamps every reading into range and drops projections unless the
// caller asked for them.
func (b *base) result(r *reading, req model.FetchRequest, latency time.Duration, fromCache bool) *model.RawSourceResult {
	hazards := make(map[model.HazardType]model.HazardScore, len(r.Hazards))
	for h, s := range r.Hazards {
		s.Score = model.ClampScore(s.Score)
		s.Confidence = model.ClampConfidence(s.Confidence)
		if !req.IncludeProjections || s.Projected == nil {
			s.Projected = nil
		} else {
			p := model.ClampScore(*s.Projected)
			s.Projected = &p
		}
		hazards[h] = s
	}
	return &model.RawSourceResult{
		Source:    b.desc.Name,
		Hazards:   hazards,
		Latency:   latency,
		Success:   true,
		FromCache: fromCache,
		DataAsOf:  r.DataAsOf,
	}
}

// probe issues an unmetered GET and discards the body.
func (b *base) probe(ctx context.Context, url string, header map[string][]string) error {
	_, err := b.gw.Unmetered(ctx, transport.Request{URL: url, Header: header})
	return err
}
