package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
)

// Resolver turns assessment input into a Location. Addresses go through the
// provider cascade; every point is then enriched with boundary context when
// a reverse provider is configured.
type Resolver struct {
	providers []Provider
	reverse   ReverseProvider
	cache     *cache.Cache
	log       *zap.Logger
}

// NewResolver creates a Resolver that tries providers in order. reverse may
// be nil.
func NewResolver(c *cache.Cache, reverse ReverseProvider, providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		reverse:   reverse,
		cache:     c,
		log:       zap.L().With(zap.String("component", "geocode")),
	}
}

// Resolve validates in and returns the point to assess. An address no
// provider can match is invalid input; a cascade where every provider
// failed is reported as source unavailable.
func (r *Resolver) Resolve(ctx context.Context, in model.Input) (model.Location, error) {
	if err := in.Validate(); err != nil {
		return model.Location{}, err
	}

	var loc model.Location
	if in.HasCoordinates() {
		loc = model.Location{Lat: *in.Lat, Lon: *in.Lon, Address: strings.TrimSpace(in.Address)}
	} else {
		res, err := r.Geocode(ctx, in.Address)
		if err != nil {
			return model.Location{}, err
		}
		if err := model.ValidateCoordinates(res.Latitude, res.Longitude); err != nil {
			return model.Location{}, eris.Wrapf(model.ErrSourceUnavailable, "geocode: %s returned bad coordinates", res.Source)
		}
		loc = model.Location{
			Lat:               res.Latitude,
			Lon:               res.Longitude,
			Address:           res.MatchedAddress,
			Geocoder:          res.Source,
			Quality:           res.Quality,
			GeocodeConfidence: res.Confidence(),
			GeocodeCached:     res.Cached,
		}
		if loc.Address == "" {
			loc.Address = strings.TrimSpace(in.Address)
		}
	}

	r.enrich(ctx, &loc)
	return loc, nil
}

// Geocode tries each available provider in order until one matches.
// Results, including misses, are cached by normalized address.
func (r *Resolver) Geocode(ctx context.Context, address string) (*Result, error) {
	key := cache.AddressKey(address)

	var cached Result
	ok, err := r.cache.GetJSON(ctx, cache.CategoryGeocode, key, &cached)
	if err != nil {
		r.log.Warn("geocode cache lookup failed", zap.Error(err))
	}
	if ok {
		if !cached.Matched {
			return nil, eris.Wrap(model.ErrInvalidInput, "geocode: address not found (cached)")
		}
		cached.Cached = true
		return &cached, nil
	}

	var lastErr error
	missed := false
	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		res, err := p.Geocode(ctx, address)
		if err != nil {
			r.log.Debug("geocode provider error, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if res != nil && res.Matched {
			r.store(ctx, key, res)
			return res, nil
		}
		missed = true
	}

	if !missed {
		if lastErr == nil {
			return nil, eris.Wrap(model.ErrSourceUnavailable, "geocode: no provider available")
		}
		return nil, eris.Wrapf(model.ErrSourceUnavailable, "geocode: all providers failed: %v", lastErr)
	}

	r.store(ctx, key, &Result{Matched: false})
	return nil, eris.Wrap(model.ErrInvalidInput, "geocode: address not found")
}

// enrich adds county and tract context. Failures are logged and ignored.
func (r *Resolver) enrich(ctx context.Context, loc *model.Location) {
	if r.reverse == nil {
		return
	}
	key := cache.BoundaryKey(loc.Lat, loc.Lon)

	var b Boundary
	ok, err := r.cache.GetJSON(ctx, cache.CategoryBoundary, key, &b)
	if err != nil {
		r.log.Warn("boundary cache lookup failed", zap.Error(err))
	}
	if !ok {
		got, err := r.reverse.Reverse(ctx, loc.Lat, loc.Lon)
		if err != nil {
			r.log.Debug("reverse geocode failed", zap.Float64("lat", loc.Lat), zap.Float64("lon", loc.Lon), zap.Error(err))
			return
		}
		b = *got
		if err := r.cache.SetJSON(ctx, cache.CategoryBoundary, key, b); err != nil {
			r.log.Warn("boundary cache store failed", zap.Error(err))
		}
	}

	loc.County = b.County
	loc.CountyFIPS = b.CountyFIPS
	loc.State = b.State
	loc.TractGEOID = b.TractGEOID
}

func (r *Resolver) store(ctx context.Context, key string, res *Result) {
	if err := r.cache.SetJSON(ctx, cache.CategoryGeocode, key, res); err != nil {
		r.log.Warn("geocode cache store failed", zap.Error(err))
	}
}
