// Package geocode resolves addresses to coordinates via the Census Geocoder
// (primary) and Google (fallback), and looks up county and tract context for
// coordinates.
package geocode

import (
	"context"
)

// Provider names.
const (
	CensusName = "census"
	GoogleName = "google"
)

// Match quality values, best first.
const (
	QualityRooftop     = "rooftop"
	QualityRange       = "range"
	QualityCentroid    = "centroid"
	QualityApproximate = "approximate"
)

// Provider is a single forward geocoding backend.
type Provider interface {
	Name() string
	Available() bool
	// Geocode returns an unmatched Result, not an error, when the address
	// is unknown to the provider.
	Geocode(ctx context.Context, address string) (*Result, error)
}

// ReverseProvider looks up administrative boundaries for a point.
type ReverseProvider interface {
	Reverse(ctx context.Context, lat, lon float64) (*Boundary, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Source         string  `json:"source"`
	Quality        string  `json:"quality"`
	MatchedAddress string  `json:"matched_address,omitempty"`
	Matched        bool    `json:"matched"`

	// Cached is set when the result came from the geocode cache.
	Cached bool `json:"-"`
}

// Confidence maps the match quality to a 0-1 confidence.
func (r *Result) Confidence() float64 {
	return QualityConfidence(r.Quality)
}

// QualityConfidence maps a match quality to a 0-1 confidence.
func QualityConfidence(quality string) float64 {
	switch quality {
	case QualityRooftop:
		return 0.95
	case QualityRange:
		return 0.8
	case QualityCentroid:
		return 0.6
	case QualityApproximate:
		return 0.4
	default:
		return 0
	}
}

// Boundary is the administrative context of a point.
type Boundary struct {
	County     string `json:"county,omitempty"`
	CountyFIPS string `json:"county_fips,omitempty"`
	State      string `json:"state,omitempty"`
	TractGEOID string `json:"tract_geoid,omitempty"`
}
