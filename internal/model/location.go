package model

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Input is the caller-supplied subject of an assessment. Either both
// coordinates or a non-empty address must be present.
type Input struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Address string   `json:"address,omitempty"`
}

// HasCoordinates reports whether both coordinates were supplied.
func (in Input) HasCoordinates() bool {
	return in.Lat != nil && in.Lon != nil
}

// Validate checks the input shape and coordinate ranges.
func (in Input) Validate() error {
	if in.Lat != nil || in.Lon != nil {
		if !in.HasCoordinates() {
			return eris.Wrap(ErrInvalidInput, "both lat and lon are required")
		}
		return ValidateCoordinates(*in.Lat, *in.Lon)
	}
	if strings.TrimSpace(in.Address) == "" {
		return eris.Wrap(ErrInvalidInput, "coordinates or address required")
	}
	return nil
}

// ValidateCoordinates checks WGS84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return eris.Wrap(ErrInvalidInput, "coordinates must be finite")
	}
	if lat < -90 || lat > 90 {
		return eris.Wrapf(ErrInvalidInput, "latitude %f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return eris.Wrapf(ErrInvalidInput, "longitude %f out of range", lon)
	}
	return nil
}

// Location is a resolved point with optional administrative context.
type Location struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Address    string  `json:"address,omitempty"`
	Geocoder   string  `json:"geocoder,omitempty"`
	Quality    string  `json:"quality,omitempty"`
	County     string  `json:"county,omitempty"`
	CountyFIPS string  `json:"county_fips,omitempty"`
	State      string  `json:"state,omitempty"`
	TractGEOID string  `json:"tract_geoid,omitempty"`

	// GeocodeConfidence is set only for geocoded addresses.
	GeocodeConfidence float64 `json:"geocode_confidence,omitempty"`
	GeocodeCached     bool    `json:"geocode_cached,omitempty"`
}

// Point returns the location as an SRID 4326 point.
func (l Location) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{l.Lon, l.Lat}).SetSRID(4326)
}

// GeoJSON encodes the location as a GeoJSON point geometry.
func (l Location) GeoJSON() (json.RawMessage, error) {
	b, err := geojson.Marshal(l.Point())
	if err != nil {
		return nil, eris.Wrap(err, "encode location geojson")
	}
	return b, nil
}
