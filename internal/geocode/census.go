package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/source"
	"github.com/sells-group/hazard-risk/internal/transport"
)

const (
	// DefaultCensusURL is the Census Geocoder base URL.
	DefaultCensusURL = "https://geocoding.geo.census.gov"
	censusBenchmark  = "Public_AR_Current"
	censusVintage    = "Current_Current"
)

// Census geocodes with the free Census Geocoder. It is also the reverse
// provider for county and tract lookups.
type Census struct {
	gw      *source.Gateway
	baseURL string
}

// NewCensus creates a Census provider. An empty baseURL uses DefaultCensusURL.
func NewCensus(gw *source.Gateway, baseURL string) *Census {
	if baseURL == "" {
		baseURL = DefaultCensusURL
	}
	return &Census{gw: gw, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements Provider.
func (c *Census) Name() string { return CensusName }

// Available implements Provider.
func (c *Census) Available() bool { return true }

type censusOneLineResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
			MatchedAddress string `json:"matchedAddress"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Geocode implements Provider.
func (c *Census) Geocode(ctx context.Context, address string) (*Result, error) {
	params := url.Values{
		"address":   {address},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}
	resp, err := c.gw.Call(ctx, transport.Request{URL: c.baseURL + "/geocoder/locations/onelineaddress?" + params.Encode()})
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census request")
	}

	var body censusOneLineResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}
	if len(body.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: CensusName}, nil
	}

	// One-line matches are interpolated along the address range.
	match := body.Result.AddressMatches[0]
	return &Result{
		Latitude:       match.Coordinates.Y,
		Longitude:      match.Coordinates.X,
		Source:         CensusName,
		Quality:        QualityRange,
		MatchedAddress: match.MatchedAddress,
		Matched:        true,
	}, nil
}

type censusGeography struct {
	GEOID  string `json:"GEOID"`
	Name   string `json:"NAME"`
	StUsab string `json:"STUSAB"`
}

type censusGeographiesResponse struct {
	Result struct {
		Geographies map[string][]censusGeography `json:"geographies"`
	} `json:"result"`
}

// Reverse implements ReverseProvider.
func (c *Census) Reverse(ctx context.Context, lat, lon float64) (*Boundary, error) {
	params := url.Values{
		"x":         {strconv.FormatFloat(lon, 'f', 6, 64)},
		"y":         {strconv.FormatFloat(lat, 'f', 6, 64)},
		"benchmark": {censusBenchmark},
		"vintage":   {censusVintage},
		"format":    {"json"},
	}
	resp, err := c.gw.Call(ctx, transport.Request{URL: c.baseURL + "/geocoder/geographies/coordinates?" + params.Encode()})
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census geographies request")
	}

	var body censusGeographiesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, eris.Wrap(err, "geocode: census geographies parse response")
	}

	geo := body.Result.Geographies
	b := &Boundary{}
	if counties := geo["Counties"]; len(counties) > 0 {
		b.County = counties[0].Name
		b.CountyFIPS = counties[0].GEOID
	}
	if tracts := geo["Census Tracts"]; len(tracts) > 0 {
		b.TractGEOID = tracts[0].GEOID
	}
	if states := geo["States"]; len(states) > 0 {
		b.State = states[0].StUsab
	}
	return b, nil
}

// Probe lists the available benchmarks, a cheap request that exercises the
// geocoder service.
func (c *Census) Probe(ctx context.Context) error {
	_, err := c.gw.Unmetered(ctx, transport.Request{URL: c.baseURL + "/geocoder/benchmarks"})
	return err
}
