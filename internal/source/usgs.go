package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// usgsMaxPGA is the peak ground acceleration, in g, treated as maximum
// earthquake risk.
const usgsMaxPGA = 1.0

// USGS queries the seismic design maps service for peak ground acceleration.
type USGS struct {
	base
}

// NewUSGS creates the USGS design maps client.
func NewUSGS(desc model.SourceDescriptor, gw *Gateway, c *cache.Cache) *USGS {
	u := &USGS{base: newBase(desc, gw, c)}
	u.classify = outsideModel
	return u
}

// Fetch implements Source.
func (u *USGS) Fetch(ctx context.Context, req model.FetchRequest) (*model.RawSourceResult, error) {
	return u.fetch(ctx, req, u.request, u.parse)
}

// outsideModel reports the 400 the service answers for points outside its
// model as no data rather than bad input.
func outsideModel(err error) error {
	if errors.Is(err, model.ErrInvalidInput) {
		return eris.Wrapf(model.ErrNoDataForLocation, "usgs: point outside model: %v", err)
	}
	return err
}

// Probe requests a fixed, always-covered point.
func (u *USGS) Probe(ctx context.Context) error {
	return u.probe(ctx, u.request(model.Location{Lat: 34.05, Lon: -118.25}).URL, nil)
}

func (u *USGS) request(loc model.Location) transport.Request {
	params := url.Values{
		"latitude":     {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
		"longitude":    {strconv.FormatFloat(loc.Lon, 'f', 6, 64)},
		"riskCategory": {"II"},
		"siteClass":    {"Default"},
		"title":        {"hazard-risk"},
	}
	return transport.Request{URL: strings.TrimRight(u.desc.BaseURL, "/") + "/asce7-22.json?" + params.Encode()}
}

type usgsResponse struct {
	Response struct {
		Data struct {
			PGA *float64 `json:"pga"`
		} `json:"data"`
	} `json:"response"`
}

func (u *USGS) parse(body []byte) (*reading, error) {
	var resp usgsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "usgs: decode")
	}
	r := &reading{Hazards: make(map[model.HazardType]model.HazardScore)}
	if pga := resp.Response.Data.PGA; pga != nil {
		r.Hazards[model.HazardEarthquake] = model.HazardScore{
			Score:      Normalize(*pga, 0, usgsMaxPGA),
			Confidence: u.desc.Confidence,
		}
	}
	return r, nil
}
