package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/transport"
)

var firstStreetFactors = map[string]model.HazardType{
	"flood": model.HazardFlood,
	"fire":  model.HazardWildfire,
	"heat":  model.HazardHeat,
	"wind":  model.HazardHurricane,
}

// FirstStreet queries a commercial 1-10 risk factor API. Calls are metered.
type FirstStreet struct {
	base
	apiKey string
}

// NewFirstStreet creates the risk factor client.
func NewFirstStreet(desc model.SourceDescriptor, gw *Gateway, c *cache.Cache, apiKey string) *FirstStreet {
	return &FirstStreet{base: newBase(desc, gw, c), apiKey: apiKey}
}

// Fetch implements Source.
func (f *FirstStreet) Fetch(ctx context.Context, req model.FetchRequest) (*model.RawSourceResult, error) {
	return f.fetch(ctx, req, f.request, f.parse)
}

// Probe calls the free status endpoint.
func (f *FirstStreet) Probe(ctx context.Context) error {
	return f.probe(ctx, strings.TrimRight(f.desc.BaseURL, "/")+"/status?"+url.Values{"key": {f.apiKey}}.Encode(), nil)
}

func (f *FirstStreet) request(loc model.Location) transport.Request {
	params := url.Values{
		"lat": {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
		"lng": {strconv.FormatFloat(loc.Lon, 'f', 6, 64)},
		"key": {f.apiKey},
	}
	return transport.Request{URL: strings.TrimRight(f.desc.BaseURL, "/") + "/location/risk?" + params.Encode()}
}

type firstStreetResponse struct {
	AsOf    string `json:"asOf"`
	Factors map[string]*struct {
		Score     *float64 `json:"score"`
		Projected *float64 `json:"projected"`
	} `json:"factors"`
}

func (f *FirstStreet) parse(body []byte) (*reading, error) {
	var resp firstStreetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "firststreet: decode")
	}
	r := &reading{Hazards: make(map[model.HazardType]model.HazardScore)}
	for name, factor := range resp.Factors {
		hazard, ok := firstStreetFactors[name]
		if !ok || factor == nil || factor.Score == nil {
			continue
		}
		hs := model.HazardScore{Score: Normalize(*factor.Score, 0, 10), Confidence: f.desc.Confidence}
		if factor.Projected != nil {
			hs.Projected = ptr(Normalize(*factor.Projected, 0, 10))
		}
		r.Hazards[hazard] = hs
	}
	if t, err := time.Parse(time.DateOnly, resp.AsOf); err == nil {
		r.DataAsOf = &t
	}
	return r, nil
}
