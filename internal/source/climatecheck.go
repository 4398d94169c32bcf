package source

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/transport"
)

var climateCheckRatings = map[string]model.HazardType{
	"flood":   model.HazardFlood,
	"fire":    model.HazardWildfire,
	"heat":    model.HazardHeat,
	"drought": model.HazardDrought,
	"storm":   model.HazardHurricane,
}

// ClimateCheck queries a commercial 0-100 rating API. Calls are metered.
type ClimateCheck struct {
	base
	apiKey string
}

// NewClimateCheck creates the ratings client.
func NewClimateCheck(desc model.SourceDescriptor, gw *Gateway, c *cache.Cache, apiKey string) *ClimateCheck {
	return &ClimateCheck{base: newBase(desc, gw, c), apiKey: apiKey}
}

// Fetch implements Source.
func (c *ClimateCheck) Fetch(ctx context.Context, req model.FetchRequest) (*model.RawSourceResult, error) {
	return c.fetch(ctx, req, c.request, c.parse)
}

// Probe calls the health endpoint.
func (c *ClimateCheck) Probe(ctx context.Context) error {
	return c.probe(ctx, strings.TrimRight(c.desc.BaseURL, "/")+"/health", c.headers())
}

func (c *ClimateCheck) headers() http.Header {
	return http.Header{
		"X-Api-Key":    {c.apiKey},
		"Content-Type": {"application/json"},
	}
}

func (c *ClimateCheck) request(loc model.Location) transport.Request {
	body, _ := json.Marshal(map[string]float64{"latitude": loc.Lat, "longitude": loc.Lon}) //nolint:errchkjson
	return transport.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(c.desc.BaseURL, "/") + "/ratings",
		Header: c.headers(),
		Body:   body,
	}
}

type climateCheckResponse struct {
	Ratings map[string]*struct {
		Rating     *float64 `json:"rating"`
		Confidence *float64 `json:"confidence"`
	} `json:"ratings"`
}

func (c *ClimateCheck) parse(body []byte) (*reading, error) {
	var resp climateCheckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "climatecheck: decode")
	}
	r := &reading{Hazards: make(map[model.HazardType]model.HazardScore)}
	for name, rating := range resp.Ratings {
		hazard, ok := climateCheckRatings[name]
		if !ok || rating == nil || rating.Rating == nil {
			continue
		}
		conf := c.desc.Confidence
		if rating.Confidence != nil {
			conf = model.ClampConfidence(*rating.Confidence)
		}
		r.Hazards[hazard] = model.HazardScore{Score: Normalize(*rating.Rating, 0, 100), Confidence: conf}
	}
	return r, nil
}
