package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/source"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// DefaultGoogleURL is the Google Geocoding API base URL.
const DefaultGoogleURL = "https://maps.googleapis.com/maps/api/geocode"

// Google geocodes with the Google Geocoding API. It is only available when
// an API key is configured.
type Google struct {
	gw      *source.Gateway
	baseURL string
	apiKey  string
}

// NewGoogle creates a Google provider. An empty baseURL uses DefaultGoogleURL.
func NewGoogle(gw *source.Gateway, baseURL, apiKey string) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleURL
	}
	return &Google{gw: gw, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Name implements Provider.
func (g *Google) Name() string { return GoogleName }

// Available implements Provider.
func (g *Google) Available() bool { return g.apiKey != "" }

type googleGeocodeResponse struct {
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Geocode implements Provider.
func (g *Google) Geocode(ctx context.Context, address string) (*Result, error) {
	if g.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	params := url.Values{
		"address": {address},
		"key":     {g.apiKey},
	}
	resp, err := g.gw.Call(ctx, transport.Request{URL: g.baseURL + "/json?" + params.Encode()})
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}

	var body googleGeocodeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &Result{Matched: false, Source: GoogleName}, nil
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return &Result{Matched: false, Source: GoogleName}, nil
	}

	r := body.Results[0]
	return &Result{
		Latitude:       r.Geometry.Location.Lat,
		Longitude:      r.Geometry.Location.Lng,
		Source:         GoogleName,
		Quality:        googleLocationTypeToQuality(r.Geometry.LocationType),
		MatchedAddress: r.FormattedAddress,
		Matched:        true,
	}, nil
}

func googleLocationTypeToQuality(locType string) string {
	switch locType {
	case "ROOFTOP":
		return QualityRooftop
	case "RANGE_INTERPOLATED":
		return QualityRange
	case "GEOMETRIC_CENTER":
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
