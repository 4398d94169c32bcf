package source

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/transport"
)

// FEMA National Risk Index fields, already on a 0-100 scale. Riverine and
// coastal flooding both feed the flood hazard; the higher one wins.
var femaFields = map[string]model.HazardType{
	"RFLD_RISKS": model.HazardFlood,
	"CFLD_RISKS": model.HazardFlood,
	"WFIR_RISKS": model.HazardWildfire,
	"HWAV_RISKS": model.HazardHeat,
	"DRGT_RISKS": model.HazardDrought,
	"ERQK_RISKS": model.HazardEarthquake,
	"HRCN_RISKS": model.HazardHurricane,
	"TRND_RISKS": model.HazardTornado,
}

const femaVersionField = "NRI_VER"

// FEMA queries the National Risk Index census-tract feature service.
type FEMA struct {
	base
}

// NewFEMA creates the FEMA NRI client.
func NewFEMA(desc model.SourceDescriptor, gw *Gateway, c *cache.Cache) *FEMA {
	return &FEMA{base: newBase(desc, gw, c)}
}

// Fetch implements Source.
func (f *FEMA) Fetch(ctx context.Context, req model.FetchRequest) (*model.RawSourceResult, error) {
	return f.fetch(ctx, req, f.request, f.parse)
}

// Probe requests the layer metadata.
func (f *FEMA) Probe(ctx context.Context) error {
	return f.probe(ctx, strings.TrimRight(f.desc.BaseURL, "/")+"?f=json", nil)
}

func (f *FEMA) request(loc model.Location) transport.Request {
	fields := make([]string, 0, len(femaFields)+1)
	for k := range femaFields {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	fields = append(fields, femaVersionField)

	params := url.Values{
		"geometry":       {strconv.FormatFloat(loc.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
		"geometryType":   {"esriGeometryPoint"},
		"inSR":           {"4326"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {strings.Join(fields, ",")},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}
	return transport.Request{URL: strings.TrimRight(f.desc.BaseURL, "/") + "/query?" + params.Encode()}
}

type femaResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *FEMA) parse(body []byte) (*reading, error) {
	var resp femaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "fema: decode")
	}
	if resp.Error != nil {
		return nil, eris.Errorf("fema: service error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	r := &reading{Hazards: make(map[model.HazardType]model.HazardScore)}
	if len(resp.Features) == 0 {
		return r, nil
	}

	attrs := resp.Features[0].Attributes
	for field, hazard := range femaFields {
		v, ok := attrs[field].(float64)
		if !ok {
			continue
		}
		score := Normalize(v, 0, 100)
		if prev, seen := r.Hazards[hazard]; seen && prev.Score >= score {
			continue
		}
		r.Hazards[hazard] = model.HazardScore{Score: score, Confidence: f.desc.Confidence}
	}
	if ver, ok := attrs[femaVersionField].(string); ok {
		if t, err := time.Parse("January 2006", strings.TrimSpace(ver)); err == nil {
			r.DataAsOf = &t
		}
	}
	return r, nil
}
