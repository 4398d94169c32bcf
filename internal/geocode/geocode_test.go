package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/ratelimit"
	"github.com/sells-group/hazard-risk/internal/resilience"
	"github.com/sells-group/hazard-risk/internal/source"
)

func newTestGateway(t *testing.T, name string, hc *http.Client) *source.Gateway {
	t.Helper()
	return source.NewGatewayFor(
		model.SourceDescriptor{Name: name, RateLimit: model.RateLimitPolicy{MaxTokens: 10, RefillPerSec: 10}},
		source.Deps{
			Limiter:    ratelimit.New(clockwork.NewFakeClock(), nil),
			Retry:      resilience.RetryConfig{MaxAttempts: 1},
			Timeout:    2 * time.Second,
			HTTPClient: hc,
		},
	)
}

func jsonServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCensusGeocode_Success(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{
		"result": {
			"addressMatches": [{
				"coordinates": {"x": -77.0365, "y": 38.8977},
				"matchedAddress": "1600 PENNSYLVANIA AVE NW, WASHINGTON, DC, 20500"
			}]
		}
	}`, func(r *http.Request) {
		assert.Equal(t, "/geocoder/locations/onelineaddress", r.URL.Path)
		assert.Equal(t, "1600 Pennsylvania Ave NW, Washington, DC", r.URL.Query().Get("address"))
		assert.Equal(t, "Public_AR_Current", r.URL.Query().Get("benchmark"))
	})

	c := NewCensus(newTestGateway(t, CensusName, srv.Client()), srv.URL)
	result, err := c.Geocode(context.Background(), "1600 Pennsylvania Ave NW, Washington, DC")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 38.8977, result.Latitude, 0.0001)
	assert.InDelta(t, -77.0365, result.Longitude, 0.0001)
	assert.Equal(t, CensusName, result.Source)
	assert.Equal(t, QualityRange, result.Quality)
	assert.InDelta(t, 0.8, result.Confidence(), 1e-9)
}

func TestCensusGeocode_NoMatch(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"result": {"addressMatches": []}}`, nil)

	c := NewCensus(newTestGateway(t, CensusName, srv.Client()), srv.URL)
	result, err := c.Geocode(context.Background(), "123 Nowhere St, Faketown, XX")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestCensusGeocode_ServerError(t *testing.T) {
	srv := jsonServer(t, http.StatusInternalServerError, `oops`, nil)

	c := NewCensus(newTestGateway(t, CensusName, srv.Client()), srv.URL)
	_, err := c.Geocode(context.Background(), "1 Main St")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestCensusReverse(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"result":{"geographies":{
		"Counties":[{"GEOID":"48201","NAME":"Harris County"}],
		"Census Tracts":[{"GEOID":"48201312400","NAME":"Census Tract 3124"}],
		"States":[{"GEOID":"48","NAME":"Texas","STUSAB":"TX"}]}}}`, func(r *http.Request) {
		assert.Equal(t, "/geocoder/geographies/coordinates", r.URL.Path)
		assert.Equal(t, "-95.370000", r.URL.Query().Get("x"))
		assert.Equal(t, "29.760000", r.URL.Query().Get("y"))
	})

	c := NewCensus(newTestGateway(t, CensusName, srv.Client()), srv.URL)
	b, err := c.Reverse(context.Background(), 29.76, -95.37)
	require.NoError(t, err)
	assert.Equal(t, &Boundary{
		County:     "Harris County",
		CountyFIPS: "48201",
		State:      "TX",
		TractGEOID: "48201312400",
	}, b)
}

func TestCensusProbe(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"benchmarks":[]}`, func(r *http.Request) {
		assert.Equal(t, "/geocoder/benchmarks", r.URL.Path)
	})
	c := NewCensus(newTestGateway(t, CensusName, srv.Client()), srv.URL)
	assert.NoError(t, c.Probe(context.Background()))
}

func TestGoogleGeocode(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMatched bool
		wantQuality string
		wantErr     bool
	}{
		{
			name: "rooftop",
			body: `{"status":"OK","results":[{"geometry":{"location":{"lat":40.7484,"lng":-73.9857},
				"location_type":"ROOFTOP"},"formatted_address":"20 W 34th St, New York, NY 10001, USA"}]}`,
			wantMatched: true,
			wantQuality: QualityRooftop,
		},
		{
			name: "geometric center",
			body: `{"status":"OK","results":[{"geometry":{"location":{"lat":40.7,"lng":-74.0},
				"location_type":"GEOMETRIC_CENTER"}}]}`,
			wantMatched: true,
			wantQuality: QualityCentroid,
		},
		{
			name: "zero results",
			body: `{"status":"ZERO_RESULTS","results":[]}`,
		},
		{
			name:    "denied",
			body:    `{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid."}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jsonServer(t, http.StatusOK, tt.body, func(r *http.Request) {
				assert.Equal(t, "/json", r.URL.Path)
				assert.Equal(t, "test-key", r.URL.Query().Get("key"))
			})
			g := NewGoogle(newTestGateway(t, GoogleName, srv.Client()), srv.URL, "test-key")

			result, err := g.Geocode(context.Background(), "20 W 34th St, New York, NY")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatched, result.Matched)
			assert.Equal(t, tt.wantQuality, result.Quality)
			assert.Equal(t, GoogleName, result.Source)
		})
	}
}

func TestGoogle_UnavailableWithoutKey(t *testing.T) {
	g := NewGoogle(newTestGateway(t, GoogleName, nil), "", "")
	assert.False(t, g.Available())
	_, err := g.Geocode(context.Background(), "1 Main St")
	assert.Error(t, err)
}

func TestQualityConfidence(t *testing.T) {
	assert.InDelta(t, 0.95, QualityConfidence(QualityRooftop), 1e-9)
	assert.InDelta(t, 0.8, QualityConfidence(QualityRange), 1e-9)
	assert.InDelta(t, 0.6, QualityConfidence(QualityCentroid), 1e-9)
	assert.InDelta(t, 0.4, QualityConfidence(QualityApproximate), 1e-9)
	assert.Zero(t, QualityConfidence("unknown"))
}
