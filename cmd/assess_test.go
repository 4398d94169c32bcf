package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
)

// newAssessFlags rebinds the assess flag globals to a fresh flag set.
func newAssessFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "assess"}
	c.Flags().Float64Var(&assessLat, "lat", 0, "")
	c.Flags().Float64Var(&assessLon, "lon", 0, "")
	c.Flags().StringVar(&assessAddress, "address", "", "")
	c.Flags().StringSliceVar(&assessSources, "sources", nil, "")
	c.Flags().StringSliceVar(&assessHazards, "hazards", nil, "")
	c.Flags().BoolVar(&assessProjections, "projections", false, "")
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestAssessRequest(t *testing.T) {
	c := newAssessFlags(t, "--lat", "0", "--lon", "0", "--hazards", "flood,Heat", "--sources", "fema", "--projections")
	in, opts, err := assessRequest(c)
	require.NoError(t, err)

	require.True(t, in.HasCoordinates())
	assert.Zero(t, *in.Lat)
	assert.Equal(t, []model.HazardType{model.HazardFlood, model.HazardHeat}, opts.HazardFilter)
	assert.Equal(t, []string{"fema"}, opts.Sources)
	assert.True(t, opts.IncludeProjections)
}

func TestAssessRequest_Address(t *testing.T) {
	in, _, err := assessRequest(newAssessFlags(t, "--address", "1 Main St"))
	require.NoError(t, err)
	assert.False(t, in.HasCoordinates())
	assert.Equal(t, "1 Main St", in.Address)
}

func TestAssessRequest_Invalid(t *testing.T) {
	for name, args := range map[string][]string{
		"nothing":        {},
		"lat only":       {"--lat", "10"},
		"out of range":   {"--lat", "91", "--lon", "0"},
		"unknown hazard": {"--lat", "1", "--lon", "1", "--hazards", "volcano"},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := assessRequest(newAssessFlags(t, args...))
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}
}

func TestWriteOutput(t *testing.T) {
	score := 42.0
	ra := &model.RiskAssessment{
		ID:           "abc",
		OverallScore: &score,
		Geometry:     json.RawMessage(`{"type":"Point","coordinates":[-95.37,29.76]}`),
	}

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, "json", ra))
	assert.Contains(t, js.String(), `"overall_score": 42`)

	var ys bytes.Buffer
	require.NoError(t, writeOutput(&ys, "yaml", ra))
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(ys.Bytes(), &got))
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "Point", got["geometry"].(map[string]any)["type"])

	assert.Error(t, writeOutput(io.Discard, "xml", ra))
}

const (
	femaBody = `{"features":[{"attributes":{"RFLD_RISKS":85,"CFLD_RISKS":40,"WFIR_RISKS":20,"NRI_VER":"March 2023"}}]}`
	usgsBody = `{"response":{"data":{"pga":0.5}}}`
)

// loadTestConfig points FEMA, USGS and the Census geocoder at srv. First
// Street stays enabled without a key and is skipped; ClimateCheck is off.
func loadTestConfig(t *testing.T, srvURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := strings.ReplaceAll(`
sources:
  fema:
    base_url: SRV
  usgs:
    base_url: SRV
  firststreet:
    enabled: true
  climatecheck:
    enabled: false
geocode:
  census_url: SRV
  reverse: false
transport:
  max_attempts: 1
`, "SRV", srvURL)
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	c, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate("assess"))
	return c
}

func TestEngine_AssessEndToEnd(t *testing.T) {
	var femaCalls, usgsCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		femaCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, femaBody)
	})
	mux.HandleFunc("/asce7-22.json", func(w http.ResponseWriter, r *http.Request) {
		usgsCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, usgsBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	eng, err := newEngine(context.Background(), loadTestConfig(t, srv.URL), engineOptions{})
	require.NoError(t, err)
	defer eng.Close()

	lat, lon := 29.7604, -95.3698
	in := model.Input{Lat: &lat, Lon: &lon}
	ra, err := eng.Manager.Assess(context.Background(), in, orchestrator.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"fema", "usgs"}, ra.SourcesUsed)
	require.Len(t, ra.Sources, 2, "firststreet is skipped without an api key")
	assert.InDelta(t, 85, ra.Hazards[model.HazardFlood].Score, 1e-9)
	assert.InDelta(t, 20, ra.Hazards[model.HazardWildfire].Score, 1e-9)
	assert.InDelta(t, 50, ra.Hazards[model.HazardEarthquake].Score, 1e-9)
	assert.Zero(t, ra.EstimatedCostUSD)

	t.Run("repeat is served from cache", func(t *testing.T) {
		hits := eng.Cache.Stats().Hits

		again, err := eng.Manager.Assess(context.Background(), in, orchestrator.Options{})
		require.NoError(t, err)

		assert.Equal(t, hits+uint64(len(ra.Sources)), eng.Cache.Stats().Hits)
		require.Len(t, again.Sources, len(ra.Sources))
		for _, rep := range again.Sources {
			assert.Equal(t, model.SourceCached, rep.Status, rep.Source)
		}
		assert.Equal(t, ra.SourcesUsed, again.SourcesUsed)
		assert.InDelta(t, *ra.OverallScore, *again.OverallScore, 1e-9)
		assert.Equal(t, int32(1), femaCalls.Load())
		assert.Equal(t, int32(1), usgsCalls.Load())
	})
}

func TestEngine_HealthRound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	eng, err := newEngine(context.Background(), loadTestConfig(t, srv.URL), engineOptions{Monitor: true})
	require.NoError(t, err)
	defer eng.Close()

	probes := eng.Monitor.ProbeAll(context.Background())
	require.Len(t, probes, 3)
	for _, p := range probes {
		assert.True(t, p.OK, "%s: %s", p.Source, p.Error)
	}

	report := eng.Manager.Health()
	assert.Equal(t, "up", report.Overall)
	require.Len(t, report.Sources, 2)
	for _, sh := range report.Sources {
		require.NotNil(t, sh.Transport, sh.Source)
	}
}

func TestEngine_NoSources(t *testing.T) {
	c := loadTestConfig(t, "http://127.0.0.1:1")
	fema := c.Sources["fema"]
	fema.Enabled = false
	c.Sources["fema"] = fema
	usgs := c.Sources["usgs"]
	usgs.Enabled = false
	c.Sources["usgs"] = usgs

	_, err := newEngine(context.Background(), c, engineOptions{})
	assert.ErrorContains(t, err, "no hazard sources available")
}
