package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazard-risk/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	fema = model.SourceDescriptor{
		Name: "fema", Weight: 0.9, Confidence: 0.9,
		Hazards: []model.HazardType{model.HazardFlood, model.HazardWildfire, model.HazardEarthquake, model.HazardHurricane},
	}
	firstStreet = model.SourceDescriptor{
		Name: "firststreet", Weight: 0.8, Confidence: 0.8,
		Hazards: []model.HazardType{model.HazardFlood, model.HazardWildfire, model.HazardHurricane},
	}
	climateCheck = model.SourceDescriptor{
		Name: "climatecheck", Weight: 0.75, Confidence: 0.75,
		Hazards: []model.HazardType{model.HazardFlood, model.HazardDrought},
	}
	usgs = model.SourceDescriptor{
		Name: "usgs", Weight: 0.85, Confidence: 0.85,
		Hazards: []model.HazardType{model.HazardEarthquake},
	}
)

func result(source string, hazards map[model.HazardType]model.HazardScore) *model.RawSourceResult {
	return &model.RawSourceResult{Source: source, Hazards: hazards, Success: true}
}

func score(s, c float64) model.HazardScore { return model.HazardScore{Score: s, Confidence: c} }

func TestAggregate_WeightedFloodScore(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(85, 0.9)}),
			result("firststreet", map[model.HazardType]model.HazardScore{model.HazardFlood: score(88, 0.8)}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet},
		Now:      now,
	})

	flood, ok := out.Hazards[model.HazardFlood]
	require.True(t, ok)
	assert.InDelta(t, 86.32, flood.Score, 0.01)
	assert.GreaterOrEqual(t, flood.Score, 86.0)
	assert.LessOrEqual(t, flood.Score, 87.0)
	assert.Equal(t, model.RiskExtreme, flood.Level)
	assert.InDelta(t, 1.45/1.7, flood.Confidence, 1e-9)
	assert.Equal(t, 2, flood.Coverage)
	require.Len(t, flood.Contributors, 2)
	assert.Equal(t, "fema", flood.Contributors[0].Source)
	assert.InDelta(t, 0.81, flood.Contributors[0].Weight, 1e-9)

	assert.Equal(t, []string{"fema", "firststreet"}, out.SourcesUsed)
}

func TestAggregate_CompletenessDiscount(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(85, 0.9)}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet, climateCheck},
		Now:      now,
	})

	flood := out.Hazards[model.HazardFlood]
	assert.InDelta(t, 85, flood.Score, 1e-9)
	assert.InDelta(t, 0.9/3, flood.Confidence, 1e-9)
	assert.Equal(t, 3, flood.Coverage)
}

func TestAggregate_SilentSourcesExcluded(t *testing.T) {
	// USGS does not cover flood, so it neither weighs on the score nor
	// lowers flood completeness.
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{
				model.HazardFlood:      score(40, 0.9),
				model.HazardEarthquake: score(10, 0.9),
			}),
			result("usgs", map[model.HazardType]model.HazardScore{model.HazardEarthquake: score(30, 0.85)}),
		},
		Selected: []model.SourceDescriptor{fema, usgs},
		Now:      now,
	})

	flood := out.Hazards[model.HazardFlood]
	assert.InDelta(t, 40, flood.Score, 1e-9)
	assert.InDelta(t, 0.9, flood.Confidence, 1e-9)
	assert.Len(t, flood.Contributors, 1)

	quake := out.Hazards[model.HazardEarthquake]
	assert.Len(t, quake.Contributors, 2)
	want := (10*0.81 + 30*0.85*0.85) / (0.81 + 0.85*0.85)
	assert.InDelta(t, want, quake.Score, 1e-9)
}

func TestAggregate_Overall(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{
				model.HazardFlood:    score(80, 0.9),
				model.HazardWildfire: score(20, 0.9),
			}),
		},
		Selected: []model.SourceDescriptor{fema},
		Now:      now,
	})

	require.NotNil(t, out.OverallScore)
	assert.InDelta(t, 50, *out.OverallScore, 1e-9)
	assert.Equal(t, model.RiskHigh, out.OverallLevel)
	assert.InDelta(t, 0.9, out.OverallConfidence, 1e-9)
	assert.NotContains(t, out.Hazards, model.HazardHeat)
}

func TestAggregate_HazardFilter(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{
				model.HazardFlood:    score(80, 0.9),
				model.HazardWildfire: score(20, 0.9),
			}),
		},
		Selected: []model.SourceDescriptor{fema},
		Hazards:  []model.HazardType{model.HazardWildfire},
		Now:      now,
	})

	assert.Len(t, out.Hazards, 1)
	require.NotNil(t, out.OverallScore)
	assert.InDelta(t, 20, *out.OverallScore, 1e-9)
}

func TestAggregate_Projections(t *testing.T) {
	projected := 95.0
	in := Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(85, 0.9)}),
			result("firststreet", map[model.HazardType]model.HazardScore{
				model.HazardFlood: {Score: 88, Confidence: 0.8, Projected: &projected},
			}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet},
		Now:      now,
	}

	out := New(DecayConfig{}).Aggregate(in)
	assert.Nil(t, out.Hazards[model.HazardFlood].Projected)

	in.IncludeProjections = true
	out = New(DecayConfig{}).Aggregate(in)
	require.NotNil(t, out.Hazards[model.HazardFlood].Projected)
	assert.InDelta(t, 95, *out.Hazards[model.HazardFlood].Projected, 1e-9)
}

func TestAggregate_NoResults(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{Selected: []model.SourceDescriptor{fema}, Now: now})
	assert.Nil(t, out.OverallScore)
	assert.Empty(t, out.Hazards)
	assert.Empty(t, out.SourcesUsed)
	assert.Zero(t, out.OverallConfidence)
}

func TestAggregate_IgnoresUnselectedAndFailed(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("noaa", map[model.HazardType]model.HazardScore{model.HazardFlood: score(10, 1)}),
			{Source: "firststreet", Success: false, Hazards: map[model.HazardType]model.HazardScore{model.HazardFlood: score(10, 1)}},
			nil,
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(60, 0.9)}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet},
		Now:      now,
	})

	assert.InDelta(t, 60, out.Hazards[model.HazardFlood].Score, 1e-9)
	assert.Equal(t, []string{"fema"}, out.SourcesUsed)
}

func TestAggregate_VintageDecay(t *testing.T) {
	asOf := now.Add(-365 * 24 * time.Hour)
	r := result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(50, 0.8)})
	r.DataAsOf = &asOf

	out := New(DecayConfig{HalfLife: 365 * 24 * time.Hour, Floor: 0.1}).Aggregate(Input{
		Results:  []*model.RawSourceResult{r},
		Selected: []model.SourceDescriptor{fema},
		Now:      now,
	})
	assert.InDelta(t, 0.4, out.Hazards[model.HazardFlood].Confidence, 1e-9)
}

func TestAggregate_ZeroConfidenceFallsBackToMean(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(40, 0)}),
			result("firststreet", map[model.HazardType]model.HazardScore{model.HazardFlood: score(60, 0)}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet},
		Now:      now,
	})

	flood := out.Hazards[model.HazardFlood]
	assert.InDelta(t, 50, flood.Score, 1e-9)
	assert.Zero(t, flood.Confidence)
}

func TestAggregate_RangesHold(t *testing.T) {
	out := New(DecayConfig{}).Aggregate(Input{
		Results: []*model.RawSourceResult{
			result("fema", map[model.HazardType]model.HazardScore{model.HazardFlood: score(140, 1.7)}),
			result("firststreet", map[model.HazardType]model.HazardScore{model.HazardFlood: score(-20, 0.8)}),
		},
		Selected: []model.SourceDescriptor{fema, firstStreet},
		Now:      now,
	})

	for _, h := range out.Hazards {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 100.0)
		assert.GreaterOrEqual(t, h.Confidence, 0.0)
		assert.LessOrEqual(t, h.Confidence, 1.0)
	}
}
