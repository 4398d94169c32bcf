package source

import (
	"slices"
	"time"

	"github.com/sells-group/hazard-risk/internal/model"
)

// Provider names.
const (
	FEMAName         = "fema"
	USGSName         = "usgs"
	FirstStreetName  = "firststreet"
	ClimateCheckName = "climatecheck"
)

var defaultBreaker = model.BreakerPolicy{
	FailureThreshold: 5,
	Window:           time.Minute,
	Cooldown:         30 * time.Second,
}

// Defaults returns the built-in descriptors for every supported provider,
// keyed by name. Configuration overlays these.
func Defaults() map[string]model.SourceDescriptor {
	return map[string]model.SourceDescriptor{
		FEMAName: {
			Name:       FEMAName,
			BaseURL:    "https://services.arcgis.com/XG15cJAlne2vxtgt/arcgis/rest/services/National_Risk_Index_Census_Tracts/FeatureServer/0",
			Weight:     0.9,
			Confidence: 0.9,
			Hazards:    slices.Clone(model.AllHazards),
			RateLimit:  model.RateLimitPolicy{MaxTokens: 10, RefillPerSec: 5},
			Breaker:    defaultBreaker,
		},
		USGSName: {
			Name:       USGSName,
			BaseURL:    "https://earthquake.usgs.gov/ws/designmaps",
			Weight:     0.85,
			Confidence: 0.85,
			Hazards:    []model.HazardType{model.HazardEarthquake},
			RateLimit:  model.RateLimitPolicy{MaxTokens: 5, RefillPerSec: 2},
			Breaker:    defaultBreaker,
		},
		FirstStreetName: {
			Name:         FirstStreetName,
			BaseURL:      "https://api.firststreet.org/v2",
			Weight:       0.8,
			Confidence:   0.8,
			Hazards:      []model.HazardType{model.HazardFlood, model.HazardWildfire, model.HazardHeat, model.HazardHurricane},
			RateLimit:    model.RateLimitPolicy{MaxTokens: 5, RefillPerSec: 1, Metered: true, Adaptive: true},
			Breaker:      defaultBreaker,
			PricePerCall: 0.05,
		},
		ClimateCheckName: {
			Name:         ClimateCheckName,
			BaseURL:      "https://api.climatecheck.com/v1",
			Weight:       0.75,
			Confidence:   0.75,
			Hazards:      []model.HazardType{model.HazardFlood, model.HazardWildfire, model.HazardHeat, model.HazardDrought, model.HazardHurricane},
			RateLimit:    model.RateLimitPolicy{MaxTokens: 5, RefillPerSec: 1, Metered: true, Adaptive: true},
			Breaker:      defaultBreaker,
			PricePerCall: 0.03,
		},
	}
}
