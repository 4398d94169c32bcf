// Package cost estimates what an assessment spent on metered provider calls.
package cost

import (
	"github.com/sells-group/hazard-risk/internal/model"
)

// Rates holds per-call pricing in USD, keyed by provider name. Providers
// without an entry are free.
type Rates struct {
	PerCall map[string]float64 `yaml:"per_call" mapstructure:"per_call"`
}

// RatesFromDescriptors collects the price of every metered source.
// extra adds providers that are not hazard sources, such as geocoders.
func RatesFromDescriptors(descs []model.SourceDescriptor, extra map[string]float64) Rates {
	r := Rates{PerCall: make(map[string]float64, len(descs)+len(extra))}
	for _, d := range descs {
		if d.PricePerCall > 0 {
			r.PerCall[d.Name] = d.PricePerCall
		}
	}
	for name, price := range extra {
		if price > 0 {
			r.PerCall[name] = price
		}
	}
	return r
}

// Estimate is the cost breakdown of one assessment.
type Estimate struct {
	Total    float64            `json:"total_usd"`
	BySource map[string]float64 `json:"by_source,omitempty"`
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Call returns the price of one billable call to source.
func (c *Calculator) Call(source string) float64 {
	return c.rates.PerCall[source]
}

// Assessment prices the billable results plus the geocode lookup when the
// location was geocoded live. Cached results cost nothing.
func (c *Calculator) Assessment(results []*model.RawSourceResult, loc model.Location) Estimate {
	est := Estimate{}
	add := func(source string) {
		price := c.Call(source)
		if price == 0 {
			return
		}
		if est.BySource == nil {
			est.BySource = make(map[string]float64)
		}
		est.BySource[source] += price
		est.Total += price
	}

	for _, r := range results {
		if r == nil || r.FromCache || !r.Billable {
			continue
		}
		add(r.Source)
	}
	if loc.Geocoder != "" && !loc.GeocodeCached {
		add(loc.Geocoder)
	}
	return est
}
