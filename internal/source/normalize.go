package source

import "github.com/sells-group/hazard-risk/internal/model"

// Normalize maps v from the provider's [lo, hi] scale onto 0-100, clamping
// values outside the scale. A provider's maximum maps to exactly 100.
func Normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	if v >= hi {
		return 100
	}
	return model.ClampScore((v - lo) / (hi - lo) * 100)
}

func ptr[T any](v T) *T { return &v }
