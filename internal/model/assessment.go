package model

import (
	"encoding/json"
	"time"
)

// Contribution is one source's share of a hazard score.
type Contribution struct {
	Source     string   `json:"source"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Weight     float64  `json:"weight"`
	Projected  *float64 `json:"projected,omitempty"`
}

// HazardAssessment is the aggregated view of a single hazard.
type HazardAssessment struct {
	Hazard       HazardType     `json:"hazard"`
	Score        float64        `json:"score"`
	Level        RiskLevel      `json:"level"`
	Confidence   float64        `json:"confidence"`
	Projected    *float64       `json:"projected,omitempty"`
	Contributors []Contribution `json:"contributors"`
	// Coverage is the number of selected sources that declare this hazard.
	Coverage int `json:"coverage"`
}

// SourceStatus is the outcome of one source for one assessment.
type SourceStatus string

const (
	SourceOK          SourceStatus = "ok"
	SourceCached      SourceStatus = "cached"
	SourceNoData      SourceStatus = "no_data"
	SourceFailed      SourceStatus = "failed"
	SourceTimeout     SourceStatus = "timeout"
	SourceRateLimited SourceStatus = "rate_limited"
	SourceCircuitOpen SourceStatus = "circuit_open"
	SourceDown        SourceStatus = "down"
)

// SourceReport records what happened with one source during an assessment.
type SourceReport struct {
	Source  string        `json:"source"`
	Status  SourceStatus  `json:"status"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

// RiskAssessment is the final product returned to callers.
type RiskAssessment struct {
	ID                string                          `json:"id"`
	Location          Location                        `json:"location"`
	Geometry          json.RawMessage                 `json:"geometry,omitempty"`
	OverallScore      *float64                        `json:"overall_score"`
	OverallLevel      RiskLevel                       `json:"overall_level,omitempty"`
	OverallConfidence float64                         `json:"overall_confidence"`
	Hazards           map[HazardType]HazardAssessment `json:"hazards"`
	SourcesUsed       []string                        `json:"sources_used"`
	Sources           []SourceReport                  `json:"sources"`
	EstimatedCostUSD  float64                         `json:"estimated_cost_usd"`
	GeneratedAt       time.Time                       `json:"generated_at"`
}
