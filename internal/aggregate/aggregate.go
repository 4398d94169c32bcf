// Package aggregate combines per-source hazard readings into a single
// assessment.
package aggregate

import (
	"cmp"
	"slices"
	"time"

	"github.com/sells-group/hazard-risk/internal/model"
)

// Input is everything the aggregator needs for one assessment.
type Input struct {
	// Results are the successful source results, cached or fresh.
	Results []*model.RawSourceResult
	// Selected are the sources chosen for the assessment, including ones
	// that were skipped or failed. They set the completeness denominator.
	Selected []model.SourceDescriptor
	// Hazards restricts the output. Empty means every hazard with data.
	Hazards            []model.HazardType
	IncludeProjections bool
	Now                time.Time
}

// Output is the aggregated view. OverallScore is nil when no hazard has data.
type Output struct {
	Hazards           map[model.HazardType]model.HazardAssessment
	OverallScore      *float64
	OverallLevel      model.RiskLevel
	OverallConfidence float64
	SourcesUsed       []string
}

// Aggregator computes weighted hazard scores. It is stateless and safe for
// concurrent use.
type Aggregator struct {
	decay DecayConfig
}

// New creates an Aggregator. A zero DecayConfig disables vintage decay.
func New(decay DecayConfig) *Aggregator {
	return &Aggregator{decay: decay}
}

// Aggregate never fails: hazards no source reported are simply absent.
//
// For each hazard the score is the mean of source scores weighted by
// reliability times native confidence. Confidence is the reliability-weighted
// mean of native confidences, discounted by the fraction of selected sources
// covering the hazard that actually contributed.
func (a *Aggregator) Aggregate(in Input) Output {
	reliability := make(map[string]float64, len(in.Selected))
	coverage := make(map[model.HazardType]int)
	for _, d := range in.Selected {
		reliability[d.Name] = d.Weight
		for _, h := range d.Hazards {
			coverage[h]++
		}
	}

	contributions := make(map[model.HazardType][]model.Contribution)
	for _, r := range in.Results {
		if r == nil || !r.Success {
			continue
		}
		rel, ok := reliability[r.Source]
		if !ok {
			continue
		}
		for h, s := range r.Hazards {
			if len(in.Hazards) > 0 && !slices.Contains(in.Hazards, h) {
				continue
			}
			conf := model.ClampConfidence(s.Confidence)
			if r.DataAsOf != nil {
				conf = EffectiveConfidence(conf, *r.DataAsOf, in.Now, a.decay)
			}
			c := model.Contribution{
				Source:     r.Source,
				Score:      model.ClampScore(s.Score),
				Confidence: conf,
				Weight:     rel * conf,
			}
			if in.IncludeProjections && s.Projected != nil {
				p := model.ClampScore(*s.Projected)
				c.Projected = &p
			}
			contributions[h] = append(contributions[h], c)
		}
	}

	out := Output{Hazards: make(map[model.HazardType]model.HazardAssessment, len(contributions))}
	used := make(map[string]struct{})
	var scoreSum, confSum float64

	for h, cs := range contributions {
		slices.SortFunc(cs, func(x, y model.Contribution) int { return cmp.Compare(x.Source, y.Source) })
		ha := combine(h, cs, reliability, max(coverage[h], len(cs)))
		out.Hazards[h] = ha
		scoreSum += ha.Score
		confSum += ha.Confidence
		for _, c := range cs {
			used[c.Source] = struct{}{}
		}
	}

	if n := len(out.Hazards); n > 0 {
		overall := model.ClampScore(scoreSum / float64(n))
		out.OverallScore = &overall
		out.OverallLevel = model.LevelFor(overall)
		out.OverallConfidence = model.ClampConfidence(confSum / float64(n))
	}

	out.SourcesUsed = make([]string, 0, len(used))
	for s := range used {
		out.SourcesUsed = append(out.SourcesUsed, s)
	}
	slices.Sort(out.SourcesUsed)
	return out
}

func combine(h model.HazardType, cs []model.Contribution, reliability map[string]float64, coverage int) model.HazardAssessment {
	var wSum, wScore, relSum, relConf float64
	var pwSum, pwScore float64
	var plainSum float64
	for _, c := range cs {
		wSum += c.Weight
		wScore += c.Weight * c.Score
		plainSum += c.Score

		rel := reliability[c.Source]
		relSum += rel
		relConf += rel * c.Confidence

		if c.Projected != nil {
			pwSum += c.Weight
			pwScore += c.Weight * *c.Projected
		}
	}

	// Contributors that all report zero confidence still say something
	// about the score; fall back to a plain mean.
	score := plainSum / float64(len(cs))
	if wSum > 0 {
		score = wScore / wSum
	}
	score = model.ClampScore(score)

	var conf float64
	if relSum > 0 {
		conf = relConf / relSum
	}
	conf = model.ClampConfidence(conf * float64(len(cs)) / float64(coverage))

	ha := model.HazardAssessment{
		Hazard:       h,
		Score:        score,
		Level:        model.LevelFor(score),
		Confidence:   conf,
		Contributors: cs,
		Coverage:     coverage,
	}
	if pwSum > 0 {
		p := model.ClampScore(pwScore / pwSum)
		ha.Projected = &p
	}
	return ha
}
