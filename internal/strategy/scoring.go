package strategy

import (
	"errors"
	"fmt"

	"trading-screener/internal/indicator"
)

// scoring accumulates points per satisfied component instead of requiring
// every condition. The shared Filters still apply as hard gates.
type scoring struct {
	base
	p          ScoringParams
	components [][]Predicate
	total      float64
}

func newScoring(cfg Config) *scoring {
	p := *cfg.Scoring
	spec := cfg.Indicators
	r := &scoring{p: p, components: make([][]Predicate, len(p.Components))}
	for i, c := range p.Components {
		spec = c.When.require(spec)
		r.components[i] = c.When.Predicates()
		r.total += c.Points
	}
	cfg.Indicators = spec
	r.base = newBase(cfg, indicator.Spec{}, 0)
	return r
}

// Score returns the points earned and the labels of satisfied components.
// A component whose indicator is undefined makes the candidate not
// evaluable.
func (r *scoring) Score(s indicator.Snapshot) (float64, []string, error) {
	var score float64
	var hits []string
	for i, ps := range r.components {
		_, err := checkAll(ps, s)
		switch {
		case err == nil:
			c := r.p.Components[i]
			score += c.Points
			hits = append(hits, fmt.Sprintf("%s +%s", c.Label, fmtNum(c.Points)))
		case errors.Is(err, ErrRejected):
		default:
			return 0, nil, fmt.Errorf("component %q: %w", r.p.Components[i].Label, err)
		}
	}
	return score, hits, nil
}

func (r *scoring) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]

	gated, err := r.gate(s)
	if err != nil {
		return nil, err
	}
	score, hits, err := r.Score(s)
	if err != nil {
		return nil, err
	}
	if score < r.p.Threshold {
		return nil, reject("score %s < threshold %s", fmtNum(score), fmtNum(r.p.Threshold))
	}
	rationale := append([]string{fmt.Sprintf("score %s/%s >= %s", fmtNum(score), fmtNum(r.total), fmtNum(r.p.Threshold))}, hits...)
	return r.draft(in, s, r.cfg.Direction, append(rationale, gated...), score), nil
}
