// Package tradeplan turns an entry price into stop-loss and take-profit
// levels using a fixed-percentage or ATR volatility model.
package tradeplan

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-screener/internal/model"
)

// ErrInvalidPlan means the inputs cannot produce a plan that keeps
// stop < entry < targets (BUY) or the inverse (SELL).
var ErrInvalidPlan = errors.New("invalid trade plan")

// Model selects how distances are derived.
type Model string

const (
	FixedPct Model = "fixed_pct"
	ATR      Model = "atr"
)

// Tier is one take-profit level expressed as a multiple of the risk
// distance |entry − stop|.
type Tier struct {
	Multiple float64 `yaml:"multiple" json:"multiple" validate:"gt=0"`
	Label    string  `yaml:"label" json:"label" validate:"required"`
}

// Profile is the per-strategy risk configuration.
type Profile struct {
	Model         Model   `yaml:"model" json:"model" default:"fixed_pct" validate:"oneof=fixed_pct atr"`
	TargetPct     float64 `yaml:"target_pct" json:"target_pct" validate:"gte=0"`
	StopPct       float64 `yaml:"stop_pct" json:"stop_pct" validate:"gte=0"`
	ATRMultiplier float64 `yaml:"atr_multiplier" json:"atr_multiplier" default:"1" validate:"gt=0"`
	RewardRisk    float64 `yaml:"reward_risk" json:"reward_risk" default:"1.5" validate:"gt=0"`
	// Tiers replace the single target when set. Multiples must ascend.
	Tiers []Tier `yaml:"tiers" json:"tiers,omitempty" validate:"dive"`
	// TickSize is the price unit every level rounds to.
	TickSize float64 `yaml:"tick_size" json:"tick_size" default:"1" validate:"gt=0"`
}

// Volatility carries the market context a model may need.
type Volatility struct {
	ATR float64
}

// Plan is the computed stop and targets, nearest target first.
type Plan struct {
	Entry    float64
	StopLoss float64
	Targets  []model.Target
}

// RiskReward returns final-target distance over stop distance.
func (p Plan) RiskReward() float64 {
	risk := math.Abs(p.Entry - p.StopLoss)
	if risk == 0 || len(p.Targets) == 0 {
		return 0
	}
	return math.Abs(p.Targets[len(p.Targets)-1].Price-p.Entry) / risk
}

// Validate checks the profile independent of any entry.
func (p Profile) Validate() error {
	switch p.Model {
	case FixedPct:
		if p.StopPct <= 0 {
			return fmt.Errorf("%w: fixed_pct needs stop_pct > 0", ErrInvalidPlan)
		}
		if p.TargetPct <= 0 && len(p.Tiers) == 0 {
			return fmt.Errorf("%w: fixed_pct needs target_pct > 0 or tiers", ErrInvalidPlan)
		}
	case ATR:
		if p.ATRMultiplier <= 0 {
			return fmt.Errorf("%w: atr needs atr_multiplier > 0", ErrInvalidPlan)
		}
		if p.RewardRisk <= 0 && len(p.Tiers) == 0 {
			return fmt.Errorf("%w: atr needs reward_risk > 0 or tiers", ErrInvalidPlan)
		}
	default:
		return fmt.Errorf("%w: unknown model %q", ErrInvalidPlan, p.Model)
	}
	for i, t := range p.Tiers {
		if t.Multiple <= 0 {
			return fmt.Errorf("%w: tier %s multiple must be > 0", ErrInvalidPlan, t.Label)
		}
		if i > 0 && t.Multiple <= p.Tiers[i-1].Multiple {
			return fmt.Errorf("%w: tier multiples must ascend", ErrInvalidPlan)
		}
	}
	return nil
}

// Compute builds the plan for entry in direction dir.
func Compute(entry float64, dir model.Direction, vol Volatility, p Profile) (Plan, error) {
	if !dir.Valid() {
		return Plan{}, fmt.Errorf("%w: direction %q", ErrInvalidPlan, dir)
	}
	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		return Plan{}, fmt.Errorf("%w: entry %v", ErrInvalidPlan, entry)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	tick := p.TickSize
	if tick <= 0 {
		tick = 1
	}

	sign := dir.Sign()
	var risk, reward float64
	switch p.Model {
	case FixedPct:
		risk = entry * p.StopPct / 100
		reward = entry * p.TargetPct / 100
	case ATR:
		if math.IsNaN(vol.ATR) || vol.ATR <= 0 {
			return Plan{}, fmt.Errorf("%w: ATR %v", ErrInvalidPlan, vol.ATR)
		}
		risk = vol.ATR * p.ATRMultiplier
		reward = risk * p.RewardRisk
	}

	plan := Plan{
		Entry:    entry,
		StopLoss: Round(entry-sign*risk, tick),
	}
	if len(p.Tiers) == 0 {
		plan.Targets = []model.Target{{Label: "TP", Price: Round(entry+sign*reward, tick)}}
	} else {
		for _, t := range p.Tiers {
			plan.Targets = append(plan.Targets, model.Target{
				Label: t.Label,
				Price: Round(entry+sign*risk*t.Multiple, tick),
			})
		}
	}
	if err := plan.check(dir); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// check enforces the ordering after rounding.
func (p Plan) check(dir model.Direction) error {
	sign := dir.Sign()
	if !((p.Entry-p.StopLoss)*sign > 0) {
		return fmt.Errorf("%w: stop %v not beyond entry %v", ErrInvalidPlan, p.StopLoss, p.Entry)
	}
	prev := p.Entry
	for _, t := range p.Targets {
		if !((t.Price-prev)*sign > 0) {
			return fmt.Errorf("%w: target %s %v does not advance past %v", ErrInvalidPlan, t.Label, t.Price, prev)
		}
		prev = t.Price
	}
	return nil
}

// Apply attaches the plan to a signal.
func (p Plan) Apply(s *model.Signal) {
	s.StopLoss = p.StopLoss
	s.Targets = append([]model.Target(nil), p.Targets...)
}

// Round rounds v half-up to a multiple of tick.
func Round(v, tick float64) float64 {
	d := decimal.NewFromFloat(v)
	t := decimal.NewFromFloat(tick)
	// decimal rounds half away from zero; prices are positive so this is half-up.
	r, _ := d.Div(t).Round(0).Mul(t).Float64()
	return r
}
