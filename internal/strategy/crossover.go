package strategy

import (
	"fmt"
	"math"

	"trading-screener/internal/indicator"
	"trading-screener/internal/model"
)

// crossover implements a moving-average crossover.
//
// Buy signal: fast MA crosses above slow MA (golden cross)
// Sell signal: fast MA crosses below slow MA (death cross), only with
// AllowShort or a SELL rule.
//
// An optional RSI ceiling suppresses golden crosses while overbought and
// death crosses while oversold (the mirrored level).
type crossover struct {
	base
	p CrossoverParams
}

func newCrossover(cfg Config) *crossover {
	p := *cfg.Crossover
	need := indicator.Spec{}
	if p.UseEMA {
		need.EMAPeriods = []int{p.Fast, p.Slow}
	} else {
		need.SMAPeriods = []int{p.Fast, p.Slow}
	}
	return &crossover{base: newBase(cfg, need, 1), p: p}
}

func (r *crossover) pair(s indicator.Snapshot) (fast, slow float64) {
	if r.p.UseEMA {
		return s.EMAValue(r.p.Fast), s.EMAValue(r.p.Slow)
	}
	return s.SMAValue(r.p.Fast), s.SMAValue(r.p.Slow)
}

func (r *crossover) label() string {
	if r.p.UseEMA {
		return "EMA"
	}
	return "SMA"
}

func (r *crossover) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s, p := series[len(series)-1], series[len(series)-2]
	fast, slow := r.pair(s)
	prevFast, prevSlow := r.pair(p)
	for _, v := range [...]float64{fast, slow, prevFast, prevSlow} {
		if math.IsNaN(v) {
			return nil, undefined(fmt.Sprintf("%s%d/%s%d", r.label(), r.p.Fast, r.label(), r.p.Slow))
		}
	}

	var dir model.Direction
	switch {
	case prevFast <= prevSlow && fast > slow:
		dir = model.Buy
	case prevFast >= prevSlow && fast < slow:
		dir = model.Sell
	default:
		return nil, reject("no %s%d/%s%d cross", r.label(), r.p.Fast, r.label(), r.p.Slow)
	}
	if dir == model.Sell && r.cfg.Direction != model.Sell && !r.p.AllowShort {
		return nil, reject("death cross on a long-only rule")
	}
	if dir == model.Buy && r.cfg.Direction == model.Sell {
		return nil, reject("golden cross on a short-only rule")
	}

	if r.p.MaxRSI > 0 {
		if math.IsNaN(s.RSI) {
			return nil, undefined("RSI")
		}
		if dir == model.Buy && s.RSI > r.p.MaxRSI {
			return nil, reject("golden cross filtered by RSI %.1f > %.0f", s.RSI, r.p.MaxRSI)
		}
		if dir == model.Sell && s.RSI < 100-r.p.MaxRSI {
			return nil, reject("death cross filtered by RSI %.1f < %.0f", s.RSI, 100-r.p.MaxRSI)
		}
	}

	rest, err := r.gate(s)
	if err != nil {
		return nil, err
	}
	name := "golden"
	if dir == model.Sell {
		name = "death"
	}
	reason := fmt.Sprintf("%s cross: %s%d %s / %s%d %s", name, r.label(), r.p.Fast, fmtNum(fast), r.label(), r.p.Slow, fmtNum(slow))
	return r.draft(in, s, dir, append([]string{reason}, rest...), fullConfidence), nil
}
