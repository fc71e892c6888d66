package strategy

import (
	"fmt"
	"math"

	"trading-screener/internal/indicator"
	"trading-screener/internal/model"
)

type meanReversion struct {
	base
	p MeanReversionParams
}

func newMeanReversion(cfg Config) *meanReversion {
	extra := 1
	if cfg.MeanReversion.LevelOnly {
		extra = 0
	}
	return &meanReversion{base: newBase(cfg, indicator.Spec{}, extra), p: *cfg.MeanReversion}
}

func (r *meanReversion) sides() []model.Direction {
	if r.cfg.Direction == model.Sell {
		return []model.Direction{model.Sell}
	}
	if r.p.AllowShort {
		return []model.Direction{model.Buy, model.Sell}
	}
	return []model.Direction{model.Buy}
}

func (r *meanReversion) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]
	if math.IsNaN(s.RSI) {
		return nil, undefined("RSI")
	}
	prev := math.NaN()
	if !r.p.LevelOnly {
		prev = series[len(series)-2].RSI
		if math.IsNaN(prev) {
			return nil, undefined("previous RSI")
		}
	}

	var reasons []string
	for _, dir := range r.sides() {
		reason, ok := r.trigger(dir, prev, s.RSI)
		if !ok {
			reasons = append(reasons, reason)
			continue
		}
		rest, err := r.gate(s)
		if err != nil {
			return nil, err
		}
		return r.draft(in, s, dir, append([]string{reason}, rest...), fullConfidence), nil
	}
	return nil, reject("%s", joinReasons(reasons))
}

// trigger checks one side. prev is NaN in level-only mode.
func (r *meanReversion) trigger(dir model.Direction, prev, cur float64) (string, bool) {
	if dir == model.Buy {
		lvl := r.p.Oversold
		if r.p.LevelOnly {
			return fmt.Sprintf("RSI %.1f vs oversold %.0f", cur, lvl), cur < lvl
		}
		return fmt.Sprintf("RSI %.1f → %.1f vs oversold %.0f", prev, cur, lvl), prev >= lvl && cur < lvl
	}
	lvl := r.p.Overbought
	if r.p.LevelOnly {
		return fmt.Sprintf("RSI %.1f vs overbought %.0f", cur, lvl), cur > lvl
	}
	return fmt.Sprintf("RSI %.1f → %.1f vs overbought %.0f", prev, cur, lvl), prev <= lvl && cur > lvl
}

func joinReasons(rs []string) string {
	out := ""
	for i, r := range rs {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
