package strategy

import (
	"fmt"
	"math"
	"strings"

	"trading-screener/internal/indicator"
	"trading-screener/internal/model"
)

// volumeRatio reads the primary volume ratio. A zero average volume is a
// rejection, an undefined one is not evaluable.
func volumeRatio(s indicator.Snapshot) (float64, error) {
	if math.IsNaN(s.VolumeMA) {
		return 0, undefined("volume MA")
	}
	if s.VolumeMA <= 0 {
		return 0, fmt.Errorf("%w: zero average volume", ErrRejected)
	}
	return s.Volume / s.VolumeMA, nil
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrRejected}, args...)...)
}

// ────────────────────────────────────────────────────────────
// Breakout
// ────────────────────────────────────────────────────────────

// breakout fires when the close clears the prior range extreme with
// confirming volume: above resistance for BUY, below support for SELL.
type breakout struct {
	base
	p BreakoutParams
}

func newBreakout(cfg Config) *breakout {
	return &breakout{base: newBase(cfg, indicator.Spec{}, 0), p: *cfg.Breakout}
}

func (r *breakout) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]
	dir := r.cfg.Direction

	level, name := s.Resistance, "resistance"
	if dir == model.Sell {
		level, name = s.Support, "support"
	}
	if math.IsNaN(level) {
		return nil, undefined(name)
	}
	trigger := level * (1 + dir.Sign()*r.p.BufferPct/100)
	if dir == model.Buy && !(s.Close > trigger) {
		return nil, reject("close %s <= %s %s", fmtNum(s.Close), name, fmtNum(trigger))
	}
	if dir == model.Sell && !(s.Close < trigger) {
		return nil, reject("close %s >= %s %s", fmtNum(s.Close), name, fmtNum(trigger))
	}

	vr, err := volumeRatio(s)
	if err != nil {
		return nil, err
	}
	if vr < r.p.MinVolumeRatio {
		return nil, reject("volume ratio %.2f < %.2f", vr, r.p.MinVolumeRatio)
	}

	rest, err := r.gate(s)
	if err != nil {
		return nil, err
	}
	rationale := append([]string{
		fmt.Sprintf("close %s broke %s %s", fmtNum(s.Close), name, fmtNum(level)),
		fmt.Sprintf("volume ratio %.2f >= %.2f", vr, r.p.MinVolumeRatio),
	}, rest...)
	return r.draft(in, s, dir, rationale, fullConfidence), nil
}

// ────────────────────────────────────────────────────────────
// Bounce
// ────────────────────────────────────────────────────────────

// bounce fires when the close sits within TolerancePct of a range extreme:
// near support for BUY, near resistance for SELL. Support is checked first
// when both sides are enabled.
type bounce struct {
	base
	p BounceParams
}

func newBounce(cfg Config) *bounce {
	return &bounce{base: newBase(cfg, indicator.Spec{}, 0), p: *cfg.Bounce}
}

func (r *bounce) sides() []model.Direction {
	if r.cfg.Direction == model.Sell {
		return []model.Direction{model.Sell}
	}
	if r.p.AllowShort {
		return []model.Direction{model.Buy, model.Sell}
	}
	return []model.Direction{model.Buy}
}

func (r *bounce) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]

	var reasons []string
	for _, dir := range r.sides() {
		level, name := s.Support, "support"
		if dir == model.Sell {
			level, name = s.Resistance, "resistance"
		}
		if math.IsNaN(level) || level <= 0 {
			return nil, undefined(name)
		}
		dist := math.Abs(s.Close-level) / level * 100
		if dist > r.p.TolerancePct {
			reasons = append(reasons, fmt.Sprintf("close %.2f%% from %s %s", dist, name, fmtNum(level)))
			continue
		}
		rest, err := r.gate(s)
		if err != nil {
			return nil, err
		}
		rationale := append([]string{
			fmt.Sprintf("close %s within %.2f%% of %s %s", fmtNum(s.Close), r.p.TolerancePct, name, fmtNum(level)),
		}, rest...)
		return r.draft(in, s, dir, rationale, fullConfidence), nil
	}
	return nil, reject("%s, tolerance %.2f%%", strings.Join(reasons, "; "), r.p.TolerancePct)
}

// ────────────────────────────────────────────────────────────
// Pullback
// ────────────────────────────────────────────────────────────

// pullback fires when the close retraces into a band around the anchor MA
// on below-average volume, optionally in the direction of a trend MA.
type pullback struct {
	base
	p PullbackParams
}

func newPullback(cfg Config) *pullback {
	p := *cfg.Pullback
	need := indicator.Spec{}
	if p.UseEMA {
		need.EMAPeriods = []int{p.MA}
	} else {
		need.SMAPeriods = []int{p.MA}
	}
	if p.TrendMA > 0 {
		need.SMAPeriods = append(need.SMAPeriods, p.TrendMA)
	}
	return &pullback{base: newBase(cfg, need, 0), p: p}
}

func (r *pullback) anchor(s indicator.Snapshot) (float64, string) {
	if r.p.UseEMA {
		return s.EMAValue(r.p.MA), fmt.Sprintf("EMA%d", r.p.MA)
	}
	return s.SMAValue(r.p.MA), fmt.Sprintf("SMA%d", r.p.MA)
}

func (r *pullback) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]
	dir := r.cfg.Direction

	ma, name := r.anchor(s)
	if math.IsNaN(ma) || ma <= 0 {
		return nil, undefined(name)
	}
	dist := (s.Close - ma) / ma * 100
	if math.Abs(dist) > r.p.BandPct {
		return nil, reject("close %.2f%% from %s, outside ±%.2f%%", dist, name, r.p.BandPct)
	}
	rationale := []string{fmt.Sprintf("close %.2f%% from %s %s", dist, name, fmtNum(ma))}

	if r.p.TrendMA > 0 {
		trend := s.SMAValue(r.p.TrendMA)
		if math.IsNaN(trend) {
			return nil, undefined(fmt.Sprintf("SMA%d", r.p.TrendMA))
		}
		up := s.Close > trend
		if up != (dir == model.Buy) {
			return nil, reject("close %s against SMA%d trend %s", fmtNum(s.Close), r.p.TrendMA, fmtNum(trend))
		}
		rationale = append(rationale, fmt.Sprintf("trend SMA%d %s", r.p.TrendMA, fmtNum(trend)))
	}

	vr, err := volumeRatio(s)
	if err != nil {
		return nil, err
	}
	if vr > r.p.MaxVolumeRatio {
		return nil, reject("volume ratio %.2f > %.2f", vr, r.p.MaxVolumeRatio)
	}
	rationale = append(rationale, fmt.Sprintf("quiet volume ratio %.2f", vr))

	rest, err := r.gate(s)
	if err != nil {
		return nil, err
	}
	return r.draft(in, s, dir, append(rationale, rest...), fullConfidence), nil
}

// ────────────────────────────────────────────────────────────
// Filter
// ────────────────────────────────────────────────────────────

// filter is a pure conjunction of the shared hard filters.
type filter struct {
	base
}

func newFilter(cfg Config) *filter {
	return &filter{base: newBase(cfg, indicator.Spec{}, 0)}
}

func (r *filter) Evaluate(in Input) (*Draft, error) {
	series, err := r.series(in)
	if err != nil {
		return nil, err
	}
	s := series[len(series)-1]
	rationale, err := r.gate(s)
	if err != nil {
		return nil, err
	}
	return r.draft(in, s, r.cfg.Direction, rationale, fullConfidence), nil
}
