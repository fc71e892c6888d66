package strategy

import (
	"fmt"
	"math"

	"trading-screener/internal/indicator"
)

// Predicate is one numeric condition over a snapshot.
// Eval returns ok=false with a reason when the condition fails, and an
// error wrapping ErrNotEvaluable when a required indicator is undefined.
type Predicate struct {
	Name string
	Eval func(s indicator.Snapshot) (ok bool, reason string, err error)
}

// VolumeRatioBand bounds volume / volume MA(Period). Period 0 uses the
// primary volume MA; Max 0 means unbounded.
type VolumeRatioBand struct {
	Period int     `yaml:"period" json:"period" validate:"gte=0"`
	Min    float64 `yaml:"min" json:"min" validate:"gte=0"`
	Max    float64 `yaml:"max" json:"max" validate:"gte=0"`
}

// Filters is the shared set of hard filters. Every field is optional;
// unset pointers and empty slices add no predicate.
type Filters struct {
	MinPrice        *float64          `yaml:"min_price" json:"min_price,omitempty"`
	MaxPrice        *float64          `yaml:"max_price" json:"max_price,omitempty"`
	MinVolume       *float64          `yaml:"min_volume" json:"min_volume,omitempty"`
	MinValue        *float64          `yaml:"min_value" json:"min_value,omitempty"` // close × volume
	VolumeRatio     []VolumeRatioBand `yaml:"volume_ratio" json:"volume_ratio,omitempty" validate:"dive"`
	VolumeAbovePrev bool              `yaml:"volume_above_prev" json:"volume_above_prev,omitempty"`
	AboveSMA        []int             `yaml:"above_sma" json:"above_sma,omitempty" validate:"dive,gt=0"`
	AboveEMA        []int             `yaml:"above_ema" json:"above_ema,omitempty" validate:"dive,gt=0"`
	BelowSMA        []int             `yaml:"below_sma" json:"below_sma,omitempty" validate:"dive,gt=0"`
	RSIMin          *float64          `yaml:"rsi_min" json:"rsi_min,omitempty"`
	RSIMax          *float64          `yaml:"rsi_max" json:"rsi_max,omitempty"`
	MinNearHigh     *float64          `yaml:"min_near_high" json:"min_near_high,omitempty"` // close / period high
	MinChangePct    *float64          `yaml:"min_change_pct" json:"min_change_pct,omitempty"`
	MaxChangePct    *float64          `yaml:"max_change_pct" json:"max_change_pct,omitempty"`
	MinIntradayPct  *float64          `yaml:"min_intraday_pct" json:"min_intraday_pct,omitempty"`
	MaxIntradayPct  *float64          `yaml:"max_intraday_pct" json:"max_intraday_pct,omitempty"`
	MaxAbsMovePct   *float64          `yaml:"max_abs_move_pct" json:"max_abs_move_pct,omitempty"` // limit-up/limit-down guard on intraday move
	GreenCandle     bool              `yaml:"green_candle" json:"green_candle,omitempty"`
	AbovePrevHigh   bool              `yaml:"above_prev_high" json:"above_prev_high,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool { return len(f.Predicates()) == 0 }

// Predicates expands the filters into predicates. The order is fixed but
// carries no meaning: all of them must hold.
func (f Filters) Predicates() []Predicate {
	var ps []Predicate
	add := func(p Predicate) { ps = append(ps, p) }

	if f.MaxAbsMovePct != nil {
		limit := *f.MaxAbsMovePct
		add(atMost("abs intraday move %", func(s indicator.Snapshot) float64 { return math.Abs(s.IntradayPct()) }, limit))
	}
	if f.MinPrice != nil {
		add(atLeast("close", closeOf, *f.MinPrice))
	}
	if f.MaxPrice != nil {
		add(atMost("close", closeOf, *f.MaxPrice))
	}
	if f.MinVolume != nil {
		add(atLeast("volume", func(s indicator.Snapshot) float64 { return s.Volume }, *f.MinVolume))
	}
	if f.MinValue != nil {
		add(atLeast("value", func(s indicator.Snapshot) float64 { return s.Value() }, *f.MinValue))
	}
	for _, b := range f.VolumeRatio {
		add(volumeRatioBand(b))
	}
	if f.VolumeAbovePrev {
		add(greaterThan("volume", "prev volume",
			func(s indicator.Snapshot) float64 { return s.Volume },
			func(s indicator.Snapshot) float64 { return s.PrevVolume }))
	}
	for _, n := range f.AboveSMA {
		n := n
		add(greaterThan("close", fmt.Sprintf("SMA%d", n), closeOf,
			func(s indicator.Snapshot) float64 { return s.SMAValue(n) }))
	}
	for _, n := range f.AboveEMA {
		n := n
		add(greaterThan("close", fmt.Sprintf("EMA%d", n), closeOf,
			func(s indicator.Snapshot) float64 { return s.EMAValue(n) }))
	}
	for _, n := range f.BelowSMA {
		n := n
		add(greaterThan(fmt.Sprintf("SMA%d", n), "close",
			func(s indicator.Snapshot) float64 { return s.SMAValue(n) }, closeOf))
	}
	if f.RSIMin != nil {
		add(atLeast("RSI", rsiOf, *f.RSIMin))
	}
	if f.RSIMax != nil {
		add(atMost("RSI", rsiOf, *f.RSIMax))
	}
	if f.MinNearHigh != nil {
		add(above("close/period high", func(s indicator.Snapshot) float64 { return s.NearHighRatio() }, *f.MinNearHigh))
	}
	if f.MinChangePct != nil {
		add(atLeast("change %", func(s indicator.Snapshot) float64 { return s.ChangePct() }, *f.MinChangePct))
	}
	if f.MaxChangePct != nil {
		add(atMost("change %", func(s indicator.Snapshot) float64 { return s.ChangePct() }, *f.MaxChangePct))
	}
	if f.MinIntradayPct != nil {
		add(atLeast("intraday %", func(s indicator.Snapshot) float64 { return s.IntradayPct() }, *f.MinIntradayPct))
	}
	if f.MaxIntradayPct != nil {
		add(atMost("intraday %", func(s indicator.Snapshot) float64 { return s.IntradayPct() }, *f.MaxIntradayPct))
	}
	if f.GreenCandle {
		add(Predicate{Name: "green candle", Eval: func(s indicator.Snapshot) (bool, string, error) {
			if s.Green() {
				return true, fmt.Sprintf("green candle (open %.0f → close %.0f)", s.Open, s.Close), nil
			}
			return false, fmt.Sprintf("red candle (open %.0f → close %.0f)", s.Open, s.Close), nil
		}})
	}
	if f.AbovePrevHigh {
		add(greaterThan("close", "prev high", closeOf,
			func(s indicator.Snapshot) float64 { return s.PrevHigh }))
	}
	return ps
}

func closeOf(s indicator.Snapshot) float64 { return s.Close }
func rsiOf(s indicator.Snapshot) float64   { return s.RSI }

func undefined(name string) error {
	return fmt.Errorf("%s undefined: %w", name, ErrNotEvaluable)
}

func compare(name string, get func(indicator.Snapshot) float64, op string, limit float64) Predicate {
	return Predicate{Name: name + " " + op, Eval: func(s indicator.Snapshot) (bool, string, error) {
		v := get(s)
		if math.IsNaN(v) {
			return false, "", undefined(name)
		}
		var ok bool
		switch op {
		case ">=":
			ok = v >= limit
		case "<=":
			ok = v <= limit
		case ">":
			ok = v > limit
		}
		return ok, fmt.Sprintf("%s %s %s %s", name, fmtNum(v), opText(op, ok), fmtNum(limit)), nil
	}}
}

func atLeast(name string, get func(indicator.Snapshot) float64, limit float64) Predicate {
	return compare(name, get, ">=", limit)
}

func atMost(name string, get func(indicator.Snapshot) float64, limit float64) Predicate {
	return compare(name, get, "<=", limit)
}

func above(name string, get func(indicator.Snapshot) float64, limit float64) Predicate {
	return compare(name, get, ">", limit)
}

// greaterThan compares two snapshot values: left > right.
func greaterThan(lname, rname string, left, right func(indicator.Snapshot) float64) Predicate {
	return Predicate{Name: lname + " > " + rname, Eval: func(s indicator.Snapshot) (bool, string, error) {
		l, r := left(s), right(s)
		if math.IsNaN(l) {
			return false, "", undefined(lname)
		}
		if math.IsNaN(r) {
			return false, "", undefined(rname)
		}
		ok := l > r
		return ok, fmt.Sprintf("%s %s %s %s %s", lname, fmtNum(l), opText(">", ok), rname, fmtNum(r)), nil
	}}
}

func volumeRatioBand(b VolumeRatioBand) Predicate {
	label := "volume ratio"
	if b.Period > 0 {
		label = fmt.Sprintf("volume/MA%d", b.Period)
	}
	return Predicate{Name: label, Eval: func(s indicator.Snapshot) (bool, string, error) {
		ma := s.VolumeMA
		if b.Period > 0 {
			v, ok := s.VolumeMAs[b.Period]
			if !ok {
				return false, "", undefined(label)
			}
			ma = v
		}
		if math.IsNaN(ma) {
			return false, "", undefined(label)
		}
		if ma <= 0 {
			// zero average volume: no signal, not an error
			return false, label + " undefined (zero average volume)", nil
		}
		r := s.Volume / ma
		if r < b.Min {
			return false, fmt.Sprintf("%s %.2f < %.2f", label, r, b.Min), nil
		}
		if b.Max > 0 && r > b.Max {
			return false, fmt.Sprintf("%s %.2f > %.2f", label, r, b.Max), nil
		}
		return true, fmt.Sprintf("%s %.2f", label, r), nil
	}}
}

// require extends spec with the windows the filters read.
func (f Filters) require(spec indicator.Spec) indicator.Spec {
	need := indicator.Spec{
		SMAPeriods: append(append([]int{}, f.AboveSMA...), f.BelowSMA...),
		EMAPeriods: f.AboveEMA,
	}
	for _, b := range f.VolumeRatio {
		if b.Period > 0 {
			need.VolumeMAs = append(need.VolumeMAs, b.Period)
		}
	}
	return extend(spec, need)
}

// extend adds the SMA/EMA/volume windows of need to spec without changing
// its scalar settings.
func extend(spec, need indicator.Spec) indicator.Spec {
	spec = spec.Normalize()
	spec.SMAPeriods = mergeInts(spec.SMAPeriods, need.SMAPeriods)
	spec.EMAPeriods = mergeInts(spec.EMAPeriods, need.EMAPeriods)
	for _, p := range need.VolumeMAs {
		if p != spec.VolumePeriod {
			spec.VolumeMAs = mergeInts(spec.VolumeMAs, []int{p})
		}
	}
	return spec
}

func mergeInts(a, b []int) []int {
	out := append([]int{}, a...)
	for _, v := range b {
		found := false
		for _, x := range out {
			if x == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func opText(op string, ok bool) string {
	if ok {
		return op
	}
	switch op {
	case ">=":
		return "<"
	case "<=":
		return ">"
	default:
		return "<="
	}
}

func fmtNum(v float64) string {
	if math.Abs(v) >= 1000 || v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// checkAll evaluates predicates as an unordered AND, stopping at the first
// failure. It returns the satisfied-condition rationale.
func checkAll(ps []Predicate, s indicator.Snapshot) ([]string, error) {
	rationale := make([]string, 0, len(ps))
	for _, p := range ps {
		ok, reason, err := p.Eval(s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		rationale = append(rationale, reason)
	}
	return rationale, nil
}

// Float returns a pointer to v, for building Filters in code.
func Float(v float64) *float64 { return &v }
