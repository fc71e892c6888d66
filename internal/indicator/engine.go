package indicator

import (
	"math"
	"sort"
	"time"

	"trading-screener/internal/model"
)

// Spec selects the indicators and window lengths to compute.
// Zero values are replaced by defaults in Normalize.
type Spec struct {
	RSIPeriod    int   `yaml:"rsi_period" json:"rsi_period"`
	SMAPeriods   []int `yaml:"sma" json:"sma"`
	EMAPeriods   []int `yaml:"ema" json:"ema"`
	VolumePeriod int   `yaml:"volume_period" json:"volume_period"` // primary volume MA, used by VolumeRatio
	VolumeMAs    []int `yaml:"volume_mas" json:"volume_mas"`       // extra volume MA windows
	ATRPeriod    int   `yaml:"atr_period" json:"atr_period"`
	ATRWilder    bool  `yaml:"atr_wilder" json:"atr_wilder"`
	RangeWindow  int   `yaml:"range_window" json:"range_window"` // support/resistance lookback
	HighWindow   int   `yaml:"high_window" json:"high_window"`   // period high/low lookback (~52 weeks)
}

// DefaultSpec returns the indicator set used when a strategy does not
// override it.
func DefaultSpec() Spec {
	return Spec{
		RSIPeriod:    14,
		SMAPeriods:   []int{5, 20},
		EMAPeriods:   []int{20},
		VolumePeriod: 20,
		ATRPeriod:    14,
		RangeWindow:  20,
		HighWindow:   252,
	}
}

// Normalize fills zero fields with defaults.
func (s Spec) Normalize() Spec {
	d := DefaultSpec()
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = d.RSIPeriod
	}
	if len(s.SMAPeriods) == 0 {
		s.SMAPeriods = d.SMAPeriods
	}
	if len(s.EMAPeriods) == 0 {
		s.EMAPeriods = d.EMAPeriods
	}
	if s.VolumePeriod <= 0 {
		s.VolumePeriod = d.VolumePeriod
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = d.ATRPeriod
	}
	if s.RangeWindow <= 0 {
		s.RangeWindow = d.RangeWindow
	}
	if s.HighWindow <= 0 {
		s.HighWindow = d.HighWindow
	}
	return s
}

// MinBars returns the number of bars needed before every windowed
// indicator of the spec is defined. The period high/low is exempt: it is
// computed over whatever history is available.
func (s Spec) MinBars() int {
	s = s.Normalize()
	n := s.RSIPeriod + 1
	for _, p := range s.SMAPeriods {
		n = max(n, p)
	}
	for _, p := range s.EMAPeriods {
		n = max(n, p)
	}
	for _, p := range s.VolumeMAs {
		n = max(n, p)
	}
	n = max(n, s.VolumePeriod, s.ATRPeriod, s.RangeWindow+1)
	return n
}

// Merge returns a spec whose windows are the union of s and o, so one
// series can serve several rules.
func (s Spec) Merge(o Spec) Spec {
	s, o = s.Normalize(), o.Normalize()
	s.RSIPeriod = max(s.RSIPeriod, o.RSIPeriod)
	s.SMAPeriods = union(s.SMAPeriods, o.SMAPeriods)
	s.EMAPeriods = union(s.EMAPeriods, o.EMAPeriods)
	s.VolumeMAs = union(append([]int{s.VolumePeriod, o.VolumePeriod}, s.VolumeMAs...), o.VolumeMAs)
	s.VolumePeriod = max(s.VolumePeriod, o.VolumePeriod)
	s.ATRPeriod = max(s.ATRPeriod, o.ATRPeriod)
	s.ATRWilder = s.ATRWilder || o.ATRWilder
	s.RangeWindow = max(s.RangeWindow, o.RangeWindow)
	s.HighWindow = max(s.HighWindow, o.HighWindow)
	return s
}

func union(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	var out []int
	for _, v := range append(append([]int{}, a...), b...) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// Snapshot holds every indicator value at one bar. Undefined values are NaN.
type Snapshot struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	// Index is the 0-based position of the bar in its sequence.
	Index int `json:"index"`
	// Warm is true once the sequence is at least Spec.MinBars long.
	Warm bool `json:"warm"`

	PrevClose  float64 `json:"prev_close"`
	PrevHigh   float64 `json:"prev_high"`
	PrevVolume float64 `json:"prev_volume"`

	RSI        float64         `json:"rsi"`
	SMA        map[int]float64 `json:"sma"`
	EMA        map[int]float64 `json:"ema"`
	VolumeMA   float64         `json:"volume_ma"`  // primary volume MA
	VolumeMAs  map[int]float64 `json:"volume_mas"` // every configured volume MA, primary included
	ATR        float64         `json:"atr"`
	Resistance float64         `json:"resistance"` // highest high of the prior RangeWindow bars
	Support    float64         `json:"support"`    // lowest low of the prior RangeWindow bars
	PeriodHigh float64         `json:"period_high"`
	PeriodLow  float64         `json:"period_low"`
}

// SMAValue returns SMA(n), NaN if n is not configured or not ready.
func (s Snapshot) SMAValue(n int) float64 {
	if v, ok := s.SMA[n]; ok {
		return v
	}
	return nan
}

// EMAValue returns EMA(n), NaN if n is not configured or not ready.
func (s Snapshot) EMAValue(n int) float64 {
	if v, ok := s.EMA[n]; ok {
		return v
	}
	return nan
}

// VolumeRatio returns volume / primary volume MA. A zero or undefined
// average yields NaN, which rules treat as "no signal".
func (s Snapshot) VolumeRatio() float64 {
	return ratio(s.Volume, s.VolumeMA)
}

// VolumeRatioN returns volume / volume MA(n); NaN if n is not configured.
func (s Snapshot) VolumeRatioN(n int) float64 {
	ma, ok := s.VolumeMAs[n]
	if !ok {
		return nan
	}
	return ratio(s.Volume, ma)
}

func ratio(v, ma float64) float64 {
	if math.IsNaN(ma) || ma <= 0 {
		return nan
	}
	return v / ma
}

// Value returns close × volume.
func (s Snapshot) Value() float64 { return s.Close * s.Volume }

// ChangePct returns the percent change against the previous close.
func (s Snapshot) ChangePct() float64 {
	if math.IsNaN(s.PrevClose) || s.PrevClose == 0 {
		return nan
	}
	return (s.Close - s.PrevClose) / s.PrevClose * 100
}

// IntradayPct returns the percent change from open to close.
func (s Snapshot) IntradayPct() float64 {
	if s.Open == 0 {
		return nan
	}
	return (s.Close - s.Open) / s.Open * 100
}

// NearHighRatio returns close / period high.
func (s Snapshot) NearHighRatio() float64 {
	if math.IsNaN(s.PeriodHigh) || s.PeriodHigh == 0 {
		return nan
	}
	return s.Close / s.PeriodHigh
}

// Green reports whether the bar closed above its open.
func (s Snapshot) Green() bool { return s.Close > s.Open }

// Engine computes snapshots for one bar sequence, one bar at a time.
// Designed for single-goroutine usage; create one per symbol.
type Engine struct {
	spec    Spec
	minBars int

	rsi        *RSI
	sma        map[int]*SMA
	ema        map[int]*EMA
	volume     map[int]*SMA
	atr        *ATR
	resistance *Extreme
	support    *Extreme
	periodHigh *Extreme
	periodLow  *Extreme

	prev  model.PriceBar
	count int
}

// NewEngine creates an engine for the given spec.
func NewEngine(spec Spec) *Engine {
	spec = spec.Normalize()
	e := &Engine{
		spec:       spec,
		minBars:    spec.MinBars(),
		rsi:        NewRSI(spec.RSIPeriod),
		sma:        make(map[int]*SMA, len(spec.SMAPeriods)),
		ema:        make(map[int]*EMA, len(spec.EMAPeriods)),
		volume:     make(map[int]*SMA, len(spec.VolumeMAs)+1),
		resistance: NewHighest(spec.RangeWindow),
		support:    NewLowest(spec.RangeWindow),
		periodHigh: NewHighest(spec.HighWindow),
		periodLow:  NewLowest(spec.HighWindow),
	}
	for _, p := range spec.SMAPeriods {
		e.sma[p] = NewSMA(p)
	}
	for _, p := range spec.EMAPeriods {
		e.ema[p] = NewEMA(p)
	}
	for _, p := range append([]int{spec.VolumePeriod}, spec.VolumeMAs...) {
		e.volume[p] = NewVolumeSMA(p)
	}
	if spec.ATRWilder {
		e.atr = NewWilderATR(spec.ATRPeriod)
	} else {
		e.atr = NewATR(spec.ATRPeriod)
	}
	return e
}

// Spec returns the normalized spec of the engine.
func (e *Engine) Spec() Spec { return e.spec }

// Process feeds the next bar and returns the snapshot at that bar.
func (e *Engine) Process(bar model.PriceBar) Snapshot {
	snap := Snapshot{
		Time: bar.Time, Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
		Index:      e.count,
		PrevClose:  nan,
		PrevHigh:   nan,
		PrevVolume: nan,
		SMA:        make(map[int]float64, len(e.sma)),
		EMA:        make(map[int]float64, len(e.ema)),
		VolumeMAs:  make(map[int]float64, len(e.volume)),
	}
	if e.count > 0 {
		snap.PrevClose = e.prev.Close
		snap.PrevHigh = e.prev.High
		snap.PrevVolume = e.prev.Volume
	}

	// Support/resistance look at the bars before this one.
	snap.Resistance = e.resistance.Value()
	snap.Support = e.support.Value()

	for _, ind := range [...]Indicator{e.rsi, e.atr, e.resistance, e.support, e.periodHigh, e.periodLow} {
		ind.Update(bar)
	}
	for p, s := range e.sma {
		s.Update(bar)
		snap.SMA[p] = s.Value()
	}
	for p, m := range e.ema {
		m.Update(bar)
		snap.EMA[p] = m.Value()
	}
	for p, v := range e.volume {
		v.Update(bar)
		snap.VolumeMAs[p] = v.Value()
	}

	snap.RSI = e.rsi.Value()
	snap.VolumeMA = snap.VolumeMAs[e.spec.VolumePeriod]
	snap.ATR = e.atr.Value()
	snap.PeriodHigh = e.periodHigh.Partial()
	snap.PeriodLow = e.periodLow.Partial()

	e.prev = bar
	e.count++
	snap.Warm = e.count >= e.minBars
	return snap
}

// Series computes the snapshot at every bar of an ascending sequence.
func Series(bars []model.PriceBar, spec Spec) []Snapshot {
	e := NewEngine(spec)
	out := make([]Snapshot, 0, len(bars))
	for _, b := range bars {
		out = append(out, e.Process(b))
	}
	return out
}

// Compute returns the snapshot at the most recent bar. An empty sequence
// yields a snapshot with Warm=false and every indicator NaN.
func Compute(bars []model.PriceBar, spec Spec) Snapshot {
	if len(bars) == 0 {
		return Snapshot{
			PrevClose: nan, PrevHigh: nan, PrevVolume: nan,
			RSI: nan, VolumeMA: nan, ATR: nan,
			Resistance: nan, Support: nan, PeriodHigh: nan, PeriodLow: nan,
			Open: nan, High: nan, Low: nan, Close: nan, Volume: nan,
		}
	}
	e := NewEngine(spec)
	var snap Snapshot
	for _, b := range bars {
		snap = e.Process(b)
	}
	return snap
}
