package indicator

import (
	"strconv"

	"trading-screener/internal/model"
)

// Extreme tracks the highest (or lowest) value of a source over a rolling
// window of bars.
type Extreme struct {
	name   string
	period int
	src    Source
	upper  bool
	buf    []float64
	idx    int
	count  int
}

// NewHighest tracks the highest high over period bars.
func NewHighest(period int) *Extreme { return newExtreme("HIGHEST", period, High, true) }

// NewLowest tracks the lowest low over period bars.
func NewLowest(period int) *Extreme { return newExtreme("LOWEST", period, Low, false) }

func newExtreme(name string, period int, src Source, upper bool) *Extreme {
	period = clampPeriod(period)
	return &Extreme{
		name:   name + "_" + strconv.Itoa(period),
		period: period,
		src:    src,
		upper:  upper,
		buf:    make([]float64, period),
	}
}

func (e *Extreme) Name() string { return e.name }

func (e *Extreme) Update(bar model.PriceBar) {
	e.buf[e.idx] = e.src(bar)
	e.idx = (e.idx + 1) % e.period
	e.count++
}

// Value returns the extreme over the full window, NaN until it is filled.
func (e *Extreme) Value() float64 {
	if !e.Ready() {
		return nan
	}
	return e.Partial()
}

// Partial returns the extreme over the bars seen so far, up to period.
// NaN before the first bar.
func (e *Extreme) Partial() float64 {
	n := e.count
	if n > e.period {
		n = e.period
	}
	if n == 0 {
		return nan
	}
	out := e.buf[0]
	for i := 1; i < n; i++ {
		v := e.buf[i]
		if (e.upper && v > out) || (!e.upper && v < out) {
			out = v
		}
	}
	return out
}

func (e *Extreme) Ready() bool { return e.count >= e.period }
