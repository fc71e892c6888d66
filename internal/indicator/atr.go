package indicator

import (
	"math"
	"strconv"

	"trading-screener/internal/model"
)

type smoother interface {
	push(v float64)
	Value() float64
	Ready() bool
}

// ATR calculates Average True Range.
// TR = max(high-low, |high-prevClose|, |low-prevClose|); the first bar has
// no previous close and uses high-low. TR is averaged with a rolling mean,
// or with Wilder smoothing when created by NewWilderATR.
type ATR struct {
	name      string
	avg       smoother
	prevClose float64
	seen      bool
}

// NewATR creates an ATR with a rolling-mean average.
func NewATR(period int) *ATR {
	period = clampPeriod(period)
	return &ATR{
		name: "ATR_" + strconv.Itoa(period),
		avg:  NewSMAOf("TR", period, nil),
	}
}

// NewWilderATR creates an ATR with Wilder smoothing.
func NewWilderATR(period int) *ATR {
	period = clampPeriod(period)
	return &ATR{
		name: "WATR_" + strconv.Itoa(period),
		avg:  &SMMA{period: period},
	}
}

func (a *ATR) Name() string { return a.name }

func (a *ATR) Update(bar model.PriceBar) {
	a.avg.push(TrueRange(bar, a.prevClose, a.seen))
	a.prevClose = bar.Close
	a.seen = true
}

// TrueRange returns the true range of bar given the previous close.
func TrueRange(bar model.PriceBar, prevClose float64, hasPrev bool) float64 {
	tr := bar.High - bar.Low
	if !hasPrev {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

func (a *ATR) Value() float64 { return a.avg.Value() }
func (a *ATR) Ready() bool    { return a.avg.Ready() }
