package indicator

import (
	"strconv"

	"trading-screener/internal/model"
)

// EMA calculates Exponential Moving Average with span = period.
// Seeded with the SMA of the first period values, then
// EMA = price*k + prev*(1-k) with k = 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	period = clampPeriod(period)
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA_" + strconv.Itoa(e.period) }

func (e *EMA) Update(bar model.PriceBar) {
	price := bar.Close
	e.count++

	if e.count <= e.period {
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return nan
	}
	return e.current
}

func (e *EMA) Ready() bool { return e.count >= e.period }
