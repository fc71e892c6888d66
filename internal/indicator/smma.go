package indicator

import (
	"strconv"

	"trading-screener/internal/model"
)

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	src     Source
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA of closes with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: clampPeriod(period), src: Close}
}

func (s *SMMA) Name() string { return "SMMA_" + strconv.Itoa(s.period) }

func (s *SMMA) Update(bar model.PriceBar) { s.push(s.src(bar)) }

func (s *SMMA) push(v float64) {
	s.count++
	if s.count <= s.period {
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}
	s.current = (s.current*float64(s.period-1) + v) / float64(s.period)
}

func (s *SMMA) Value() float64 {
	if !s.Ready() {
		return nan
	}
	return s.current
}

func (s *SMMA) Ready() bool { return s.count >= s.period }
