package indicator

import (
	"strconv"

	"trading-screener/internal/model"
)

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer.
type SMA struct {
	name   string
	period int
	src    Source
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total values received
	sum    float64
}

// NewSMA creates a moving average of closes.
func NewSMA(period int) *SMA {
	return NewSMAOf("SMA", period, Close)
}

// NewVolumeSMA creates a moving average of volume.
func NewVolumeSMA(period int) *SMA {
	return NewSMAOf("VOLMA", period, Volume)
}

// NewSMAOf creates a moving average over an arbitrary bar source.
func NewSMAOf(name string, period int, src Source) *SMA {
	period = clampPeriod(period)
	return &SMA{
		name:   name + "_" + strconv.Itoa(period),
		period: period,
		src:    src,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(bar model.PriceBar) { s.push(s.src(bar)) }

func (s *SMA) push(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	// Resum once per full cycle so float drift cannot accumulate.
	if s.idx == 0 {
		s.sum = 0
		for _, x := range s.buf {
			s.sum += x
		}
	}
}

func (s *SMA) Value() float64 {
	if !s.Ready() {
		return nan
	}
	return s.sum / float64(s.period)
}

func (s *SMA) Ready() bool { return s.count >= s.period }
