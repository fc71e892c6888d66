package model

import (
	"math"
	"time"
)

// PriceBar is one daily OHLCV record for a single instrument.
// Prices are in the instrument's quote currency (whole Rupiah on IDX).
type PriceBar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Valid reports whether the bar has finite positive prices, a non-negative
// volume and a consistent high/low range.
func (b PriceBar) Valid() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return false
	}
	return b.High >= b.Low && !b.Time.IsZero()
}

// Value returns the transaction value of the bar (close × volume).
func (b PriceBar) Value() float64 { return b.Close * b.Volume }

// Green reports whether the bar closed above its open.
func (b PriceBar) Green() bool { return b.Close > b.Open }
