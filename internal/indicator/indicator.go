// Package indicator computes technical indicators over daily price bars.
//
// Every indicator is incremental: it receives bars one at a time through
// Update and exposes its current value. Value returns NaN until the
// indicator has seen enough bars, so callers can tell "not yet defined"
// apart from a real zero. Engine combines the indicators a strategy needs
// into per-bar Snapshots.
package indicator

import (
	"math"

	"trading-screener/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "RSI_14").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.PriceBar)

	// Value returns the current value, or NaN if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Source extracts the input series of an indicator from a bar.
type Source func(model.PriceBar) float64

func Close(b model.PriceBar) float64  { return b.Close }
func High(b model.PriceBar) float64   { return b.High }
func Low(b model.PriceBar) float64    { return b.Low }
func Volume(b model.PriceBar) float64 { return b.Volume }

// nan is returned by indicators that are not warmed up yet.
var nan = math.NaN()

func clampPeriod(period int) int {
	if period < 1 {
		return 1
	}
	return period
}
