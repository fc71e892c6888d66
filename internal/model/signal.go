package model

import "time"

// Direction is the side of a signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == Buy || d == Sell }

// Target is one take-profit level of a trade plan, e.g. {"TP1", 1030}.
type Target struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// Signal is a candidate that passed a strategy's rules, together with its
// trade plan. Entry, targets and stop are fixed once the signal is created.
type Signal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	StrategyID  string    `json:"strategy_id"`
	Direction   Direction `json:"direction"`
	Entry       float64   `json:"entry"`
	Targets     []Target  `json:"targets"`
	StopLoss    float64   `json:"stop_loss"`
	GeneratedAt time.Time `json:"generated_at"`
	TradingDay  string    `json:"trading_day"` // YYYY-MM-DD in the exchange time zone
	Rationale   []string  `json:"rationale"`
	Confidence  float64   `json:"confidence"`
	VolumeRatio float64   `json:"volume_ratio"`
	Value       float64   `json:"value"`
	Volume      float64   `json:"volume"`
	ATR         float64   `json:"atr,omitempty"`
}

// FinalTarget returns the last (furthest) target price, or 0 if the signal
// has no targets.
func (s Signal) FinalTarget() float64 {
	if len(s.Targets) == 0 {
		return 0
	}
	return s.Targets[len(s.Targets)-1].Price
}

// Key returns the deduplication key "strategy:symbol".
func (s Signal) Key() string {
	return s.StrategyID + ":" + s.Symbol
}
