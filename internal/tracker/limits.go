package tracker

import (
	"errors"
	"fmt"

	"trading-screener/internal/model"
)

// ErrLimitReached means accepting the signal would exceed an exposure limit.
var ErrLimitReached = errors.New("position limit reached")

// Limits defines configurable exposure thresholds. Zero disables a limit.
type Limits struct {
	MaxOpen            int `yaml:"max_open" json:"max_open" validate:"gte=0"`                           // across all strategies
	MaxOpenPerStrategy int `yaml:"max_open_per_strategy" json:"max_open_per_strategy" validate:"gte=0"` // per strategy
}

// check validates a new signal against the currently open positions.
// A position already open for the same strategy and symbol is a duplicate.
func (l Limits) check(open []model.Position, sig model.Signal) error {
	perStrategy := 0
	for _, p := range open {
		if p.Signal.Key() == sig.Key() {
			return fmt.Errorf("%s: %w", sig.Key(), model.ErrDuplicatePosition)
		}
		if p.Signal.StrategyID == sig.StrategyID {
			perStrategy++
		}
	}
	if l.MaxOpen > 0 && len(open) >= l.MaxOpen {
		return fmt.Errorf("%d open positions: %w", len(open), ErrLimitReached)
	}
	if l.MaxOpenPerStrategy > 0 && perStrategy >= l.MaxOpenPerStrategy {
		return fmt.Errorf("%d open positions for %s: %w", perStrategy, sig.StrategyID, ErrLimitReached)
	}
	return nil
}
