package strategy

import (
	"fmt"

	"trading-screener/internal/indicator"
	"trading-screener/internal/model"
)

// Config describes one named rule. Exactly the parameter block matching
// Kind must be set (none for KindFilter).
type Config struct {
	ID          string          `yaml:"id" json:"id" validate:"required"`
	Kind        Kind            `yaml:"kind" json:"kind" validate:"required,oneof=breakout bounce pullback mean_reversion scoring crossover filter"`
	Direction   model.Direction `yaml:"direction" json:"direction" validate:"omitempty,oneof=BUY SELL"`
	Description string          `yaml:"description" json:"description,omitempty"`
	Indicators  indicator.Spec  `yaml:"indicators" json:"indicators"`
	Filters     Filters         `yaml:"filters" json:"filters"`

	Breakout      *BreakoutParams      `yaml:"breakout" json:"breakout,omitempty"`
	Bounce        *BounceParams        `yaml:"bounce" json:"bounce,omitempty"`
	Pullback      *PullbackParams      `yaml:"pullback" json:"pullback,omitempty"`
	MeanReversion *MeanReversionParams `yaml:"mean_reversion" json:"mean_reversion,omitempty"`
	Crossover     *CrossoverParams     `yaml:"crossover" json:"crossover,omitempty"`
	Scoring       *ScoringParams       `yaml:"scoring" json:"scoring,omitempty"`
}

// BreakoutParams: close above the prior range high with confirming volume.
type BreakoutParams struct {
	MinVolumeRatio float64 `yaml:"min_volume_ratio" json:"min_volume_ratio" validate:"gt=0"`
	BufferPct      float64 `yaml:"buffer_pct" json:"buffer_pct" validate:"gte=0"`
}

// BounceParams: close within TolerancePct of support (BUY) or resistance
// (SELL). AllowShort adds the SELL side to a BUY rule.
type BounceParams struct {
	TolerancePct float64 `yaml:"tolerance_pct" json:"tolerance_pct" validate:"gt=0"`
	AllowShort   bool    `yaml:"allow_short" json:"allow_short"`
}

// PullbackParams: close inside ±BandPct of the anchor MA, on below-average
// volume, optionally in the direction of a longer trend MA.
type PullbackParams struct {
	MA             int     `yaml:"ma" json:"ma" validate:"gt=0"`
	UseEMA         bool    `yaml:"use_ema" json:"use_ema"`
	BandPct        float64 `yaml:"band_pct" json:"band_pct" validate:"gt=0"`
	TrendMA        int     `yaml:"trend_ma" json:"trend_ma" validate:"gte=0"`
	MaxVolumeRatio float64 `yaml:"max_volume_ratio" json:"max_volume_ratio" validate:"gt=0"`
}

// MeanReversionParams: BUY when RSI crosses below Oversold, SELL when it
// crosses above Overbought. Direction picks the side; AllowShort adds the
// SELL side to a BUY rule. LevelOnly drops the
// cross requirement and fires while RSI stays beyond the threshold.
type MeanReversionParams struct {
	Oversold   float64 `yaml:"oversold" json:"oversold" validate:"gt=0,lt=100"`
	Overbought float64 `yaml:"overbought" json:"overbought" validate:"omitempty,gt=0,lt=100"`
	LevelOnly  bool    `yaml:"level_only" json:"level_only"`
	AllowShort bool    `yaml:"allow_short" json:"allow_short"`
}

// CrossoverParams: fast MA crossing the slow MA.
type CrossoverParams struct {
	Fast       int  `yaml:"fast" json:"fast" validate:"gt=0"`
	Slow       int  `yaml:"slow" json:"slow" validate:"gtfield=Fast"`
	UseEMA     bool `yaml:"use_ema" json:"use_ema"`
	AllowShort bool `yaml:"allow_short" json:"allow_short"`
	// MaxRSI suppresses golden crosses while overbought; 0 disables.
	MaxRSI float64 `yaml:"max_rsi" json:"max_rsi" validate:"gte=0,lte=100"`
}

// ScoringParams: weighted points per satisfied component; the candidate
// passes when the total reaches Threshold.
type ScoringParams struct {
	Threshold  float64     `yaml:"threshold" json:"threshold" validate:"gt=0"`
	Components []Component `yaml:"components" json:"components" validate:"min=1,dive"`
}

// Component is one scored sub-condition. It is satisfied when every
// filter in When holds.
type Component struct {
	Label  string  `yaml:"label" json:"label" validate:"required"`
	Points float64 `yaml:"points" json:"points" validate:"gt=0"`
	When   Filters `yaml:"when" json:"when"`
}

// check verifies the parameter block required by Kind is present and sane.
func (c Config) check() error {
	if c.ID == "" {
		return fmt.Errorf("strategy: missing id")
	}
	if c.Direction != "" && !c.Direction.Valid() {
		return fmt.Errorf("strategy %s: invalid direction %q", c.ID, c.Direction)
	}
	missing := func(block string) error {
		return fmt.Errorf("strategy %s: kind %s requires a %q block", c.ID, c.Kind, block)
	}
	switch c.Kind {
	case KindBreakout:
		if c.Breakout == nil {
			return missing("breakout")
		}
		if c.Breakout.MinVolumeRatio <= 0 {
			return fmt.Errorf("strategy %s: breakout.min_volume_ratio must be > 0", c.ID)
		}
	case KindBounce:
		if c.Bounce == nil {
			return missing("bounce")
		}
		if c.Bounce.TolerancePct <= 0 {
			return fmt.Errorf("strategy %s: bounce.tolerance_pct must be > 0", c.ID)
		}
	case KindPullback:
		if c.Pullback == nil {
			return missing("pullback")
		}
		if c.Pullback.MA <= 0 || c.Pullback.BandPct <= 0 || c.Pullback.MaxVolumeRatio <= 0 {
			return fmt.Errorf("strategy %s: pullback.ma, band_pct and max_volume_ratio must be > 0", c.ID)
		}
	case KindMeanReversion:
		if c.MeanReversion == nil {
			return missing("mean_reversion")
		}
		p := c.MeanReversion
		if p.Oversold <= 0 || p.Oversold >= 100 {
			return fmt.Errorf("strategy %s: mean_reversion.oversold must be in (0,100)", c.ID)
		}
		if (p.AllowShort || c.Direction == model.Sell) && (p.Overbought <= p.Oversold || p.Overbought >= 100) {
			return fmt.Errorf("strategy %s: mean_reversion.overbought must be in (oversold,100)", c.ID)
		}
	case KindCrossover:
		if c.Crossover == nil {
			return missing("crossover")
		}
		if c.Crossover.Fast <= 0 || c.Crossover.Slow <= c.Crossover.Fast {
			return fmt.Errorf("strategy %s: crossover needs 0 < fast < slow", c.ID)
		}
	case KindScoring:
		if c.Scoring == nil {
			return missing("scoring")
		}
		if c.Scoring.Threshold <= 0 || len(c.Scoring.Components) == 0 {
			return fmt.Errorf("strategy %s: scoring needs a threshold and at least one component", c.ID)
		}
		for _, comp := range c.Scoring.Components {
			if comp.When.Empty() {
				return fmt.Errorf("strategy %s: scoring component %q has no condition", c.ID, comp.Label)
			}
		}
	case KindFilter:
		if c.Filters.Empty() {
			return fmt.Errorf("strategy %s: filter rule has no filters", c.ID)
		}
	default:
		return fmt.Errorf("strategy %s: unknown kind %q", c.ID, c.Kind)
	}
	return nil
}
