// Package strategy evaluates named screening rules against indicator
// snapshots.
//
// A Rule receives the price history of one symbol and either returns a
// Draft (the symbol qualifies) or an error explaining why not:
// ErrRejected when a condition fails, model.ErrInsufficientHistory when the
// history is too short, ErrNotEvaluable when a required indicator is
// undefined. Rules are immutable and built from configuration at startup;
// the Registry holds them by id.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"trading-screener/internal/indicator"
	"trading-screener/internal/model"
)

var (
	// ErrRejected means the candidate failed a condition of the rule.
	ErrRejected = errors.New("rejected")

	// ErrNotEvaluable means a required indicator is undefined (NaN).
	ErrNotEvaluable = errors.New("not evaluable")
)

// Kind is the family of a rule.
type Kind string

const (
	KindBreakout      Kind = "breakout"
	KindBounce        Kind = "bounce"
	KindPullback      Kind = "pullback"
	KindMeanReversion Kind = "mean_reversion"
	KindScoring       Kind = "scoring"
	KindCrossover     Kind = "crossover"
	KindFilter        Kind = "filter"
)

// Input is the data a rule evaluates.
type Input struct {
	Symbol string
	Bars   []model.PriceBar // ascending by time

	// Series, when set, must have been computed from Bars with the rule's
	// Spec. Rules compute it themselves otherwise.
	Series []indicator.Snapshot
}

// Draft is a qualifying candidate before a trade plan is attached.
type Draft struct {
	Symbol      string
	StrategyID  string
	Direction   model.Direction
	Entry       float64 // last close
	Rationale   []string
	Confidence  float64
	VolumeRatio float64
	Value       float64
	Volume      float64
	ATR         float64
	BarTime     time.Time
}

// Rule is the evaluator contract shared by every rule family.
type Rule interface {
	ID() string
	Kind() Kind
	Config() Config
	// Spec returns the indicator spec the rule reads.
	Spec() indicator.Spec
	// MinBars returns the history length below which Evaluate returns
	// model.ErrInsufficientHistory.
	MinBars() int
	// Evaluate never returns (nil, nil).
	Evaluate(in Input) (*Draft, error)
}

// fullConfidence is the confidence of hard-filter rules, which either pass
// completely or not at all.
const fullConfidence = 100

// base carries what every rule family shares.
type base struct {
	cfg     Config
	spec    indicator.Spec
	minBars int
	filters []Predicate
}

func newBase(cfg Config, need indicator.Spec, extraBars int) base {
	spec := cfg.Filters.require(extend(cfg.Indicators, need))
	if cfg.Direction == "" {
		cfg.Direction = model.Buy
	}
	return base{
		cfg:     cfg,
		spec:    spec,
		minBars: spec.MinBars() + extraBars,
		filters: cfg.Filters.Predicates(),
	}
}

func (b *base) ID() string           { return b.cfg.ID }
func (b *base) Kind() Kind           { return b.cfg.Kind }
func (b *base) Config() Config       { return b.cfg }
func (b *base) Spec() indicator.Spec { return b.spec }
func (b *base) MinBars() int         { return b.minBars }

// series validates history length and returns the snapshot series.
func (b *base) series(in Input) ([]indicator.Snapshot, error) {
	if len(in.Bars) < b.minBars {
		return nil, fmt.Errorf("%s: %d bars, need %d: %w", in.Symbol, len(in.Bars), b.minBars, model.ErrInsufficientHistory)
	}
	s := in.Series
	if len(s) != len(in.Bars) {
		s = indicator.Series(in.Bars, b.spec)
	}
	if !s[len(s)-1].Warm {
		return nil, fmt.Errorf("%s: indicators not warmed up: %w", in.Symbol, model.ErrInsufficientHistory)
	}
	return s, nil
}

// gate runs the shared hard filters.
func (b *base) gate(s indicator.Snapshot) ([]string, error) {
	return checkAll(b.filters, s)
}

func (b *base) draft(in Input, s indicator.Snapshot, dir model.Direction, rationale []string, confidence float64) *Draft {
	return &Draft{
		Symbol:      in.Symbol,
		StrategyID:  b.cfg.ID,
		Direction:   dir,
		Entry:       s.Close,
		Rationale:   rationale,
		Confidence:  confidence,
		VolumeRatio: s.VolumeRatio(),
		Value:       s.Value(),
		Volume:      s.Volume,
		ATR:         s.ATR,
		BarTime:     s.Time,
	}
}

// New builds the rule described by cfg.
func New(cfg Config) (Rule, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindBreakout:
		return newBreakout(cfg), nil
	case KindBounce:
		return newBounce(cfg), nil
	case KindPullback:
		return newPullback(cfg), nil
	case KindMeanReversion:
		return newMeanReversion(cfg), nil
	case KindCrossover:
		return newCrossover(cfg), nil
	case KindScoring:
		return newScoring(cfg), nil
	case KindFilter:
		return newFilter(cfg), nil
	}
	return nil, fmt.Errorf("strategy %s: unknown kind %q", cfg.ID, cfg.Kind)
}

// Registry holds rules by id. Register everything at startup; lookups are
// safe for concurrent use once registration is done.
type Registry struct {
	rules map[string]Rule
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Build creates a registry from rule configurations.
func Build(cfgs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, c := range cfgs {
		rule, err := New(c)
		if err != nil {
			return nil, err
		}
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a rule. Duplicate ids are rejected.
func (r *Registry) Register(rule Rule) error {
	if _, dup := r.rules[rule.ID()]; dup {
		return fmt.Errorf("strategy %q registered twice", rule.ID())
	}
	r.rules[rule.ID()] = rule
	r.order = append(r.order, rule.ID())
	return nil
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (Rule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", id, model.ErrNotFound)
	}
	return rule, nil
}

// IDs returns rule ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// All returns rules in registration order.
func (r *Registry) All() []Rule {
	out := make([]Rule, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rules[id])
	}
	return out
}
