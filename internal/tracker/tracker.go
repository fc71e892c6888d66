package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-screener/internal/marketdata"
	"trading-screener/internal/metrics"
	"trading-screener/internal/model"
	"trading-screener/internal/notification"
	"trading-screener/internal/report"
)

// ErrInvalidSignal means the signal's levels break stop < entry < targets
// (BUY) or the inverse (SELL).
var ErrInvalidSignal = errors.New("invalid signal")

// Config holds tracker settings.
type Config struct {
	// Horizons maps strategy id to holding horizon; DefaultHorizon covers
	// strategies without an entry.
	Horizons       map[string]time.Duration
	DefaultHorizon time.Duration
	Limits         Limits
	QuoteTimeout   time.Duration
	NotifyTimeout  time.Duration
}

// Tracker owns position lifecycle side effects: persisting new positions,
// sweeping open ones against fresh quotes, and notifying transitions.
type Tracker struct {
	mu      sync.Mutex // serializes Accept
	sweepMu sync.Mutex

	store   model.PositionStore
	quotes  marketdata.QuoteProvider
	notify  notification.Notifier
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithMetrics records transitions and open-position gauges.
func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New creates a tracker.
func New(store model.PositionStore, quotes marketdata.QuoteProvider, notify notification.Notifier, cfg Config, opts ...Option) *Tracker {
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 24 * time.Hour
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 15 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	t := &Tracker{
		store:  store,
		quotes: quotes,
		notify: notify,
		cfg:    cfg,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With(slog.String("component", "tracker"))
	return t
}

// Horizon returns the holding horizon of a strategy.
func (t *Tracker) Horizon(strategyID string) time.Duration {
	if h, ok := t.cfg.Horizons[strategyID]; ok && h > 0 {
		return h
	}
	return t.cfg.DefaultHorizon
}

// ValidateSignal checks the ordering of a signal's levels.
func ValidateSignal(s model.Signal) error {
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	if s.Symbol == "" || s.StrategyID == "" {
		return fmt.Errorf("%w: missing symbol or strategy", ErrInvalidSignal)
	}
	if !(s.Entry > 0) || len(s.Targets) == 0 {
		return fmt.Errorf("%w: entry %v with %d targets", ErrInvalidSignal, s.Entry, len(s.Targets))
	}
	sign := s.Direction.Sign()
	if !((s.Entry-s.StopLoss)*sign > 0) {
		return fmt.Errorf("%w: stop %v vs entry %v", ErrInvalidSignal, s.StopLoss, s.Entry)
	}
	prev := s.Entry
	for _, tg := range s.Targets {
		if !((tg.Price-prev)*sign > 0) {
			return fmt.Errorf("%w: target %s %v", ErrInvalidSignal, tg.Label, tg.Price)
		}
		prev = tg.Price
	}
	return nil
}

// Accept records sig as a new OPEN position. Calls are serialized so the
// at-most-one-open check and the create happen as one step; the store
// enforces the same invariant for writers in other processes.
//
// Either the full position is written or nothing is. A second signal for
// a strategy and symbol that is still open fails with
// model.ErrDuplicatePosition.
func (t *Tracker) Accept(ctx context.Context, sig model.Signal) (model.Position, error) {
	if err := ValidateSignal(sig); err != nil {
		return model.Position{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Position{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	open, err := t.store.List(ctx, model.PositionFilter{Status: model.StatusOpen})
	if err != nil {
		return model.Position{}, fmt.Errorf("list open positions: %w", err)
	}
	if err := t.cfg.Limits.check(open, sig); err != nil {
		return model.Position{}, err
	}

	now := t.now()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = now
	}
	pos := model.Position{
		ID:        uuid.NewString(),
		Signal:    sig,
		Status:    model.StatusOpen,
		OpenedAt:  now,
		ExpiresAt: sig.GeneratedAt.Add(t.Horizon(sig.StrategyID)),
		Version:   1,
	}
	if err := t.store.Create(ctx, pos); err != nil {
		return model.Position{}, fmt.Errorf("create position %s: %w", sig.Key(), err)
	}
	if t.metrics != nil {
		t.metrics.PositionsOpen.WithLabelValues(sig.StrategyID).Inc()
	}
	t.log.InfoContext(ctx, "position opened",
		slog.String("id", pos.ID),
		slog.String("strategy", sig.StrategyID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("entry", sig.Entry),
		slog.Time("expires_at", pos.ExpiresAt),
	)
	return pos, nil
}

// SweepResult summarizes one monitor sweep.
type SweepResult struct {
	Checked   int           `json:"checked"`
	NoQuote   int           `json:"no_quote"`
	Updated   int           `json:"updated"`
	Conflicts int           `json:"conflicts"`
	Failed    int           `json:"failed"`
	Events    []model.Event `json:"events"`
}

// Sweep observes every OPEN position against the latest quotes. New state
// is persisted before its notification goes out; notification failures
// never roll state back. Positions without a quote are left alone unless
// expired, in which case the last observed price (or the entry) settles
// them.
func (t *Tracker) Sweep(ctx context.Context) (SweepResult, error) {
	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	start := t.now()
	var res SweepResult
	defer func() {
		if t.metrics != nil {
			t.metrics.SweepDuration.Observe(t.now().Sub(start).Seconds())
		}
	}()

	open, err := t.store.List(ctx, model.PositionFilter{Status: model.StatusOpen})
	if err != nil {
		return res, fmt.Errorf("list open positions: %w", err)
	}
	if len(open) == 0 {
		return res, nil
	}

	quotes := t.fetchQuotes(ctx, open)
	now := t.now()

	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		price := 0.0
		if q, ok := quotes[pos.Signal.Symbol]; ok {
			price = q.Price
		}
		if !(price > 0) {
			res.NoQuote++
			if pos.ExpiresAt.IsZero() || !now.After(pos.ExpiresAt) {
				continue
			}
			// Expired without a quote: settle at the last observed price,
			// or flat at entry when the symbol never traded.
			price = pos.LastPrice
			if !(price > 0) {
				price = pos.Signal.Entry
			}
		}

		next, events := Observe(pos, price, now)
		if next.Status == pos.Status && next.TiersHit == pos.TiersHit && next.LastPrice == pos.LastPrice {
			continue
		}

		stored, err := t.store.Update(ctx, next)
		switch {
		case errors.Is(err, model.ErrConflict):
			// another sweeper got there first; its notification covers it
			res.Conflicts++
			continue
		case errors.Is(err, model.ErrStoreUnavailable):
			return res, err
		case err != nil:
			res.Failed++
			t.log.ErrorContext(ctx, "persist position failed",
				slog.String("id", pos.ID), slog.String("error", err.Error()))
			continue
		}
		res.Updated++

		for _, ev := range events {
			ev.Position = stored
			res.Events = append(res.Events, ev)
			t.emit(ctx, ev)
		}
	}
	return res, nil
}

func (t *Tracker) fetchQuotes(ctx context.Context, open []model.Position) map[string]model.Quote {
	seen := make(map[string]bool, len(open))
	symbols := make([]string, 0, len(open))
	for _, p := range open {
		if !seen[p.Signal.Symbol] {
			seen[p.Signal.Symbol] = true
			symbols = append(symbols, p.Signal.Symbol)
		}
	}
	sort.Strings(symbols)

	qctx, cancel := context.WithTimeout(ctx, t.cfg.QuoteTimeout)
	defer cancel()
	quotes, err := t.quotes.Quotes(qctx, symbols)
	if err != nil {
		// Partial results are still usable.
		t.log.WarnContext(ctx, "quote fetch failed",
			slog.Int("symbols", len(symbols)),
			slog.String("kind", marketdata.Classify(err)),
			slog.String("error", err.Error()))
	}
	if quotes == nil {
		quotes = map[string]model.Quote{}
	}
	return quotes
}

func (t *Tracker) emit(ctx context.Context, ev model.Event) {
	s := ev.Position.Signal
	t.log.InfoContext(ctx, "position event",
		slog.String("kind", string(ev.Kind)),
		slog.String("id", ev.Position.ID),
		slog.String("strategy", s.StrategyID),
		slog.String("symbol", s.Symbol),
		slog.Float64("price", ev.Price),
		slog.Float64("realized_pct", ev.Position.RealizedPct),
	)
	if t.metrics != nil {
		t.metrics.Transition(s.StrategyID, string(ev.Kind))
		if ev.Position.Status.Terminal() {
			t.metrics.PositionsOpen.WithLabelValues(s.StrategyID).Dec()
		}
	}
	ok := notification.Deliver(ctx, t.notify, report.Event(ev), t.cfg.NotifyTimeout, t.log)
	t.metrics.Notification(string(notification.KindEvent), ok)
}

// Summary computes statistics for a strategy's positions opened at or
// after since. An empty strategy id covers every strategy.
func (t *Tracker) Summary(ctx context.Context, strategyID string, since time.Time) (report.Summary, error) {
	ps, err := t.store.List(ctx, model.PositionFilter{StrategyID: strategyID})
	if err != nil {
		return report.Summary{}, err
	}
	kept := ps[:0]
	for _, p := range ps {
		if !p.OpenedAt.Before(since) {
			kept = append(kept, p)
		}
	}
	return report.Summarize(strategyID, kept), nil
}

// Recap sends the performance recap for positions opened since.
func (t *Tracker) Recap(ctx context.Context, strategyID, title string, since time.Time) (report.Summary, error) {
	s, err := t.Summary(ctx, strategyID, since)
	if err != nil {
		return s, err
	}
	if title == "" {
		title = "All strategies"
		if strategyID != "" {
			title = strategyID
		}
	}
	ok := notification.Deliver(ctx, t.notify, report.Recap(title, s, t.now()), t.cfg.NotifyTimeout, t.log)
	t.metrics.Notification(string(notification.KindRecap), ok)
	return s, nil
}
