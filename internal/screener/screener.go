// Package screener runs one strategy over a candidate universe: fetch
// history, evaluate the rule, plan the trade, accept the best candidates
// as positions and send the run summary.
package screener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trading-screener/internal/logger"
	"trading-screener/internal/marketdata"
	"trading-screener/internal/metrics"
	"trading-screener/internal/model"
	"trading-screener/internal/notification"
	"trading-screener/internal/report"
	"trading-screener/internal/strategy"
	"trading-screener/internal/tradeplan"
	"trading-screener/internal/universe"
)

// Strategy binds a rule to everything a run needs around it.
type Strategy struct {
	Rule        strategy.Rule
	Profile     tradeplan.Profile
	Universe    universe.Config
	Title       string
	TopN        int
	RankBy      RankKey
	NoSignal    string
	HistoryDays int // calendar days of history to request; 0 derives it from the rule
}

// Config holds orchestrator settings.
type Config struct {
	Workers       int
	Pace          time.Duration // minimum gap between history requests
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	Provider      string // label for fetch metrics
	Location      *time.Location
}

// Acceptor turns a signal into an OPEN position.
type Acceptor interface {
	Accept(ctx context.Context, sig model.Signal) (model.Position, error)
}

// Screener is safe for concurrent runs of different strategies.
type Screener struct {
	history    marketdata.HistoryProvider
	store      model.PositionStore
	accept     Acceptor
	notify     notification.Notifier
	resolver   *universe.Resolver
	strategies map[string]Strategy
	pace       *pacer
	metrics    *metrics.Metrics
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

// Option customizes a Screener.
type Option func(*Screener)

func WithMetrics(m *metrics.Metrics) Option    { return func(s *Screener) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option         { return func(s *Screener) { s.log = l } }
func WithClock(now func() time.Time) Option    { return func(s *Screener) { s.now = now } }
func WithResolver(r *universe.Resolver) Option { return func(s *Screener) { s.resolver = r } }

// New creates a screener over the given strategies.
func New(history marketdata.HistoryProvider, store model.PositionStore, accept Acceptor,
	notify notification.Notifier, strategies []Strategy, cfg Config, opts ...Option) (*Screener, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "history"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Screener{
		history:    history,
		store:      store,
		accept:     accept,
		notify:     notify,
		strategies: make(map[string]Strategy, len(strategies)),
		pace:       newPacer(cfg.Pace),
		cfg:        cfg,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, st := range strategies {
		id := st.Rule.ID()
		if _, dup := s.strategies[id]; dup {
			return nil, fmt.Errorf("strategy %q configured twice", id)
		}
		if st.TopN <= 0 {
			st.TopN = 5
		}
		if st.RankBy == "" {
			st.RankBy = RankConfidence
		}
		if st.NoSignal == "" {
			st.NoSignal = "No signal today."
		}
		s.strategies[id] = st
	}
	for _, o := range opts {
		o(s)
	}
	if s.resolver == nil {
		s.resolver = universe.NewResolver(nil, nil, s.log)
	}
	s.log = s.log.With(slog.String("component", "screener"))
	return s, nil
}

// Strategies returns the configured strategy ids, sorted.
func (s *Screener) Strategies() []string {
	ids := make([]string, 0, len(s.strategies))
	for id := range s.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Strategy returns one configured strategy.
func (s *Screener) Strategy(id string) (Strategy, bool) {
	st, ok := s.strategies[id]
	return st, ok
}

// Report describes one screening run.
type Report struct {
	RunID      string         `json:"run_id"`
	StrategyID string         `json:"strategy_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Candidates int            `json:"candidates"`
	Evaluated  int            `json:"evaluated"`
	Rejected   int            `json:"rejected"`
	Skipped    map[string]int `json:"skipped"` // by reason
	Passed     int            `json:"passed"`
	Duplicates int            `json:"duplicates"`
	Signals    []model.Signal `json:"signals"`
	Notified   bool           `json:"notified"`
}

func (r Report) skippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// outcome of one candidate evaluation.
type outcome struct {
	symbol string
	draft  *strategy.Draft
	err    error
}

// Run screens symbols with the strategy. A nil symbols slice resolves the
// strategy's configured universe.
//
// The run aborts, without a summary, when the position store is
// unreachable or ctx is canceled. Otherwise exactly one summary alert is
// sent, carrying the configured no-signal message when nothing passed.
func (s *Screener) Run(ctx context.Context, strategyID string, symbols []string) (Report, error) {
	st, ok := s.strategies[strategyID]
	if !ok {
		return Report{}, fmt.Errorf("strategy %q: %w", strategyID, model.ErrNotFound)
	}
	start := s.now()
	rep := Report{
		RunID:      logger.NewRunID(strategyID, start),
		StrategyID: strategyID,
		StartedAt:  start,
		Skipped:    map[string]int{},
	}
	ctx = logger.WithRunID(ctx, rep.RunID)
	log := s.log.With(logger.Attrs(ctx)...).With(slog.String("strategy", strategyID))

	rep, err := s.run(ctx, st, symbols, rep, log)
	rep.FinishedAt = s.now()

	result := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
	case errors.Is(err, model.ErrStoreUnavailable):
		result = "aborted"
	case err != nil:
		result = "error"
	}
	if s.metrics != nil {
		s.metrics.RunsTotal.WithLabelValues(strategyID, result).Inc()
		s.metrics.RunDuration.WithLabelValues(strategyID).Observe(rep.FinishedAt.Sub(start).Seconds())
	}
	if err != nil {
		log.ErrorContext(ctx, "screening run failed", slog.String("outcome", result), slog.String("error", err.Error()))
		return rep, err
	}
	log.InfoContext(ctx, "screening run complete",
		slog.Int("candidates", rep.Candidates),
		slog.Int("evaluated", rep.Evaluated),
		slog.Int("rejected", rep.Rejected),
		slog.Int("skipped", rep.skippedTotal()),
		slog.Int("passed", rep.Passed),
		slog.Int("signals", len(rep.Signals)),
		slog.Duration("elapsed", rep.FinishedAt.Sub(start)),
	)
	s.journal(ctx, rep, log)
	return rep, nil
}

func (s *Screener) run(ctx context.Context, st Strategy, symbols []string, rep Report, log *slog.Logger) (Report, error) {
	id := st.Rule.ID()
	if err := s.store.Ping(ctx); err != nil {
		return rep, fmt.Errorf("position store: %w", err)
	}

	if symbols == nil {
		var err error
		if symbols, err = s.resolver.Resolve(ctx, st.Universe); err != nil {
			return rep, fmt.Errorf("resolve universe: %w", err)
		}
	} else {
		symbols = universe.Normalize(symbols, 0)
	}
	rep.Candidates = len(symbols)

	var passed []*strategy.Draft
	for o := range s.evaluate(ctx, st, symbols) {
		switch {
		case o.err == nil:
			rep.Evaluated++
			rep.Passed++
			passed = append(passed, o.draft)
			s.metrics.Candidate(id, "passed")
		case errors.Is(o.err, strategy.ErrRejected):
			rep.Evaluated++
			rep.Rejected++
			s.metrics.Candidate(id, "rejected")
			log.DebugContext(ctx, "candidate rejected", slog.String("symbol", o.symbol), slog.String("reason", o.err.Error()))
		default:
			reason := marketdata.Classify(o.err)
			if errors.Is(o.err, strategy.ErrNotEvaluable) {
				reason = "not_evaluable"
			}
			if reason == marketdata.ReasonCanceled {
				continue
			}
			rep.Skipped[reason]++
			s.metrics.Candidate(id, "skipped_"+reason)
			log.InfoContext(ctx, "candidate skipped",
				slog.String("symbol", o.symbol), slog.String("reason", reason), slog.String("error", o.err.Error()))
		}
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// Drop symbols already open for this strategy before ranking so the
	// top-N is filled with new names.
	open, err := s.store.List(ctx, model.PositionFilter{Status: model.StatusOpen, StrategyID: id})
	if err != nil {
		return rep, fmt.Errorf("list open positions: %w", err)
	}
	held := make(map[string]bool, len(open))
	for _, p := range open {
		held[p.Signal.Symbol] = true
	}
	fresh := passed[:0]
	for _, d := range passed {
		if held[d.Symbol] {
			rep.Duplicates++
			continue
		}
		fresh = append(fresh, d)
	}
	Rank(fresh, st.RankBy)

	for _, d := range fresh {
		if len(rep.Signals) == st.TopN {
			break
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		sig, err := s.signal(st, d)
		if err != nil {
			log.WarnContext(ctx, "trade plan rejected", slog.String("symbol", d.Symbol), slog.String("error", err.Error()))
			continue
		}
		pos, err := s.accept.Accept(ctx, sig)
		switch {
		case err == nil:
			rep.Signals = append(rep.Signals, pos.Signal)
			if s.metrics != nil {
				s.metrics.SignalsTotal.WithLabelValues(id, string(sig.Direction)).Inc()
			}
		case errors.Is(err, model.ErrStoreUnavailable),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return rep, err
		case errors.Is(err, model.ErrDuplicatePosition):
			rep.Duplicates++
		default:
			log.WarnContext(ctx, "accept failed", slog.String("symbol", d.Symbol), slog.String("error", err.Error()))
		}
	}

	at := s.now()
	alert := report.RunSummary(id, st.Title, rep.Signals, st.NoSignal, at)
	rep.Notified = notification.Deliver(ctx, s.notify, alert, s.cfg.NotifyTimeout, log)
	s.metrics.Notification(string(notification.KindSignal), rep.Notified)
	return rep, nil
}

// evaluate fans symbols out to the worker pool. Evaluation has no side
// effects; results arrive in completion order.
func (s *Screener) evaluate(ctx context.Context, st Strategy, symbols []string) <-chan outcome {
	jobs := make(chan string)
	out := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < min(s.cfg.Workers, max(len(symbols), 1)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				d, err := s.evaluateOne(ctx, st, sym)
				select {
				case out <- outcome{symbol: sym, draft: d, err: err}:
				case <-ctx.Done():
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, sym := range symbols {
			select {
			case jobs <- sym:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (s *Screener) evaluateOne(ctx context.Context, st Strategy, symbol string) (*strategy.Draft, error) {
	if err := s.pace.Wait(ctx); err != nil {
		return nil, err
	}
	to := s.now()
	from := to.AddDate(0, 0, -s.historyDays(st))

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	start := time.Now()
	bars, err := s.history.History(fctx, symbol, from, to)
	cancel()
	s.metrics.ObserveFetch(s.cfg.Provider, "history", start, marketdata.Classify(err))
	if err != nil {
		return nil, err
	}
	return st.Rule.Evaluate(strategy.Input{Symbol: symbol, Bars: bars})
}

// historyDays converts the rule's bar requirement to calendar days, with
// room for weekends and exchange holidays.
func (s *Screener) historyDays(st Strategy) int {
	if st.HistoryDays > 0 {
		return st.HistoryDays
	}
	bars := max(st.Rule.MinBars(), st.Rule.Spec().HighWindow)
	return bars*7/5 + 20
}

func (s *Screener) signal(st Strategy, d *strategy.Draft) (model.Signal, error) {
	plan, err := tradeplan.Compute(d.Entry, d.Direction, tradeplan.Volatility{ATR: d.ATR}, st.Profile)
	if err != nil {
		return model.Signal{}, err
	}
	at := s.now()
	day := d.BarTime
	if day.IsZero() {
		day = at
	}
	sig := model.Signal{
		Symbol:      d.Symbol,
		StrategyID:  d.StrategyID,
		Direction:   d.Direction,
		Entry:       plan.Entry,
		GeneratedAt: at,
		TradingDay:  day.In(s.cfg.Location).Format("2006-01-02"),
		Rationale:   d.Rationale,
		Confidence:  d.Confidence,
		VolumeRatio: d.VolumeRatio,
		Value:       d.Value,
		Volume:      d.Volume,
		ATR:         d.ATR,
	}
	plan.Apply(&sig)
	return sig, nil
}

func (s *Screener) journal(ctx context.Context, rep Report, log *slog.Logger) {
	j, ok := s.store.(model.RunJournal)
	if !ok {
		return
	}
	rec := model.RunRecord{
		ID:         rep.RunID,
		StrategyID: rep.StrategyID,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Candidates: rep.Candidates,
		Evaluated:  rep.Evaluated,
		Skipped:    rep.skippedTotal(),
		Passed:     rep.Passed,
		Signals:    rep.Signals,
	}
	if err := j.RecordRun(ctx, rec); err != nil {
		log.WarnContext(ctx, "journal run failed", slog.String("error", err.Error()))
	}
}
