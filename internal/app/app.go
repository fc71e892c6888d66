// Package app builds the screener's object graph from configuration and
// runs the long-lived services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trading-screener/config"
	"trading-screener/internal/api"
	"trading-screener/internal/feed"
	"trading-screener/internal/marketdata"
	"trading-screener/internal/marketdata/goapi"
	"trading-screener/internal/marketdata/yahoo"
	"trading-screener/internal/markethours"
	"trading-screener/internal/metrics"
	"trading-screener/internal/model"
	"trading-screener/internal/notification"
	"trading-screener/internal/report"
	"trading-screener/internal/scheduler"
	"trading-screener/internal/screener"
	"trading-screener/internal/store/memory"
	redisstore "trading-screener/internal/store/redis"
	"trading-screener/internal/store/sqlite"
	"trading-screener/internal/strategy"
	"trading-screener/internal/tracker"
	"trading-screener/internal/universe"
)

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Cfg      *config.Config
	Log      *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Calendar *markethours.Calendar
	Store    model.PositionStore
	Feed     *feed.Hub
	Notifier notification.Notifier
	Tracker  *tracker.Tracker
	Screener *screener.Screener

	redis   *redisstore.Store
	closers []func() error
}

// New wires the application. On error everything built so far is closed.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Cfg: cfg, Log: log, Registry: prometheus.NewRegistry()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewMetrics(a.Registry)

	if a.Calendar, err = markethours.New(cfg.Market, log); err != nil {
		return nil, err
	}
	if err = a.openStore(); err != nil {
		return nil, err
	}
	a.Health = metrics.NewHealthStatus(metrics.Probe{Name: "store", Ping: a.Store.Ping})

	history, quotes, movers, err := a.providers()
	if err != nil {
		return nil, err
	}
	if a.Notifier, err = a.notifiers(); err != nil {
		return nil, err
	}

	a.Tracker = tracker.New(a.Store, quotes, a.Notifier, tracker.Config{
		Horizons:       cfg.Horizons(),
		DefaultHorizon: cfg.Tracker.DefaultHorizon,
		Limits:         cfg.Tracker.Limits,
		QuoteTimeout:   cfg.Tracker.QuoteTimeout,
		NotifyTimeout:  cfg.Screener.NotifyTimeout,
	}, tracker.WithMetrics(a.Metrics), tracker.WithLogger(log))

	strategies, err := a.strategies()
	if err != nil {
		return nil, err
	}
	styles := universe.DefaultStyles()
	for name, syms := range cfg.Styles {
		styles[name] = syms
	}
	a.Screener, err = screener.New(history, a.Store, a.Tracker, a.Notifier, strategies, screener.Config{
		Workers:       cfg.Screener.Workers,
		Pace:          cfg.Provider.Pace,
		FetchTimeout:  cfg.Screener.FetchTimeout,
		NotifyTimeout: cfg.Screener.NotifyTimeout,
		Provider:      cfg.Provider.History,
		Location:      a.Calendar.Location(),
	},
		screener.WithMetrics(a.Metrics),
		screener.WithLogger(log),
		screener.WithResolver(universe.NewResolver(styles, movers, log)),
	)
	if err != nil {
		return nil, err
	}
	log.Info("application ready",
		slog.String("store", cfg.Store.Backend),
		slog.String("history", cfg.Provider.History),
		slog.Int("strategies", len(strategies)),
	)
	ready = true
	return a, nil
}

func (a *App) openStore() error {
	switch a.Cfg.Store.Backend {
	case "memory":
		a.Store = memory.New()
	case "sqlite":
		st, err := sqlite.Open(a.Cfg.Store.SQLite)
		if err != nil {
			return err
		}
		a.Store = st
	case "redis":
		st, err := redisstore.New(a.Cfg.Store.Redis)
		if err != nil {
			return err
		}
		st.Breaker().OnStateChange = func(from, to redisstore.State) {
			a.Metrics.StoreCircuitState.Set(float64(to))
			if to == redisstore.StateOpen {
				a.Metrics.StoreCircuitTrips.Inc()
			}
			a.Log.Warn("store circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		a.redis = st
		a.Store = st
	default:
		return fmt.Errorf("unknown store backend %q", a.Cfg.Store.Backend)
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

func (a *App) providers() (marketdata.HistoryProvider, marketdata.QuoteProvider, marketdata.MoversProvider, error) {
	p := a.Cfg.Provider
	var (
		yc *yahoo.Client
		gc *goapi.Client
	)
	pick := func(name string) (any, error) {
		switch name {
		case "yahoo":
			if yc == nil {
				yc = yahoo.New(p.Yahoo)
			}
			return yc, nil
		case "goapi":
			if gc == nil {
				gc = goapi.New(p.GoAPI)
			}
			return gc, nil
		}
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	h, err := pick(p.History)
	if err != nil {
		return nil, nil, nil, err
	}
	q, err := pick(p.Quotes)
	if err != nil {
		return nil, nil, nil, err
	}
	var movers marketdata.MoversProvider
	if p.Movers != "" {
		m, err := pick(p.Movers)
		if err != nil {
			return nil, nil, nil, err
		}
		mp, ok := m.(marketdata.MoversProvider)
		if !ok {
			return nil, nil, nil, fmt.Errorf("provider %q has no movers", p.Movers)
		}
		movers = mp
	}
	return h.(marketdata.HistoryProvider), q.(marketdata.QuoteProvider), movers, nil
}

func (a *App) notifiers() (notification.Notifier, error) {
	n := a.Cfg.Notify
	var sinks notification.Multi
	if n.Log {
		sinks = append(sinks, notification.NewLogNotifier(a.Log))
	}
	if n.Feed {
		a.Feed = feed.NewHub(200, a.Log)
		// A relaying hub receives alerts back from the channel.
		if !(n.PubSub.Enabled && n.PubSub.Relay) {
			sinks = append(sinks, a.Feed)
		}
	}
	if n.Telegram.Enabled {
		sinks = append(sinks, notification.NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID, n.Telegram.BaseURL, n.Telegram.Timeout))
	}
	if n.Webhook.URL != "" {
		sinks = append(sinks, notification.NewWebhookNotifier(n.Webhook.URL, n.Webhook.Timeout))
	}
	if n.Kafka.Enabled {
		k, err := notification.NewKafkaNotifier(n.Kafka.KafkaConfig)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		sinks = append(sinks, k)
	}
	if n.PubSub.Enabled {
		if a.redis == nil {
			return nil, errors.New("pubsub notifications need the redis store")
		}
		sinks = append(sinks, notification.NewPubSubNotifier(a.redis, n.PubSub.Channel))
	}
	return sinks, nil
}

func (a *App) strategies() ([]screener.Strategy, error) {
	cfgs := make([]strategy.Config, len(a.Cfg.Strategies))
	for i, sc := range a.Cfg.Strategies {
		cfgs[i] = sc.Config
	}
	rules, err := strategy.Build(cfgs)
	if err != nil {
		return nil, err
	}

	out := make([]screener.Strategy, 0, len(a.Cfg.Strategies))
	for _, sc := range a.Cfg.Strategies {
		rule, err := rules.Get(sc.ID)
		if err != nil {
			return nil, err
		}
		profile, err := a.Cfg.PlanProfile(sc)
		if err != nil {
			return nil, err
		}
		rank, err := screener.ParseRankKey(sc.RankBy)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
		out = append(out, screener.Strategy{
			Rule:        rule,
			Profile:     profile,
			Universe:    sc.Universe,
			Title:       sc.Title,
			TopN:        sc.TopN,
			RankBy:      rank,
			NoSignal:    sc.NoSignal,
			HistoryDays: sc.HistoryDays,
		})
	}
	return out, nil
}

// StrategyInfos describes the configured strategies for the API.
func (a *App) StrategyInfos() []api.StrategyInfo {
	out := make([]api.StrategyInfo, 0, len(a.Cfg.Strategies))
	for _, sc := range a.Cfg.Strategies {
		st, _ := a.Screener.Strategy(sc.ID)
		out = append(out, api.StrategyInfo{
			ID:          sc.ID,
			Kind:        string(sc.Kind),
			Direction:   string(sc.Direction),
			Description: sc.Description,
			Schedule:    sc.Schedule,
			TopN:        st.TopN,
			Horizon:     a.Tracker.Horizon(sc.ID).String(),
		})
	}
	return out
}

// Scheduler registers the screening, monitoring and recap jobs.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	sc := a.Cfg.Scheduler
	var guard scheduler.SlotGuard
	if sc.SlotGuard == "redis" {
		if a.redis == nil {
			return nil, errors.New("redis slot guard needs the redis store")
		}
		guard = a.redis
	}
	s := scheduler.New(a.Calendar, guard, scheduler.Config{Tick: sc.Tick, Grace: sc.Grace},
		scheduler.WithMetrics(a.Metrics), scheduler.WithLogger(a.Log))

	for _, st := range a.Cfg.Strategies {
		if len(st.Schedule) == 0 {
			continue
		}
		id := st.ID
		err := s.Add(scheduler.Job{ID: "screen:" + id, Times: st.Schedule, Run: func(ctx context.Context) error {
			_, err := a.Screener.Run(ctx, id, nil)
			if err == nil {
				a.Health.RecordRun(id, time.Now())
			}
			return err
		}})
		if err != nil {
			return nil, err
		}
	}

	times, err := scheduler.Every(sc.MonitorFrom, sc.MonitorTo, sc.MonitorEvery)
	if err != nil {
		return nil, err
	}
	if err := s.Add(scheduler.Job{ID: "monitor", Times: times, Run: a.Sweep}); err != nil {
		return nil, err
	}
	if sc.RecapAt != "" {
		err := s.Add(scheduler.Job{ID: "recap", Times: []string{sc.RecapAt}, Run: func(ctx context.Context) error {
			_, err := a.Recap(ctx, "")
			return err
		}})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sweep runs one monitor pass.
func (a *App) Sweep(ctx context.Context) error {
	res, err := a.Tracker.Sweep(ctx)
	if err != nil {
		return err
	}
	a.Health.RecordSweep(time.Now())
	a.Log.Info("sweep complete",
		slog.Int("checked", res.Checked),
		slog.Int("updated", res.Updated),
		slog.Int("no_quote", res.NoQuote),
		slog.Int("events", len(res.Events)),
	)
	return nil
}

// Recap sends the performance recap of the configured lookback window.
func (a *App) Recap(ctx context.Context, strategyID string) (report.Summary, error) {
	since := time.Now().In(a.Calendar.Location()).AddDate(0, 0, -a.Cfg.Scheduler.RecapDays)
	return a.Tracker.Recap(ctx, strategyID, "", since)
}

// Server builds the HTTP API.
func (a *App) Server() *api.Server {
	var runs model.RunJournal
	if j, ok := a.Store.(model.RunJournal); ok {
		runs = j
	}
	return api.NewServer(a.Cfg.API.Config, api.Deps{
		Positions:  a.Store,
		Runs:       runs,
		Stats:      a.Tracker,
		Strategies: a.StrategyInfos(),
		Health:     a.Health,
		Feed:       a.Feed,
		Gatherer:   a.Registry,
	}, a.Log)
}

// Run starts the scheduler, the API server, the health checker and, when
// configured, the alert relay. It returns when ctx is canceled or the API
// server fails.
func (a *App) Run(ctx context.Context) error {
	sched, err := a.Scheduler()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Health.Check(ctx)
	a.Health.StartLivenessChecker(ctx, 30*time.Second)
	a.startRelay(ctx)
	a.Log.Info("scheduler starting",
		slog.Any("jobs", sched.Jobs()),
		slog.String("market", a.Calendar.Status(time.Now())),
	)

	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	var runErr error
	if a.Cfg.API.Enabled {
		runErr = a.Server().Run(ctx)
		cancel()
	} else {
		<-ctx.Done()
	}
	<-done
	return runErr
}

// startRelay feeds the hub from the alert channel when relaying is on.
func (a *App) startRelay(ctx context.Context) bool {
	if !a.Cfg.Notify.PubSub.Relay || a.Feed == nil || a.redis == nil {
		return false
	}
	go a.Feed.Relay(ctx, a.redis, a.Cfg.Notify.PubSub.Channel)
	return true
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
