// Package config loads the screener configuration: a YAML file, secrets
// from the environment (optionally via .env), struct-tag defaults and
// validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-screener/internal/api"
	"trading-screener/internal/marketdata/goapi"
	"trading-screener/internal/marketdata/yahoo"
	"trading-screener/internal/markethours"
	"trading-screener/internal/notification"
	"trading-screener/internal/store/redis"
	"trading-screener/internal/store/sqlite"
	"trading-screener/internal/strategy"
	"trading-screener/internal/tracker"
	"trading-screener/internal/tradeplan"
	"trading-screener/internal/universe"
)

// Config holds all application configuration.
type Config struct {
	Service   string             `yaml:"service" default:"screener"`
	Log       LogConfig          `yaml:"log"`
	Provider  ProviderConfig     `yaml:"provider"`
	Store     StoreConfig        `yaml:"store"`
	Market    markethours.Config `yaml:"market"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	Screener  ScreenerConfig     `yaml:"screener"`
	Tracker   TrackerConfig      `yaml:"tracker"`
	Notify    NotifyConfig       `yaml:"notify"`
	API       APIConfig          `yaml:"api"`

	// Styles add or replace named candidate sets (see universe.DefaultStyles).
	Styles map[string][]string `yaml:"styles"`
	// Profiles are named trade-plan profiles strategies refer to.
	Profiles   map[string]tradeplan.Profile `yaml:"profiles" validate:"dive"`
	Strategies []StrategyConfig             `yaml:"strategies" validate:"min=1,dive"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json text"`
}

// ProviderConfig picks the market data adapters per call.
type ProviderConfig struct {
	History string        `yaml:"history" default:"yahoo" validate:"oneof=yahoo goapi"`
	Quotes  string        `yaml:"quotes" default:"yahoo" validate:"oneof=yahoo goapi"`
	Movers  string        `yaml:"movers" validate:"omitempty,oneof=goapi"`
	Pace    time.Duration `yaml:"pace" default:"250ms"`
	Yahoo   yahoo.Config  `yaml:"yahoo"`
	GoAPI   goapi.Config  `yaml:"goapi"`
}

type StoreConfig struct {
	Backend string        `yaml:"backend" default:"sqlite" validate:"oneof=sqlite redis memory"`
	SQLite  sqlite.Config `yaml:"sqlite"`
	Redis   redis.Config  `yaml:"redis"`
}

// SchedulerConfig drives the run command. Monitor sweeps fire every
// MonitorEvery between MonitorFrom and MonitorTo.
type SchedulerConfig struct {
	Tick         time.Duration `yaml:"tick" default:"15s"`
	Grace        time.Duration `yaml:"grace" default:"10m"`
	SlotGuard    string        `yaml:"slot_guard" default:"memory" validate:"oneof=memory redis"`
	MonitorEvery time.Duration `yaml:"monitor_every" default:"15m" validate:"gte=1m"`
	MonitorFrom  string        `yaml:"monitor_from" default:"09:00" validate:"datetime=15:04"`
	MonitorTo    string        `yaml:"monitor_to" default:"16:00" validate:"datetime=15:04"`
	RecapAt      string        `yaml:"recap_at" default:"16:15" validate:"omitempty,datetime=15:04"`
	RecapDays    int           `yaml:"recap_days" default:"1" validate:"gte=1"`
}

type ScreenerConfig struct {
	Workers       int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" default:"15s"`
	NotifyTimeout time.Duration `yaml:"notify_timeout" default:"10s"`
}

type TrackerConfig struct {
	DefaultHorizon time.Duration  `yaml:"default_horizon" default:"24h"`
	QuoteTimeout   time.Duration  `yaml:"quote_timeout" default:"15s"`
	Limits         tracker.Limits `yaml:"limits"`
}

type NotifyConfig struct {
	Log      bool           `yaml:"log" default:"true"`
	Feed     bool           `yaml:"feed" default:"true"`
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
}

type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	BaseURL  string        `yaml:"base_url" default:"https://api.telegram.org"`
	Timeout  time.Duration `yaml:"timeout" default:"10s"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
}

type KafkaConfig struct {
	Enabled                  bool `yaml:"enabled"`
	notification.KafkaConfig `yaml:",inline"`
}

// PubSubConfig publishes alerts on a Redis channel; Relay makes the feed
// rebroadcast alerts published by other processes.
type PubSubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Relay   bool   `yaml:"relay"`
	Channel string `yaml:"channel" default:"alerts"`
}

type APIConfig struct {
	Enabled    bool `yaml:"enabled" default:"true"`
	api.Config `yaml:",inline"`
}

// StrategyConfig is a rule plus everything a run needs around it.
type StrategyConfig struct {
	strategy.Config `yaml:",inline"`

	Title    string   `yaml:"title"`
	Schedule []string `yaml:"schedule" validate:"dive,datetime=15:04"` // HH:MM screen times
	// Profile names an entry of Config.Profiles; Plan is an inline profile.
	Profile     string             `yaml:"profile"`
	Plan        *tradeplan.Profile `yaml:"plan"`
	Universe    universe.Config    `yaml:"universe"`
	TopN        int                `yaml:"top_n" default:"5" validate:"gte=1"`
	RankBy      string             `yaml:"rank_by" default:"confidence" validate:"oneof=confidence volume_ratio value volume"`
	NoSignal    string             `yaml:"no_signal_message" default:"No signal today."`
	Horizon     time.Duration      `yaml:"horizon"`
	HistoryDays int                `yaml:"history_days" validate:"gte=0"`
}

// Load reads .env (if present) and the YAML file at path.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a configuration from YAML bytes and the environment.
//
// Defaults are applied before decoding so an explicit false or zero in the
// file survives; list and map entries only exist after decoding and get
// their defaults afterwards.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyEnv()
	if err := c.entryDefaults(); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// applyEnv lets secrets live outside the YAML file.
func (c *Config) applyEnv() {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("GOAPI_API_KEY", &c.Provider.GoAPI.APIKey)
	set("TELEGRAM_BOT_TOKEN", &c.Notify.Telegram.BotToken)
	set("TELEGRAM_CHAT_ID", &c.Notify.Telegram.ChatID)
	set("REDIS_PASSWORD", &c.Store.Redis.Password)
	set("REDIS_ADDR", &c.Store.Redis.Addr)
	set("WEBHOOK_URL", &c.Notify.Webhook.URL)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) entryDefaults() error {
	for name, p := range c.Profiles {
		if err := defaults.Set(&p); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		c.Profiles[name] = p
	}
	for i := range c.Strategies {
		if err := defaults.Set(&c.Strategies[i]); err != nil {
			return fmt.Errorf("strategy %s: %w", c.Strategies[i].ID, err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags, then rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Provider.History == "goapi" || c.Provider.Quotes == "goapi" || c.Provider.Movers == "goapi" {
		if c.Provider.GoAPI.APIKey == "" {
			errs = append(errs, errors.New("provider.goapi.api_key (or GOAPI_API_KEY) is required"))
		}
	}
	if c.Scheduler.SlotGuard == "redis" && c.Store.Backend != "redis" {
		errs = append(errs, errors.New("scheduler.slot_guard redis needs store.backend redis"))
	}
	if c.Notify.PubSub.Enabled || c.Notify.PubSub.Relay {
		if c.Store.Backend != "redis" {
			errs = append(errs, errors.New("notify.pubsub needs store.backend redis"))
		}
	}
	if t := c.Notify.Telegram; t.Enabled && (t.BotToken == "" || t.ChatID == "") {
		errs = append(errs, errors.New("notify.telegram needs bot_token and chat_id"))
	}
	if k := c.Notify.Kafka; k.Enabled && len(k.Brokers) == 0 {
		errs = append(errs, errors.New("notify.kafka needs brokers (or KAFKA_BROKERS)"))
	}
	if c.Scheduler.MonitorTo < c.Scheduler.MonitorFrom {
		errs = append(errs, errors.New("scheduler.monitor_to before monitor_from"))
	}
	for name, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", name, err))
		}
	}

	resolver := universe.NewResolver(c.Styles, nil, nil)
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("strategy %s: duplicate id", s.ID))
		}
		seen[s.ID] = true
		if _, err := strategy.New(s.Config); err != nil {
			errs = append(errs, err)
		}
		if _, err := c.PlanProfile(s); err != nil {
			errs = append(errs, err)
		}
		if s.Universe.Source == universe.FromStyle && !resolver.HasStyle(s.Universe.Style) {
			errs = append(errs, fmt.Errorf("strategy %s: unknown style %q", s.ID, s.Universe.Style))
		}
		if s.Universe.Source == universe.FromMovers && c.Provider.Movers == "" {
			errs = append(errs, fmt.Errorf("strategy %s: movers universe needs provider.movers", s.ID))
		}
	}
	return errors.Join(errs...)
}

// PlanProfile returns the trade-plan profile of a strategy: the inline plan,
// else the named profile.
func (c *Config) PlanProfile(s StrategyConfig) (tradeplan.Profile, error) {
	switch {
	case s.Plan != nil && s.Profile != "":
		return tradeplan.Profile{}, fmt.Errorf("strategy %s: set either profile or plan, not both", s.ID)
	case s.Plan != nil:
		if err := s.Plan.Validate(); err != nil {
			return tradeplan.Profile{}, fmt.Errorf("strategy %s plan: %w", s.ID, err)
		}
		return *s.Plan, nil
	case s.Profile != "":
		p, ok := c.Profiles[s.Profile]
		if !ok {
			return tradeplan.Profile{}, fmt.Errorf("strategy %s: unknown profile %q", s.ID, s.Profile)
		}
		return p, nil
	}
	return tradeplan.Profile{}, fmt.Errorf("strategy %s: needs a profile or plan", s.ID)
}

// Horizons maps strategy id to its configured holding horizon.
func (c *Config) Horizons() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Horizon > 0 {
			out[s.ID] = s.Horizon
		}
	}
	return out
}
