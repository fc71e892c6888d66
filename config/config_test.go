package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trading-screener/internal/strategy"
	"trading-screener/internal/tradeplan"
)

const sample = `
log:
  level: debug
provider:
  history: yahoo
store:
  backend: memory
api:
  enabled: false
notify:
  feed: false
profiles:
  scalp:
    model: fixed_pct
    target_pct: 3
    stop_pct: 2
strategies:
  - id: bsjp
    kind: filter
    direction: BUY
    title: Beli Sore Jual Pagi
    schedule: ["14:50"]
    profile: scalp
    horizon: 20h
    no_signal_message: Tidak ada sinyal hari ini.
    universe:
      source: style
      style: BSJP
    filters:
      min_price: 50
      green_candle: true
      volume_ratio:
        - period: 20
          min: 1.5
  - id: rsi_rebound
    kind: mean_reversion
    direction: BUY
    schedule: ["09:15", "11:30"]
    plan:
      model: atr
      atr_multiplier: 1.5
      reward_risk: 2
    mean_reversion:
      oversold: 30
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GOAPI_API_KEY", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "REDIS_PASSWORD", "REDIS_ADDR", "WEBHOOK_URL", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}
}

// ────────────────────────────────────────────────────────────
// Parsing and defaults
// ────────────────────────────────────────────────────────────

func TestParse_Sample(t *testing.T) {
	clearEnv(t)
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Errorf("log=%+v", c.Log)
	}
	if c.API.Enabled {
		t.Error("explicit api.enabled=false was overwritten by the default")
	}
	if c.Notify.Feed || !c.Notify.Log {
		t.Errorf("notify=%+v", c.Notify)
	}
	if c.Screener.Workers != 4 || c.Scheduler.Grace != 10*time.Minute || c.Provider.Yahoo.Suffix != ".JK" {
		t.Errorf("defaults not applied: screener=%+v grace=%v suffix=%q", c.Screener, c.Scheduler.Grace, c.Provider.Yahoo.Suffix)
	}
	if c.API.Addr != ":8080" {
		t.Errorf("api addr=%q", c.API.Addr)
	}

	bsjp := c.Strategies[0]
	if bsjp.Kind != strategy.KindFilter || bsjp.TopN != 5 || bsjp.RankBy != "confidence" {
		t.Errorf("bsjp=%+v", bsjp)
	}
	if bsjp.Filters.MinPrice == nil || *bsjp.Filters.MinPrice != 50 || len(bsjp.Filters.VolumeRatio) != 1 {
		t.Errorf("filters=%+v", bsjp.Filters)
	}
	if bsjp.NoSignal != "Tidak ada sinyal hari ini." {
		t.Errorf("no signal=%q", bsjp.NoSignal)
	}

	p, err := c.PlanProfile(bsjp)
	if err != nil || p.TargetPct != 3 || p.TickSize != 1 {
		t.Errorf("named profile=%+v err=%v", p, err)
	}
	rsi := c.Strategies[1]
	if rsi.NoSignal != "No signal today." || rsi.Universe.Source != "watchlist" {
		t.Errorf("rsi defaults=%+v", rsi)
	}
	p, err = c.PlanProfile(rsi)
	if err != nil || p.Model != tradeplan.ATR || p.RewardRisk != 2 || p.TickSize != 1 {
		t.Errorf("inline plan=%+v err=%v", p, err)
	}

	h := c.Horizons()
	if h["bsjp"] != 20*time.Hour {
		t.Errorf("horizons=%v", h)
	}
	if _, ok := h["rsi_rebound"]; ok {
		t.Error("strategy without horizon should use the tracker default")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOAPI_API_KEY", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	yml := strings.Replace(sample, "history: yahoo", "history: goapi", 1)

	c, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Provider.GoAPI.APIKey != "secret" {
		t.Errorf("api key=%q", c.Provider.GoAPI.APIKey)
	}
	if len(c.Notify.Kafka.Brokers) != 2 {
		t.Errorf("brokers=%v", c.Notify.Kafka.Brokers)
	}
}

// ────────────────────────────────────────────────────────────
// Validation
// ────────────────────────────────────────────────────────────

func TestParse_Rejects(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"goapi without key", "history: yahoo", "history: goapi", "api_key"},
		{"unknown profile", "profile: scalp", "profile: swing", "unknown profile"},
		{"unknown style", "style: BSJP", "style: NOPE", "unknown style"},
		{"bad schedule", `["14:50"]`, `["2:50pm"]`, "Schedule"},
		{"missing block", "mean_reversion:\n      oversold: 30", "", "mean_reversion"},
		{"duplicate id", "id: rsi_rebound", "id: bsjp", "duplicate"},
		{"unknown field", "title: Beli", "titel: Beli", "titel"},
		{"redis guard on memory store", "backend: memory", "backend: memory\nscheduler:\n  slot_guard: redis", "slot_guard"},
		{"bad log level", "level: debug", "level: loud", "Level"},
	}
	for _, tt := range tests {
		yml := strings.Replace(sample, tt.from, tt.to, 1)
		_, err := Parse([]byte(yml))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(cfgPath, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(envPath, []byte("TELEGRAM_BOT_TOKEN=abc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("TELEGRAM_BOT_TOKEN") })

	c, err := Load(cfgPath, envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Notify.Telegram.BotToken != "abc" {
		t.Errorf("bot token=%q", c.Notify.Telegram.BotToken)
	}

	if _, err := Load(cfgPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join("..", "config.example.yaml"), filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if len(c.Strategies) != 5 {
		t.Errorf("got %d strategies, want 5", len(c.Strategies))
	}
	for _, s := range c.Strategies {
		if _, err := c.PlanProfile(s); err != nil {
			t.Errorf("%s: %v", s.ID, err)
		}
	}
}
