package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-screener/config"
	"trading-screener/internal/model"
	"trading-screener/internal/notification"
)

const memoryConfig = `
store:
  backend: memory
notify:
  log: true
  feed: true
scheduler:
  monitor_every: 30m
  monitor_from: "09:00"
  monitor_to: "10:00"
  recap_at: "16:15"
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
    schedule: ["15:50"]
    profile: scalp
    top_n: 3
    horizon: 24h
    filters:
      min_price: 50
      volume_ratio:
        - {period: 20, min: 2}
  - id: manual
    kind: filter
    direction: BUY
    profile: scalp
    filters:
      min_price: 50
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg, err := config.Parse([]byte(memoryConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// ────────────────────────────────────────────────────────────────
// Wiring
// ────────────────────────────────────────────────────────────────

func TestNew_MemoryBackend(t *testing.T) {
	a := newTestApp(t)

	if a.Feed == nil {
		t.Error("feed hub should be built when notify.feed is on")
	}
	if err := a.Store.Ping(context.Background()); err != nil {
		t.Errorf("store ping: %v", err)
	}
	if _, ok := a.Screener.Strategy("bsjp"); !ok {
		t.Error("bsjp not registered with the screener")
	}
	if h := a.Tracker.Horizon("bsjp").String(); h != "24h0m0s" {
		t.Errorf("bsjp horizon = %s", h)
	}
}

func TestScheduler_Jobs(t *testing.T) {
	a := newTestApp(t)
	s, err := a.Scheduler()
	if err != nil {
		t.Fatalf("Scheduler: %v", err)
	}
	// manual has no schedule and gets no job.
	want := []string{"screen:bsjp", "monitor", "recap"}
	if got := s.Jobs(); !reflect.DeepEqual(got, want) {
		t.Errorf("jobs = %v, want %v", got, want)
	}
}

func TestScheduler_RedisGuardNeedsRedis(t *testing.T) {
	a := newTestApp(t)
	a.Cfg.Scheduler.SlotGuard = "redis"
	if _, err := a.Scheduler(); err == nil {
		t.Error("redis slot guard without redis store should fail")
	}
}

func TestSweepAndRecap_Empty(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if err := a.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if a.Health.Snapshot().LastSweep.IsZero() {
		t.Error("sweep should be recorded in health")
	}
	s, err := a.Recap(ctx, "bsjp")
	if err != nil {
		t.Fatalf("Recap: %v", err)
	}
	if s.Total != 0 {
		t.Errorf("recap total = %d, want 0", s.Total)
	}
}

func TestClose_StopsStore(t *testing.T) {
	a := newTestApp(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := a.Store.List(context.Background(), model.PositionFilter{})
	if err == nil {
		t.Error("closed store should fail")
	}
	// Second close is a no-op.
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// ────────────────────────────────────────────────────────────────
// HTTP surface
// ────────────────────────────────────────────────────────────────

func TestServer_Strategies(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Server().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Data []struct {
			ID      string   `json:"id"`
			TopN    int      `json:"top_n"`
			Horizon string   `json:"horizon"`
			Sched   []string `json:"schedule"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("got %d strategies, want 2", len(body.Data))
	}
	first := body.Data[0]
	if first.ID != "bsjp" || first.TopN != 3 || first.Horizon != "24h0m0s" || len(first.Sched) != 1 {
		t.Errorf("unexpected bsjp info: %+v", first)
	}
}

// ────────────────────────────────────────────────────────────────
// Alert relay (needs REDIS_ADDR)
// ────────────────────────────────────────────────────────────────

func TestRelay_FeedReceivesPublishedAlerts(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("REDIS_ADDR not set")
	}
	yml := strings.Replace(memoryConfig, "  backend: memory\n",
		"  backend: redis\n  redis:\n    prefix: \"test:"+uuid.NewString()[:8]+":\"\n", 1)
	yml = strings.Replace(yml, "  feed: true\n", "  feed: true\n  pubsub:\n    enabled: true\n    relay: true\n", 1)
	cfg, err := config.Parse([]byte(yml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !a.startRelay(ctx) {
		t.Fatal("relay not started")
	}

	srv := httptest.NewServer(a.Server().Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Publish until the relay's subscription is live and a frame arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				a.Notifier.Send(ctx, notification.Alert{Kind: notification.KindSignal, Title: "bsjp BBCA"})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no relayed alert: %v", err)
	}
	first := strings.Split(string(msg), "\n")[0]
	var env struct {
		Kind string `json:"kind"`
		Data struct {
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(first), &env); err != nil {
		t.Fatalf("frame %q: %v", first, err)
	}
	if env.Kind != "signal" || env.Data.Title != "bsjp BBCA" {
		t.Errorf("got %+v", env)
	}
}
