package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-screener/internal/metrics"
	"trading-screener/internal/model"
	"trading-screener/internal/report"
	"trading-screener/internal/store/memory"
)

type fakeStats struct {
	gotStrategy string
	gotSince    time.Time
}

func (f *fakeStats) Summary(_ context.Context, id string, since time.Time) (report.Summary, error) {
	f.gotStrategy, f.gotSince = id, since
	return report.Summary{StrategyID: id, Total: 4, Wins: 2, Losses: 1, WinRate: 66.7}, nil
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	at := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)
	for i, sym := range []string{"BBCA", "TLKM"} {
		p := model.Position{
			ID:     sym + "-1",
			Status: model.StatusOpen,
			Signal: model.Signal{
				Symbol: sym, StrategyID: "bsjp", Direction: model.Buy,
				Entry: 1000, StopLoss: 980, Targets: []model.Target{{Label: "TP1", Price: 1030}},
			},
			OpenedAt: at.Add(time.Duration(i) * time.Minute), Version: 1,
		}
		if err := st.Create(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func newTestServer(t *testing.T, d Deps) http.Handler {
	t.Helper()
	if d.Positions == nil {
		d.Positions = seed(t)
	}
	if d.Stats == nil {
		d.Stats = &fakeStats{}
	}
	return NewServer(Config{}, d, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
}

func get(t *testing.T, h http.Handler, url string) (int, Response, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var r Response
	body := rec.Body.Bytes()
	if strings.HasPrefix(url, "/api/") {
		if err := json.Unmarshal(body, &r); err != nil {
			t.Fatalf("%s: bad JSON %q: %v", url, body, err)
		}
	}
	return rec.Code, r, body
}

// ────────────────────────────────────────────────────────────
// Positions
// ────────────────────────────────────────────────────────────

func TestPositions(t *testing.T) {
	h := newTestServer(t, Deps{})

	tests := []struct {
		url    string
		status int
		count  int
	}{
		{"/api/v1/positions", 200, 2},
		{"/api/v1/positions?status=OPEN&strategy=bsjp", 200, 2},
		{"/api/v1/positions?symbol=TLKM", 200, 1},
		{"/api/v1/positions?status=STOPPED", 200, 0},
		{"/api/v1/positions?status=CLOSED", 400, -1},
	}
	for _, tt := range tests {
		code, r, _ := get(t, h, tt.url)
		if code != tt.status {
			t.Errorf("%s: status=%d, want %d", tt.url, code, tt.status)
			continue
		}
		if tt.count < 0 {
			continue
		}
		rows, ok := r.Data.([]any)
		if !ok || len(rows) != tt.count {
			t.Errorf("%s: data=%v, want %d rows", tt.url, r.Data, tt.count)
		}
	}
}

func TestPosition_ByID(t *testing.T) {
	h := newTestServer(t, Deps{})
	if code, _, body := get(t, h, "/api/v1/positions/BBCA-1"); code != 200 || !strings.Contains(string(body), `"symbol":"BBCA"`) {
		t.Errorf("status=%d body=%s", code, body)
	}
	if code, _, _ := get(t, h, "/api/v1/positions/nope"); code != 404 {
		t.Errorf("missing id status=%d, want 404", code)
	}
}

func TestPositions_StoreDown(t *testing.T) {
	st := seed(t)
	st.Close()
	h := newTestServer(t, Deps{Positions: st})
	if code, _, _ := get(t, h, "/api/v1/positions"); code != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want 503", code)
	}
}

// ────────────────────────────────────────────────────────────
// Stats, strategies, runs, health, metrics
// ────────────────────────────────────────────────────────────

func TestStats_DefaultsWindow(t *testing.T) {
	fs := &fakeStats{}
	h := newTestServer(t, Deps{Stats: fs})
	code, r, _ := get(t, h, "/api/v1/stats?strategy=bsjp")
	if code != 200 {
		t.Fatalf("status=%d", code)
	}
	if fs.gotStrategy != "bsjp" {
		t.Errorf("strategy=%q", fs.gotStrategy)
	}
	if d := time.Since(fs.gotSince); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Errorf("since %v ago, want ~30 days", d)
	}
	if m, _ := r.Data.(map[string]any); m["win_rate"] != 66.7 {
		t.Errorf("data=%v", r.Data)
	}
	if code, _, _ := get(t, h, "/api/v1/stats?days=-3"); code != 400 {
		t.Errorf("negative days status=%d, want 400", code)
	}
}

func TestStrategies(t *testing.T) {
	h := newTestServer(t, Deps{Strategies: []StrategyInfo{{ID: "bsjp", Kind: "filter", TopN: 5, Horizon: "24h0m0s"}}})
	_, r, _ := get(t, h, "/api/v1/strategies")
	rows, _ := r.Data.([]any)
	if len(rows) != 1 {
		t.Fatalf("data=%v", r.Data)
	}
}

func TestRuns(t *testing.T) {
	st := seed(t)
	_ = st.RecordRun(context.Background(), model.RunRecord{ID: "bsjp-1", StrategyID: "bsjp"})
	h := newTestServer(t, Deps{Positions: st, Runs: st})
	_, r, _ := get(t, h, "/api/v1/runs?strategy=bsjp")
	if rows, _ := r.Data.([]any); len(rows) != 1 {
		t.Errorf("data=%v", r.Data)
	}

	noJournal := newTestServer(t, Deps{})
	if code, _, _ := get(t, noJournal, "/api/v1/runs"); code != http.StatusNotImplemented {
		t.Errorf("status=%d, want 501", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	health := metrics.NewHealthStatus(metrics.Probe{Name: "store", Ping: func(context.Context) error { return nil }})
	health.Check(context.Background())
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.Candidate("bsjp", "passed")

	h := newTestServer(t, Deps{Health: health, Gatherer: reg})
	code, r, _ := get(t, h, "/api/v1/health")
	if code != 200 {
		t.Fatalf("health status=%d", code)
	}
	if body, _ := r.Data.(map[string]any); body["status"] != "healthy" {
		t.Errorf("health=%v", r.Data)
	}

	code, _, body := get(t, h, "/metrics")
	if code != 200 || !strings.Contains(string(body), "screener_candidates_total") {
		t.Errorf("metrics status=%d missing candidates counter", code)
	}
}
