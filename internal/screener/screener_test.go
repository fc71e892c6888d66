package screener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"trading-screener/internal/model"
	"trading-screener/internal/notification"
	"trading-screener/internal/store/memory"
	"trading-screener/internal/strategy"
	"trading-screener/internal/tracker"
	"trading-screener/internal/tradeplan"
)

// ────────────────────────────────────────────────────────────
// Fakes and fixtures
// ────────────────────────────────────────────────────────────

var (
	day0  = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

const noSignal = "Tidak ada sinyal hari ini."

type fakeHistory struct {
	mu     sync.Mutex
	bars   map[string][]model.PriceBar
	errs   map[string]error
	calls  int
	onCall func()
}

func (f *fakeHistory) History(_ context.Context, symbol string, _, _ time.Time) ([]model.PriceBar, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	if b, ok := f.bars[symbol]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%s: %w", symbol, model.ErrNoData)
}

type sink struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (s *sink) Send(_ context.Context, a notification.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func mkBars(closes, vols []float64) []model.PriceBar {
	bars := make([]model.PriceBar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		v := 1000.0
		if vols != nil {
			v = vols[i]
		}
		bars[i] = model.PriceBar{
			Time: day0.AddDate(0, 0, i), Open: open,
			High: max(open, c) + 1, Low: min(open, c) - 1, Close: c, Volume: v,
		}
	}
	return bars
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// spike returns 20 quiet bars followed by a green bar to 104 on the given
// volume multiple.
func spike(mult float64) []model.PriceBar {
	return mkBars(append(flat(20, 100), 104), append(flat(20, 1000), 1000*mult))
}

func volumeRule(t *testing.T, id string) strategy.Rule {
	t.Helper()
	r, err := strategy.New(strategy.Config{
		ID: id, Kind: strategy.KindFilter, Direction: model.Buy,
		Filters: strategy.Filters{
			MinPrice:    strategy.Float(50),
			VolumeRatio: []strategy.VolumeRatioBand{{Period: 20, Min: 2}},
		},
	})
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	return r
}

var fixed = tradeplan.Profile{Model: tradeplan.FixedPct, TargetPct: 3, StopPct: 2, TickSize: 1}

type harness struct {
	store   *memory.Store
	history *fakeHistory
	out     *sink
	scr     *Screener
	now     time.Time
}

func newHarness(t *testing.T, st Strategy, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		history: &fakeHistory{bars: map[string][]model.PriceBar{}, errs: map[string]error{}},
		out:     &sink{},
		now:     day0.AddDate(0, 0, 21),
	}
	clock := func() time.Time { return h.now }
	tr := tracker.New(h.store, nil, h.out, tracker.Config{}, tracker.WithClock(clock), tracker.WithLogger(quiet))
	scr, err := New(h.history, h.store, tr, h.out, []Strategy{st}, cfg, WithClock(clock), WithLogger(quiet))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.scr = scr
	return h
}

func (h *harness) open(t *testing.T) []model.Position {
	t.Helper()
	ps, err := h.store.List(context.Background(), model.PositionFilter{Status: model.StatusOpen})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return ps
}

// ────────────────────────────────────────────────────────────
// Runs
// ────────────────────────────────────────────────────────────

func TestRun_FlatVolumeSendsNoSignalMessage(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "vol2x"), Profile: fixed, NoSignal: noSignal}
	h := newHarness(t, st, Config{})
	// Warm-up bars, then closes 100..105 on unchanged volume.
	h.history.bars["BBRI"] = mkBars(append(flat(20, 100), 100, 101, 102, 103, 104, 105), nil)
	// The bare six-bar sequence is too short to evaluate.
	h.history.bars["BBNI"] = mkBars([]float64{100, 101, 102, 103, 104, 105}, nil)

	rep, err := h.scr.Run(context.Background(), "vol2x", []string{"BBRI", "BBNI"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Signals) != 0 {
		t.Fatalf("expected no signals, got %v", rep.Signals)
	}
	if rep.Rejected != 1 || rep.Skipped["insufficient_history"] != 1 {
		t.Errorf("report=%+v", rep)
	}
	if len(h.out.alerts) != 1 {
		t.Fatalf("expected exactly one summary, got %d", len(h.out.alerts))
	}
	if h.out.alerts[0].Message != noSignal {
		t.Errorf("message=%q, want %q", h.out.alerts[0].Message, noSignal)
	}
	if len(h.open(t)) != 0 {
		t.Error("no position should be opened")
	}
}

func TestRun_SecondRunDoesNotDuplicate(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed, NoSignal: noSignal}
	h := newHarness(t, st, Config{})
	h.history.bars["TLKM"] = spike(3)

	first, err := h.scr.Run(context.Background(), "bsjp", []string{"TLKM"})
	if err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	if len(first.Signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(first.Signals))
	}
	sig := first.Signals[0]
	if sig.Entry != 104 || sig.StopLoss != 102 || sig.FinalTarget() != 107 || sig.ID == "" {
		t.Errorf("signal=%+v", sig)
	}
	if sig.TradingDay != "2026-01-25" {
		t.Errorf("trading day=%s", sig.TradingDay)
	}

	second, err := h.scr.Run(context.Background(), "bsjp", []string{"TLKM"})
	if err != nil {
		t.Fatalf("Run 2: %v", err)
	}
	if len(second.Signals) != 0 || second.Duplicates != 1 {
		t.Errorf("second run=%+v", second)
	}
	if n := len(h.open(t)); n != 1 {
		t.Errorf("open positions=%d, want 1", n)
	}
	if len(h.out.alerts) != 2 || h.out.alerts[1].Message != noSignal {
		t.Errorf("alerts=%+v", h.out.alerts)
	}
}

func TestRun_SkipsFailingSymbols(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed}
	h := newHarness(t, st, Config{Workers: 3})
	h.history.bars["BBCA"] = spike(4)
	h.history.errs["GOTO"] = fmt.Errorf("goapi: status 503: %w", model.ErrTransient)
	h.history.errs["XXXX"] = fmt.Errorf("goapi: status 404: %w", model.ErrNoData)
	h.history.errs["SLOW"] = context.DeadlineExceeded

	rep, err := h.scr.Run(context.Background(), "bsjp", []string{"GOTO", "XXXX", "BBCA", "SLOW"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Signals) != 1 || rep.Signals[0].Symbol != "BBCA" {
		t.Errorf("signals=%v", rep.Signals)
	}
	if rep.Skipped["transient"] != 2 || rep.Skipped["no_data"] != 1 {
		t.Errorf("skipped=%v", rep.Skipped)
	}
	if h.history.calls != 4 {
		t.Errorf("history calls=%d", h.history.calls)
	}
}

func TestRun_RanksAndTruncates(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed, TopN: 2}
	h := newHarness(t, st, Config{Workers: 2})
	h.history.bars["AAAA"] = spike(2.5)
	h.history.bars["BBBB"] = spike(6)
	h.history.bars["CCCC"] = spike(4)

	rep, err := h.scr.Run(context.Background(), "bsjp", []string{"aaaa", "bbbb", "cccc"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Passed != 3 || len(rep.Signals) != 2 {
		t.Fatalf("passed=%d signals=%d", rep.Passed, len(rep.Signals))
	}
	if rep.Signals[0].Symbol != "BBBB" || rep.Signals[1].Symbol != "CCCC" {
		t.Errorf("order=%s,%s", rep.Signals[0].Symbol, rep.Signals[1].Symbol)
	}
}

func TestRun_OpenPositionsDoNotConsumeTopN(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed, TopN: 1}
	h := newHarness(t, st, Config{})
	h.history.bars["BBBB"] = spike(6)
	h.history.bars["CCCC"] = spike(4)

	if _, err := h.scr.Run(context.Background(), "bsjp", []string{"BBBB", "CCCC"}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}
	rep, err := h.scr.Run(context.Background(), "bsjp", []string{"BBBB", "CCCC"})
	if err != nil {
		t.Fatalf("Run 2: %v", err)
	}
	if len(rep.Signals) != 1 || rep.Signals[0].Symbol != "CCCC" {
		t.Errorf("second run should pick the next name, got %v", rep.Signals)
	}
}

func TestRun_UnreachableStoreAborts(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed}
	h := newHarness(t, st, Config{})
	h.history.bars["BBCA"] = spike(4)
	h.store.Close()

	_, err := h.scr.Run(context.Background(), "bsjp", []string{"BBCA"})
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if h.history.calls != 0 || len(h.out.alerts) != 0 {
		t.Errorf("aborted run still fetched=%d or notified=%d", h.history.calls, len(h.out.alerts))
	}
}

func TestRun_CancelWritesNothing(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed}
	h := newHarness(t, st, Config{})
	for _, s := range []string{"AAAA", "BBBB", "CCCC"} {
		h.history.bars[s] = spike(4)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.history.onCall = cancel

	_, err := h.scr.Run(ctx, "bsjp", []string{"AAAA", "BBBB", "CCCC"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.open(t)) != 0 || len(h.out.alerts) != 0 {
		t.Error("canceled run left positions or alerts behind")
	}
}

func TestRun_JournalsCompletedRun(t *testing.T) {
	st := Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed}
	h := newHarness(t, st, Config{})
	h.history.bars["BBCA"] = spike(4)

	rep, err := h.scr.Run(context.Background(), "bsjp", []string{"BBCA", "NONE"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	runs, _ := h.store.Runs(context.Background(), "bsjp", 5)
	if len(runs) != 1 || runs[0].ID != rep.RunID || runs[0].Passed != 1 || runs[0].Skipped != 1 {
		t.Errorf("journal=%+v", runs)
	}
}

func TestRun_UnknownStrategy(t *testing.T) {
	h := newHarness(t, Strategy{Rule: volumeRule(t, "bsjp"), Profile: fixed}, Config{})
	if _, err := h.scr.Run(context.Background(), "nope", nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNew_RejectsDuplicateStrategy(t *testing.T) {
	r := volumeRule(t, "bsjp")
	if _, err := New(nil, memory.New(), nil, nil, []Strategy{{Rule: r}, {Rule: r}}, Config{}); err == nil {
		t.Error("expected duplicate strategy error")
	}
}

// ────────────────────────────────────────────────────────────
// Ranking and pacing
// ────────────────────────────────────────────────────────────

func TestRank(t *testing.T) {
	mk := func(sym string, conf, vr float64) *strategy.Draft {
		return &strategy.Draft{Symbol: sym, Confidence: conf, VolumeRatio: vr, Value: vr * 10}
	}
	drafts := []*strategy.Draft{
		mk("DDDD", 70, math.NaN()),
		mk("BBBB", 80, 2),
		mk("AAAA", 80, 2),
		mk("CCCC", 90, 1),
	}
	Rank(drafts, RankConfidence)
	want := []string{"CCCC", "AAAA", "BBBB", "DDDD"}
	for i, w := range want {
		if drafts[i].Symbol != w {
			t.Errorf("confidence rank %d: got %s, want %s", i, drafts[i].Symbol, w)
		}
	}

	Rank(drafts, RankVolumeRatio)
	if drafts[0].Symbol != "AAAA" || drafts[3].Symbol != "DDDD" {
		t.Errorf("volume ratio rank: %s..%s", drafts[0].Symbol, drafts[3].Symbol)
	}

	if _, err := ParseRankKey("momentum"); err == nil {
		t.Error("expected error for unknown key")
	}
	if k, _ := ParseRankKey(""); k != RankConfidence {
		t.Errorf("default key=%s", k)
	}
}

func TestPacer_SpacesCalls(t *testing.T) {
	p := newPacer(20 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three calls took %v, want >= 40ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
