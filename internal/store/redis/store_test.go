package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"trading-screener/internal/model"
)

// These tests need a live server: REDIS_ADDR=localhost:6379 go test ./...
func liveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := New(Config{Addr: addr, Prefix: "test:" + uuid.NewString()[:8] + ":", MaxFailures: 5, ResetTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := s.client.Keys(ctx, s.prefix+"*").Result()
		if len(keys) > 0 {
			s.client.Del(ctx, keys...)
		}
		s.Close()
	})
	return s
}

func livePosition(id, symbol string) model.Position {
	now := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)
	return model.Position{
		ID: id,
		Signal: model.Signal{
			Symbol: symbol, StrategyID: "bsjp", Direction: model.Buy,
			Entry: 500, StopLoss: 490, Targets: []model.Target{{Label: "TP", Price: 515}},
		},
		Status: model.StatusOpen, OpenedAt: now, ExpiresAt: now.Add(24 * time.Hour), Version: 1,
	}
}

func TestLive_CreateUpdateList(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, livePosition("p1", "BBCA")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, livePosition("p2", "BBCA")); !errors.Is(err, model.ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}

	p, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stale := p
	p.Status = model.StatusTargetHit
	stored, err := s.Update(ctx, p)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if stored.Version != 2 {
		t.Errorf("version=%d", stored.Version)
	}
	if _, err := s.Update(ctx, stale); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// The open key was released by the terminal update.
	if err := s.Create(ctx, livePosition("p2", "BBCA")); err != nil {
		t.Fatalf("Create after close: %v", err)
	}
	open, err := s.List(ctx, model.PositionFilter{Status: model.StatusOpen, StrategyID: "bsjp", Symbol: "BBCA"})
	if err != nil || len(open) != 1 || open[0].ID != "p2" {
		t.Errorf("open=%v err=%v", open, err)
	}
	all, _ := s.List(ctx, model.PositionFilter{})
	if len(all) != 2 {
		t.Errorf("all=%d", len(all))
	}
}

func TestLive_ClaimSlotOnce(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()

	first, err := s.Claim(ctx, "bsjp@2026-03-02T14:50", time.Minute)
	if err != nil || !first {
		t.Fatalf("first claim=%v err=%v", first, err)
	}
	second, err := s.Claim(ctx, "bsjp@2026-03-02T14:50", time.Minute)
	if err != nil || second {
		t.Errorf("second claim=%v err=%v", second, err)
	}
}

func TestLive_RunJournal(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		strat := "bsjp"
		if id == "r2" {
			strat = "bpjs"
		}
		if err := s.RecordRun(ctx, model.RunRecord{ID: id, StrategyID: strat}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	runs, err := s.Runs(ctx, "bsjp", 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" {
		t.Errorf("runs=%+v", runs)
	}
}

func TestLive_SubscribeUsesPublishChannel(t *testing.T) {
	s := liveStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sub := s.Subscribe(ctx, "alerts")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Publish(ctx, "alerts", []byte(`{"kind":"signal"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Channel != s.prefix+"alerts" || msg.Payload != `{"kind":"signal"}` {
		t.Errorf("got %s %s", msg.Channel, msg.Payload)
	}
}
