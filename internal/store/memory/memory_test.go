package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-screener/internal/model"
)

func pos(id, strategy, symbol string) model.Position {
	return model.Position{
		ID:       id,
		Status:   model.StatusOpen,
		OpenedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Signal: model.Signal{
			Symbol: symbol, StrategyID: strategy, Direction: model.Buy,
			Entry: 500, StopLoss: 490, Targets: []model.Target{{Label: "TP", Price: 515}},
		},
	}
}

func TestStore_CreateEnforcesOneOpenPerKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Create(ctx, pos("a", "bsjp", "BBCA")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, pos("b", "bsjp", "BBCA")); !errors.Is(err, model.ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
	if err := s.Create(ctx, pos("c", "bpjs", "BBCA")); err != nil {
		t.Fatalf("other strategy should be allowed: %v", err)
	}

	got, _ := s.List(ctx, model.PositionFilter{Symbol: "BBCA"})
	if len(got) != 2 {
		t.Errorf("expected 2 positions, got %d", len(got))
	}
}

func TestStore_UpdateCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Create(ctx, pos("a", "bsjp", "BBCA"))

	p, _ := s.Get(ctx, "a")
	if p.Version != 1 {
		t.Fatalf("version=%d, want 1", p.Version)
	}
	p.Status = model.StatusStopped
	updated, err := s.Update(ctx, p)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version=%d, want 2", updated.Version)
	}
	if _, err := s.Update(ctx, p); !errors.Is(err, model.ErrConflict) {
		t.Errorf("stale update should conflict, got %v", err)
	}

	// A closed position frees the key.
	if err := s.Create(ctx, pos("b", "bsjp", "BBCA")); err != nil {
		t.Errorf("create after close: %v", err)
	}
}

func TestStore_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := pos("a", "bsjp", "BBCA")
	_ = s.Create(ctx, p)
	p.Signal.Targets[0].Price = 1

	got, _ := s.Get(ctx, "a")
	if got.Signal.Targets[0].Price != 515 {
		t.Error("store shares memory with caller")
	}
}

func TestStore_DeleteAndClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Create(ctx, pos("a", "bsjp", "BBCA"))
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_ = s.Close()
	if err := s.Ping(ctx); !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable after Close, got %v", err)
	}
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"r1", "r2", "r3"} {
		_ = s.RecordRun(ctx, model.RunRecord{ID: id, StrategyID: "bsjp"})
	}
	_ = s.RecordRun(ctx, model.RunRecord{ID: "x", StrategyID: "bpjs"})

	runs, _ := s.Runs(ctx, "bsjp", 2)
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Errorf("runs=%+v", runs)
	}
}
