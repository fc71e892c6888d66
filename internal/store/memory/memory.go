// Package memory is an in-process PositionStore and RunJournal, used for
// dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trading-screener/internal/model"
)

// Store keeps positions in a map guarded by a mutex. Records are copied
// in and out so callers never share memory with the store.
type Store struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	runs      []model.RunRecord
	closed    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{positions: make(map[string]model.Position)}
}

func clone(p model.Position) model.Position {
	p.Signal.Targets = append([]model.Target(nil), p.Signal.Targets...)
	p.Signal.Rationale = append([]string(nil), p.Signal.Rationale...)
	return p
}

func (s *Store) usable() error {
	if s.closed {
		return fmt.Errorf("memory store closed: %w", model.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) Create(_ context.Context, p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("position %s exists: %w", p.ID, model.ErrDuplicatePosition)
	}
	if p.Status == model.StatusOpen {
		for _, q := range s.positions {
			if q.Status == model.StatusOpen && q.Key() == p.Key() {
				return fmt.Errorf("%s: %w", p.Key(), model.ErrDuplicatePosition)
			}
		}
	}
	if p.Version == 0 {
		p.Version = 1
	}
	s.positions[p.ID] = clone(p)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return model.Position{}, err
	}
	p, ok := s.positions[id]
	if !ok {
		return model.Position{}, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return clone(p), nil
}

func (s *Store) List(_ context.Context, f model.PositionFilter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if f.Match(p) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Update(_ context.Context, p model.Position) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return model.Position{}, err
	}
	cur, ok := s.positions[p.ID]
	if !ok {
		return model.Position{}, fmt.Errorf("position %s: %w", p.ID, model.ErrNotFound)
	}
	if cur.Version != p.Version {
		return model.Position{}, fmt.Errorf("position %s at version %d, got %d: %w", p.ID, cur.Version, p.Version, model.ErrConflict)
	}
	p.Version++
	s.positions[p.ID] = clone(p)
	return clone(p), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if _, ok := s.positions[id]; !ok {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	delete(s.positions, id)
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable()
}

// Close marks the store unusable; later calls fail with
// model.ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) RecordRun(_ context.Context, r model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	r.Signals = append([]model.Signal(nil), r.Signals...)
	s.runs = append(s.runs, r)
	return nil
}

// Runs returns the newest runs first.
func (s *Store) Runs(_ context.Context, strategyID string, limit int) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RunRecord
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if strategyID != "" && r.StrategyID != strategyID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
