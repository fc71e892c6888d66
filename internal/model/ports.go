package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the tracker and orchestrator from concrete
// storage implementations (SQLite, Redis, in-memory).

// PositionFilter selects positions in List. Zero fields match everything.
type PositionFilter struct {
	Status     Status
	StrategyID string
	Symbol     string
}

// Match reports whether p satisfies the filter.
func (f PositionFilter) Match(p Position) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.StrategyID != "" && p.Signal.StrategyID != f.StrategyID {
		return false
	}
	if f.Symbol != "" && p.Signal.Symbol != f.Symbol {
		return false
	}
	return true
}

// PositionStore is a keyed store of positions with atomic per-record writes.
type PositionStore interface {
	// Create inserts a new OPEN position. It fails with ErrDuplicatePosition
	// if an OPEN position already exists for the same strategy and symbol.
	// Either the whole record is written or nothing is.
	Create(ctx context.Context, p Position) error

	// Get returns the position with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Position, error)

	// List returns positions matching the filter, oldest first.
	List(ctx context.Context, f PositionFilter) ([]Position, error)

	// Update replaces the stored record if its version equals p.Version and
	// returns the stored copy with the incremented version. A stale version
	// fails with ErrConflict.
	Update(ctx context.Context, p Position) (Position, error)

	// Delete removes (archives) a position.
	Delete(ctx context.Context, id string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// RunRecord is the journal entry of one completed screening run.
type RunRecord struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Candidates int       `json:"candidates"`
	Evaluated  int       `json:"evaluated"`
	Skipped    int       `json:"skipped"`
	Passed     int       `json:"passed"`
	Signals    []Signal  `json:"signals"`
	Err        string    `json:"error,omitempty"`
}

// RunJournal records screening runs for audit. Implemented by stores that
// can hold more than positions.
type RunJournal interface {
	RecordRun(ctx context.Context, r RunRecord) error
	Runs(ctx context.Context, strategyID string, limit int) ([]RunRecord, error)
}
