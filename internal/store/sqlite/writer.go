// Package sqlite is the durable PositionStore and RunJournal backed by a
// single SQLite file in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"trading-screener/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	Path string `yaml:"path" json:"path" default:"data/screener.db"`
}

// Store persists positions and screening runs. Writes go through a single
// connection; the partial unique index on open positions enforces at most
// one OPEN position per strategy and symbol even across processes.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens or creates the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite store opened", slog.String("path", cfg.Path))
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			id               TEXT    PRIMARY KEY,
			strategy         TEXT    NOT NULL,
			symbol           TEXT    NOT NULL,
			status           TEXT    NOT NULL,
			opened_at        INTEGER NOT NULL,
			closed_at        INTEGER,
			expires_at       INTEGER,
			close_price      REAL    NOT NULL DEFAULT 0,
			realized_pct     REAL    NOT NULL DEFAULT 0,
			tiers_hit        INTEGER NOT NULL DEFAULT 0,
			last_price       REAL    NOT NULL DEFAULT 0,
			last_observed_at INTEGER,
			version          INTEGER NOT NULL,
			signal           TEXT    NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_open
			ON positions(strategy, symbol) WHERE status = 'OPEN';
		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
		CREATE INDEX IF NOT EXISTS idx_positions_opened_at ON positions(opened_at);

		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT    PRIMARY KEY,
			strategy    TEXT    NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			candidates  INTEGER NOT NULL,
			evaluated   INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			passed      INTEGER NOT NULL,
			error       TEXT,
			signals     TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, started_at);

		CREATE TABLE IF NOT EXISTS signals (
			id           TEXT    PRIMARY KEY,
			run_id       TEXT    NOT NULL,
			strategy     TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			entry        REAL    NOT NULL,
			stop_loss    REAL    NOT NULL,
			target       REAL    NOT NULL,
			confidence   REAL    NOT NULL,
			generated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol, generated_at);
	`)
	return err
}

// Create inserts a new position in one statement.
func (s *Store) Create(ctx context.Context, p model.Position) error {
	if err := s.usable(); err != nil {
		return err
	}
	if p.Version == 0 {
		p.Version = 1
	}
	sig, err := json.Marshal(p.Signal)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (id, strategy, symbol, status, opened_at, closed_at, expires_at,
			close_price, realized_pct, tiers_hit, last_price, last_observed_at, version, signal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Signal.StrategyID, p.Signal.Symbol, string(p.Status),
		p.OpenedAt.UnixNano(), nanos(p.ClosedAt), nanos(p.ExpiresAt),
		p.ClosePrice, p.RealizedPct, p.TiersHit, p.LastPrice, nanos(p.LastObservedAt),
		p.Version, string(sig),
	)
	if isUnique(err) {
		return fmt.Errorf("%s: %w", p.Key(), model.ErrDuplicatePosition)
	}
	return s.wrap("insert position", err)
}

// Update writes p if the stored version still equals p.Version.
func (s *Store) Update(ctx context.Context, p model.Position) (model.Position, error) {
	if err := s.usable(); err != nil {
		return model.Position{}, err
	}
	sig, err := json.Marshal(p.Signal)
	if err != nil {
		return model.Position{}, fmt.Errorf("marshal signal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			status = ?, closed_at = ?, expires_at = ?, close_price = ?, realized_pct = ?,
			tiers_hit = ?, last_price = ?, last_observed_at = ?, signal = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(p.Status), nanos(p.ClosedAt), nanos(p.ExpiresAt), p.ClosePrice, p.RealizedPct,
		p.TiersHit, p.LastPrice, nanos(p.LastObservedAt), string(sig),
		p.ID, p.Version,
	)
	if isUnique(err) {
		return model.Position{}, fmt.Errorf("%s: %w", p.Key(), model.ErrDuplicatePosition)
	}
	if err != nil {
		return model.Position{}, s.wrap("update position", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Position{}, s.wrap("update position", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, p.ID); err != nil {
			return model.Position{}, err
		}
		return model.Position{}, fmt.Errorf("position %s version %d: %w", p.ID, p.Version, model.ErrConflict)
	}
	p.Version++
	return p, nil
}

// Delete removes a position.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.usable(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return s.wrap("delete position", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Ping checks the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("sqlite ping: %v: %w", err, model.ErrStoreUnavailable)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) usable() error {
	if s.closed.Load() {
		return fmt.Errorf("sqlite store closed: %w", model.ErrStoreUnavailable)
	}
	return nil
}

// wrap tags errors that mean the database itself is unusable.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%s: %v: %w", op, err, model.ErrStoreUnavailable)
	case errors.As(err, &se) && (se.Code == sqlite3.ErrCantOpen || se.Code == sqlite3.ErrIoErr ||
		se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB):
		return fmt.Errorf("%s: %v: %w", op, err, model.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}
