package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-screener/internal/model"
)

// RecordRun journals a completed screening run and each of its signals in
// one transaction.
func (s *Store) RecordRun(ctx context.Context, r model.RunRecord) error {
	if err := s.usable(); err != nil {
		return err
	}
	sigs, err := json.Marshal(r.Signals)
	if err != nil {
		return fmt.Errorf("marshal run signals: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin run journal", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, started_at, finished_at, candidates, evaluated, skipped, passed, error, signals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StrategyID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		r.Candidates, r.Evaluated, r.Skipped, r.Passed, r.Err, string(sigs),
	); err != nil {
		return s.wrap("insert run", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO signals (id, run_id, strategy, symbol, direction, entry, stop_loss, target, confidence, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return s.wrap("prepare signal insert", err)
	}
	defer stmt.Close()

	for _, sig := range r.Signals {
		id := sig.ID
		if id == "" {
			id = r.ID + ":" + sig.Symbol
		}
		if _, err := stmt.ExecContext(ctx, id, r.ID, sig.StrategyID, sig.Symbol, string(sig.Direction),
			sig.Entry, sig.StopLoss, sig.FinalTarget(), sig.Confidence, sig.GeneratedAt.UnixNano()); err != nil {
			return s.wrap("insert signal", err)
		}
	}
	return s.wrap("commit run journal", tx.Commit())
}

// Runs returns the most recent runs of a strategy, newest first. An empty
// strategy id returns runs of every strategy.
func (s *Store) Runs(ctx context.Context, strategyID string, limit int) ([]model.RunRecord, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, started_at, finished_at, candidates, evaluated, skipped, passed, COALESCE(error, ''), signals
		FROM runs
		WHERE ? = '' OR strategy = ?
		ORDER BY started_at DESC
		LIMIT ?`, strategyID, strategyID, limit)
	if err != nil {
		return nil, s.wrap("query runs", err)
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			r                 model.RunRecord
			started, finished int64
			sigs              string
		)
		if err := rows.Scan(&r.ID, &r.StrategyID, &started, &finished, &r.Candidates, &r.Evaluated,
			&r.Skipped, &r.Passed, &r.Err, &sigs); err != nil {
			return nil, s.wrap("scan run", err)
		}
		if err := json.Unmarshal([]byte(sigs), &r.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals of run %s: %w", r.ID, err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, r)
	}
	return out, s.wrap("query runs", rows.Err())
}
