package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trading-screener/internal/model"
)

const positionColumns = `id, status, opened_at, closed_at, expires_at, close_price, realized_pct,
	tiers_hit, last_price, last_observed_at, version, signal`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (model.Position, error) {
	var (
		p                             model.Position
		status, sig                   string
		opened                        int64
		closed, expires, lastObserved sql.NullInt64
	)
	if err := row.Scan(&p.ID, &status, &opened, &closed, &expires, &p.ClosePrice, &p.RealizedPct,
		&p.TiersHit, &p.LastPrice, &lastObserved, &p.Version, &sig); err != nil {
		return model.Position{}, err
	}
	if err := json.Unmarshal([]byte(sig), &p.Signal); err != nil {
		return model.Position{}, fmt.Errorf("unmarshal signal of %s: %w", p.ID, err)
	}
	p.Status = model.Status(status)
	p.OpenedAt = time.Unix(0, opened).UTC()
	p.ClosedAt = fromNanos(closed)
	p.ExpiresAt = fromNanos(expires)
	p.LastObservedAt = fromNanos(lastObserved)
	return p, nil
}

// Get returns one position by id.
func (s *Store) Get(ctx context.Context, id string) (model.Position, error) {
	if err := s.usable(); err != nil {
		return model.Position{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Position{}, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Position{}, s.wrap("get position", err)
	}
	return p, nil
}

// List returns positions matching f, oldest first.
func (s *Store) List(ctx context.Context, f model.PositionFilter) ([]model.Position, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StrategyID != "" {
		where = append(where, "strategy = ?")
		args = append(args, f.StrategyID)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	q := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY opened_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("list positions", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, s.wrap("scan position", err)
		}
		out = append(out, p)
	}
	return out, s.wrap("list positions", rows.Err())
}
