package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-screener/internal/model"
)

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getPosition(ctx context.Context, c getter, key string) (model.Position, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return model.Position{}, fmt.Errorf("%s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return model.Position{}, err
	}
	var p model.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return model.Position{}, fmt.Errorf("unmarshal %s: %w: %w", key, errCorrupt, err)
	}
	return p, nil
}

// Get returns one position by id.
func (s *Store) Get(ctx context.Context, id string) (model.Position, error) {
	var p model.Position
	err := s.do("get", func() error {
		var err error
		p, err = getPosition(ctx, s.client, s.posKey(id))
		return err
	})
	return p, err
}

// List returns positions matching f, oldest first. Open positions are
// resolved through their open keys when the filter names both strategy
// and symbol.
func (s *Store) List(ctx context.Context, f model.PositionFilter) ([]model.Position, error) {
	var out []model.Position
	err := s.do("list", func() error {
		var ids []string
		if f.Status == model.StatusOpen && f.StrategyID != "" && f.Symbol != "" {
			id, err := s.client.Get(ctx, s.openKey(f.StrategyID+":"+f.Symbol)).Result()
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			ids = []string{id}
		} else {
			var err error
			ids, err = s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.posKey(id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue // deleted between ZRANGE and MGET
			}
			var p model.Position
			if err := json.Unmarshal([]byte(str), &p); err != nil {
				return fmt.Errorf("unmarshal %s: %w: %w", keys[i], errCorrupt, err)
			}
			if f.Match(p) {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// Runs returns the most recent runs, newest first. An empty strategy id
// matches every strategy.
func (s *Store) Runs(ctx context.Context, strategyID string, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.RunRecord
	err := s.do("runs", func() error {
		vals, err := s.client.LRange(ctx, s.runsKey(), 0, s.keep-1).Result()
		if err != nil {
			return err
		}
		for _, v := range vals {
			var r model.RunRecord
			if err := json.Unmarshal([]byte(v), &r); err != nil {
				return fmt.Errorf("unmarshal run: %w: %w", errCorrupt, err)
			}
			if strategyID != "" && r.StrategyID != strategyID {
				continue
			}
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Claim takes a scheduler slot for ttl. It returns false when another
// process already claimed it.
func (s *Store) Claim(ctx context.Context, slot string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.do("claim", func() error {
		var err error
		ok, err = s.client.SetNX(ctx, s.slotKey(slot), time.Now().UTC().Format(time.RFC3339), ttl).Result()
		return err
	})
	return ok, err
}
