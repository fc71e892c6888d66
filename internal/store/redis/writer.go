// Package redis is a PositionStore, RunJournal and SlotGuard on Redis,
// for deployments where several screener processes share state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-screener/internal/model"
)

// Config configures the Redis store.
type Config struct {
	Addr         string        `yaml:"addr" json:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password" json:"-"`
	DB           int           `yaml:"db" json:"db"`
	Prefix       string        `yaml:"prefix" json:"prefix" default:"screener:"`
	MaxFailures  int           `yaml:"max_failures" json:"max_failures" default:"5"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout" default:"10s"`
	RunsKept     int64         `yaml:"runs_kept" json:"runs_kept" default:"500"`
}

// Store keeps each position as a JSON string under pos:{id}, an
// open:{strategy}:{symbol} key per OPEN position, and a sorted set of ids
// ordered by open time.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker
	prefix string
	keep   int64
}

// Breaker exposes the circuit breaker so callers can observe its state.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// New connects to Redis and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %v: %w", err, model.ErrStoreUnavailable)
	}

	slog.Info("redis store connected", slog.String("addr", cfg.Addr))
	return newStore(client, cfg), nil
}

func newStore(client *goredis.Client, cfg Config) *Store {
	cb := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	cb.IsFailure = isInfra
	keep := cfg.RunsKept
	if keep <= 0 {
		keep = 500
	}
	return &Store{client: client, cb: cb, prefix: cfg.Prefix, keep: keep}
}

func (s *Store) posKey(id string) string    { return s.prefix + "pos:" + id }
func (s *Store) openKey(key string) string  { return s.prefix + "open:" + key }
func (s *Store) indexKey() string           { return s.prefix + "positions" }
func (s *Store) runsKey() string            { return s.prefix + "runs" }
func (s *Store) slotKey(slot string) string { return s.prefix + "slot:" + slot }
func (s *Store) channel(name string) string { return s.prefix + name }

// errCorrupt marks a stored record that no longer decodes. Redis answered,
// so it never counts against the breaker.
var errCorrupt = errors.New("corrupt record")

// isInfra reports whether err means Redis could not answer.
func isInfra(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, errCorrupt),
		errors.Is(err, goredis.Nil),
		errors.Is(err, goredis.TxFailedErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrDuplicatePosition):
		return false
	}
	var re goredis.Error
	// Server replies such as WRONGTYPE come from a reachable server.
	return !errors.As(err, &re)
}

// do runs fn through the breaker and tags infrastructure failures.
func (s *Store) do(op string, fn func() error) error {
	err := s.cb.Execute(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrStoreUnavailable):
		return err
	case isInfra(err):
		return fmt.Errorf("redis %s: %v: %w", op, err, model.ErrStoreUnavailable)
	}
	return err
}

// createScript inserts a position and, when it is OPEN, claims the open
// key in one atomic step.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if ARGV[4] == '1' and not redis.call('SET', KEYS[2], ARGV[2], 'NX') then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`)

// Create inserts a position; an OPEN one fails with ErrDuplicatePosition
// while another OPEN position holds the same strategy and symbol.
func (s *Store) Create(ctx context.Context, p model.Position) error {
	if p.Version == 0 {
		p.Version = 1
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	open := "0"
	if p.Status == model.StatusOpen {
		open = "1"
	}
	return s.do("create", func() error {
		n, err := createScript.Run(ctx, s.client,
			[]string{s.posKey(p.ID), s.openKey(p.Key()), s.indexKey()},
			string(data), p.ID, p.OpenedAt.UnixNano(), open,
		).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: %w", p.Key(), model.ErrDuplicatePosition)
		}
		return nil
	})
}

// Update replaces the record under WATCH so a concurrent writer makes the
// transaction fail with ErrConflict.
func (s *Store) Update(ctx context.Context, p model.Position) (model.Position, error) {
	key := s.posKey(p.ID)
	var stored model.Position
	err := s.do("update", func() error {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			cur, err := getPosition(ctx, tx, key)
			if err != nil {
				return err
			}
			if cur.Version != p.Version {
				return fmt.Errorf("position %s version %d != %d: %w", p.ID, p.Version, cur.Version, model.ErrConflict)
			}
			next := p
			next.Version++
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal position: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if cur.Status == model.StatusOpen && next.Status != model.StatusOpen {
					pipe.Del(ctx, s.openKey(cur.Key()))
				}
				return nil
			})
			if err != nil {
				return err
			}
			stored = next
			return nil
		}, key, s.openKey(p.Key()))
		if errors.Is(err, goredis.TxFailedErr) {
			return fmt.Errorf("position %s: %w", p.ID, model.ErrConflict)
		}
		return err
	})
	return stored, err
}

// Delete removes a position and releases its open key.
func (s *Store) Delete(ctx context.Context, id string) error {
	key := s.posKey(id)
	return s.do("delete", func() error {
		return s.client.Watch(ctx, func(tx *goredis.Tx) error {
			cur, err := getPosition(ctx, tx, key)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.indexKey(), id)
				if cur.Status == model.StatusOpen {
					pipe.Del(ctx, s.openKey(cur.Key()))
				}
				return nil
			})
			return err
		}, key)
	})
}

// RecordRun pushes the run onto a capped list, newest first.
func (s *Store) RecordRun(ctx context.Context, r model.RunRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.do("record run", func() error {
		pipe := s.client.TxPipeline()
		pipe.LPush(ctx, s.runsKey(), data)
		pipe.LTrim(ctx, s.runsKey(), 0, s.keep-1)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Publish sends a message on a prefixed Pub/Sub channel.
func (s *Store) Publish(ctx context.Context, channel string, message []byte) error {
	return s.do("publish", func() error {
		return s.client.Publish(ctx, s.channel(channel), message).Err()
	})
}

// Subscribe listens on a channel written by Publish; both apply the key
// prefix, so publisher and subscriber agree on the wire name.
func (s *Store) Subscribe(ctx context.Context, channel string) *goredis.PubSub {
	return s.client.Subscribe(ctx, s.channel(channel))
}

// Ping checks the server answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.do("ping", func() error { return s.client.Ping(ctx).Err() })
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
