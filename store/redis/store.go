package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/workflow"
)

// Compile-time interface checks.
var (
	_ workflow.Store = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
)

// maxTxAttempts bounds the retries of an optimistic transaction whose
// watched keys changed underneath it.
const maxTxAttempts = 8

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client.
func (s *Store) Close() error { return nil }

// watch runs fn inside WATCH on keys, retrying when another client
// modified a watched key before EXEC.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		s.logger.Debug("redis transaction retried",
			slog.Int("attempt", attempt+1),
			slog.Any("keys", keys),
		)
	}
	return fmt.Errorf("jobpoller/redis: transaction on %v kept conflicting", keys)
}

func isNil(err error) bool { return errors.Is(err, goredis.Nil) }

func getJSON(ctx context.Context, c goredis.Cmdable, key string, v any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func setJSON(ctx context.Context, c goredis.Cmdable, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, 0).Err()
}
