package engine

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/executor"
	"github.com/xraph/jobpoller/executor/executortest"
	"github.com/xraph/jobpoller/executor/httpexec"
	"github.com/xraph/jobpoller/store"
	"github.com/xraph/jobpoller/store/memory"
	"github.com/xraph/jobpoller/store/postgres"
	redisstore "github.com/xraph/jobpoller/store/redis"
)

// OpenStore connects the backend selected by cfg.Driver, pings it and runs
// migrations when cfg.Migrate is set. The returned close function releases
// the store and any client it created.
func OpenStore(ctx context.Context, cfg jobpoller.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	var (
		s       store.Store
		closeFn func() error
	)
	switch cfg.Driver {
	case "", "memory":
		m := memory.New()
		s, closeFn = m, m.Close

	case "postgres":
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("%w: store.dsn is required for postgres", jobpoller.ErrInvalidConfig)
		}
		pg, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s, closeFn = pg, pg.Close

	case "redis":
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s, closeFn = redisstore.New(client, redisstore.WithLogger(logger)), client.Close

	default:
		return nil, nil, fmt.Errorf("%w: unknown store driver %q", jobpoller.ErrInvalidConfig, cfg.Driver)
	}

	if err := s.Ping(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ping %s store: %w", cfg.Driver, err)
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = closeFn()
			return nil, nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
		}
	}
	logger.Info("store opened", slog.String("driver", cfg.Driver))
	return s, closeFn, nil
}

// NewExecutor builds the executor client described by cfg. The fake
// executor finishes every job after cfg.FakePolls polls.
func NewExecutor(cfg jobpoller.ExecutorConfig, logger *slog.Logger) (executor.Client, error) {
	if cfg.Fake {
		polls := max(cfg.FakePolls, 1)
		script := make([]string, 0, polls)
		for range polls - 1 {
			script = append(script, "RUNNING")
		}
		script = append(script, "SUCCEEDED")
		logger.Warn("using the in-process fake executor", slog.Int("polls", polls))
		return executortest.New(executortest.Statuses(script...)...), nil
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: executor.base_url is required", jobpoller.ErrInvalidConfig)
	}
	client, err := httpexec.New(cfg.BaseURL,
		httpexec.WithQueryRateLimit(cfg.QueryRateLimit, cfg.QueryBurst),
		httpexec.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}
