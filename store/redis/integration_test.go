//go:build integration

package redis_test

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/jobpoller/store"
	"github.com/xraph/jobpoller/store/redis"
	"github.com/xraph/jobpoller/store/storetest"
)

func TestRedisContainer(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	storetest.Run(t, func(t *testing.T) store.Store {
		if flushErr := client.FlushDB(ctx).Err(); flushErr != nil {
			t.Fatalf("flush: %v", flushErr)
		}
		return redis.New(client)
	})
}
