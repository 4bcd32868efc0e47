// Package redis implements store.Store on Redis.
//
// Runs are Hashes guarded by WATCH/MULTI transactions: a run's version
// field is compared before every write, and a per-slot key holds the ID of
// the slot's non-terminal run. Sorted Sets index runs by creation order.
// Each run's event log is a Stream. Cron entries are JSON strings.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
