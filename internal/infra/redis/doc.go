// Package redis provides the Redis integration for docflow.
//
// # Overview
//
// This package provides three components:
//   - Client: connection pool with TLS, startup ping retries and pool metrics
//   - Store: workflow.Repository backed by string keys and a creation-time index
//   - Notifier: notify.Sink that fans notifications out over Redis pub/sub
//
// # Quick Start
//
// Initialize the Redis client:
//
//	cfg := &config.RedisConfig{
//		Host:          "localhost",
//		Port:          6379,
//		DB:            0,
//		PoolSize:      10,
//		DialTimeout:   5 * time.Second,
//		MaxRetries:    3,
//		MinRetryDelay: 100 * time.Millisecond,
//		MaxRetryDelay: 3 * time.Second,
//	}
//
//	client, err := redis.New(ctx, cfg, log)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// # Store
//
// Each instance is one JSON value at "<prefix>wf:<kind>:<id>". Save runs
// inside WATCH/MULTI on that key, so two writers racing on the same version
// cannot both succeed: the loser's EXEC aborts and Save returns
// workflow.ErrVersionConflict.
//
//	store := redis.NewStore(client, "docflow:")
//	err := store.Save(ctx, inst, inst.Version)
//
// A sorted set "<prefix>wf:index" scored by creation time backs List.
//
// # Notifier
//
// Every API replica publishes to "docflow:notify:<group>" and listens on the
// pattern, so a websocket client connected to any replica sees every event:
//
//	n := redis.NewNotifier(client, log)
//	go n.Listen(ctx, hub)
//	relay := notify.NewRelay(n, log, workflow.TypeGenerationCompleted)
package redis
