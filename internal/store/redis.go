package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"elastic-hive-sync/internal/config"
)

// RedisStore keeps processed IDs in a Redis SET and the summary in a HASH.
type RedisStore struct {
	rdb     *redis.Client
	setKey  string
	metaKey string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedis creates the client and verifies the connection with a PING.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisStore(rdb, cfg.Prefix), nil
}

func newRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "elastic-hive-sync"
	}
	return &RedisStore{
		rdb:     rdb,
		setKey:  prefix + ":processed_ids",
		metaKey: prefix + ":meta",
		logger:  slog.Default().With("component", "state", "backend", "redis"),
		now:     time.Now,
	}
}

func (r *RedisStore) Name() string { return "redis:" + r.setKey }

func (r *RedisStore) Load(ctx context.Context) *ProcessedSet {
	ids, err := r.rdb.SMembers(ctx, r.setKey).Result()
	if err != nil {
		r.logger.Error("read processed ids, starting empty", "key", r.setKey, "error", err)
		return NewProcessedSet()
	}
	set := NewProcessedSet(ids...)
	if updated, err := r.rdb.HGet(ctx, r.metaKey, "updated").Result(); err == nil {
		set.updated = parseUpdated(updated)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("read state meta", "key", r.metaKey, "error", err)
	}
	r.logger.Info("state loaded", "processed", set.Len())
	return set
}

func (r *RedisStore) Save(ctx context.Context, set *ProcessedSet) error {
	now := r.now()
	ids := set.IDs()
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(members) > 0 {
			p.SAdd(ctx, r.setKey, members...)
		}
		p.HSet(ctx, r.metaKey,
			"updated", now.Format(timeLayout),
			"total_processed", strconv.Itoa(set.Len()),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis: %v", ErrPersist, err)
	}
	set.updated = now
	return nil
}

func (r *RedisStore) Close() error { return r.rdb.Close() }
