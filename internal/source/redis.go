package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Redis reads the live record stored as a JSON document under one key.
type Redis struct {
	client stringGetter
	key    string
}

func OpenRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr: %w", ErrNotConfigured)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedis(rdb, cfg.Key), nil
}

func newRedis(client stringGetter, key string) *Redis {
	if key == "" {
		key = "live"
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Latest(ctx context.Context) (types.SensorSnapshot, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return types.SensorSnapshot{}, ErrNoData
	}
	if err != nil {
		return types.SensorSnapshot{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return types.SensorSnapshot{}, fmt.Errorf("redis decode %s: %w", r.key, err)
	}
	if rec == nil {
		return types.SensorSnapshot{}, ErrNoData
	}
	return Normalize(rec), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
