// Package publish pushes the freshly computed dashboard into redis so
// read traffic can be served without touching the monitor.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-driftd/driftd/internal/metric/model"
	"github.com/go-redis/redis/v8"
)

func NewRedis(cfg *Config) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		key: cfg.DashboardKey,
		ttl: cfg.TTL,
	}
}

type Redis struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func (r *Redis) Publish(ctx context.Context, dashboard model.Dashboard) error {
	bytes, err := json.Marshal(dashboard)
	if err != nil {
		return fmt.Errorf("unable encode dashboard: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key, bytes, r.ttl).Err(); err != nil {
		return fmt.Errorf("unable publish dashboard: %w", err)
	}
	return nil
}

// Latest returns the cached dashboard, nil when the key is absent or
// expired.
func (r *Redis) Latest(ctx context.Context) (*model.Dashboard, error) {
	bytes, err := r.rdb.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable fetch dashboard: %w", err)
	}
	var dashboard model.Dashboard
	if err := json.Unmarshal(bytes, &dashboard); err != nil {
		return nil, fmt.Errorf("unable decode dashboard: %w", err)
	}
	return &dashboard, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
