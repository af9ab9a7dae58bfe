package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker hands out short-lived dispatch locks so two engine
// replicas cannot race the same (event, recipient, channel) key between
// the idempotency check and the record insert. Single-replica
// deployments run without it.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "safetynotify:lock:"
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, 1, ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

func (l *RedisLocker) Close() error { return l.client.Close() }
