package repository

import (
	"context"
	"fmt"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "liftbook:lock:"

// unlockScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisLocker implements domain.Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil: %w", domain.ErrLockUnavailable)
	}

	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %v: %w", key, err, domain.ErrLockUnavailable)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s is held: %w", key, domain.ErrConcurrentModification)
	}

	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}
	return unlock, nil
}
