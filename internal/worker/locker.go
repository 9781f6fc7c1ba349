package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobLocker serializes job runs across service instances.
type JobLocker interface {
	// Acquire takes the named lock for at most ttl. It returns false
	// when another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release frees the named lock. Expired locks release themselves.
	Release(ctx context.Context, name string)
}

type redisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisLocker returns a JobLocker backed by Redis SET NX keys. A nil
// client yields a locker that always grants, for single-instance runs.
func NewRedisLocker(client *redis.Client, prefix string, logger *zap.Logger) JobLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "mailtriage:jobs"
	}
	return &redisLocker{client: client, prefix: prefix, logger: logger}
}

func (l *redisLocker) key(name string) string {
	return l.prefix + ":" + name
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return l.client.SetNX(ctx, l.key(name), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (l *redisLocker) Release(ctx context.Context, name string) {
	if l.client == nil {
		return
	}
	if err := l.client.Del(ctx, l.key(name)).Err(); err != nil {
		l.logger.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
	}
}
