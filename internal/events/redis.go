package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisDispatcher decorates another dispatcher and additionally fans
// every event out to a Redis channel, so external consumers (dashboards,
// chat bridges) can follow the ticket stream. Redis publish failures are
// logged but never fail the originating operation.
type redisDispatcher struct {
	inner   Dispatcher
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisDispatcher wraps inner with Redis fan-out on the given channel.
func NewRedisDispatcher(inner Dispatcher, client *redis.Client, channel string, logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisDispatcher{
		inner:   inner,
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (d *redisDispatcher) Publish(ctx context.Context, event Event) error {
	if err := d.inner.Publish(ctx, event); err != nil {
		return err
	}
	if d.client == nil || d.channel == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Warn("event marshal failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return nil
	}
	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		d.logger.Warn("redis event publish failed",
			zap.String("channel", d.channel),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return nil
}

func (d *redisDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.inner.Subscribe(eventType, handler)
}
