package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher issues PUBLISH on a global channel and a per-user channel.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher uses prefix for channel names, e.g. "safewatch:sos:".
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// EventsChannel receives every update.
func (p *RedisPublisher) EventsChannel() string { return p.prefix + "events" }

// UserChannel receives updates for one user.
func (p *RedisPublisher) UserChannel(userID string) string { return p.prefix + "user:" + userID }

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := p.client.Publish(ctx, p.EventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if err := p.client.Publish(ctx, p.UserChannel(u.UserID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
