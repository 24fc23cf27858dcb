package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default Redis keys.
const (
	DefaultRedisChannel = "leadguard:events"
	DefaultRecentKey    = "leadguard:events:recent"
	DefaultRecentLimit  = 500
)

// RedisPublisher publishes events on a Redis channel and keeps a capped
// list of the most recent envelopes for operators to inspect.
type RedisPublisher struct {
	Redis       *redis.Client
	Channel     string
	RecentKey   string
	RecentLimit int64
	now         func() time.Time
}

// NewRedisPublisher connects to redisURL and verifies the connection.
func NewRedisPublisher(redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}

	return NewRedisPublisherWithClient(client), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		Redis:       client,
		Channel:     DefaultRedisChannel,
		RecentKey:   DefaultRecentKey,
		RecentLimit: DefaultRecentLimit,
		now:         time.Now,
	}
}

// Publish sends the envelope to subscribers and records it in the recent
// list in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	body, err := Marshal(e, p.now())
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	pipe := p.Redis.Pipeline()
	pipe.Publish(ctx, p.Channel, body)
	pipe.LPush(ctx, p.RecentKey, body)
	pipe.LTrim(ctx, p.RecentKey, 0, p.RecentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.EventName(), err)
	}
	return nil
}

// Recent returns up to n of the most recently published events, newest
// first. Entries that no longer decode are skipped.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		return []Event{}, nil
	}
	raw, err := p.Redis.LRange(ctx, p.RecentKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		e, _, err := Unmarshal([]byte(r))
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping checks the redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.Redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.Redis.Close()
}
