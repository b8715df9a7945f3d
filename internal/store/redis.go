package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentwire/agentwire/wire"
)

const (
	messageTTL = 24 * time.Hour
)

// RedisStore caches recent channel messages and backs the HTTP rate
// limiter. It is optional; the relay degrades to database reads when
// absent.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for the rate limit middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// channelMessagesKey returns the key for a channel's message sorted set.
func channelMessagesKey(channelID string) string {
	return fmt.Sprintf("channel:%s:messages", channelID)
}

// CacheMessage stores a message in the channel's recent-message window.
// Caching is best-effort; the database remains the source of truth.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *wire.Message) error {
	if msg.ChannelID == "" {
		return nil
	}
	defer observe("redis", "cache_message", time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := channelMessagesKey(msg.ChannelID)

	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	s.client.Expire(ctx, key, messageTTL)
	return nil
}

// RecentMessages retrieves the newest cached messages for a channel,
// newest first.
func (s *RedisStore) RecentMessages(ctx context.Context, channelID string, limit int) ([]wire.Message, error) {
	defer observe("redis", "recent_messages", time.Now())

	key := channelMessagesKey(channelID)

	raw, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(ClampLimit(limit)),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]wire.Message, 0, len(raw))
	for _, entry := range raw {
		var msg wire.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			continue // skip corrupt cache entries
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
