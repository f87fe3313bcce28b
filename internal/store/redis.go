package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rebanada:conversation:"

// RedisConversationStore keeps conversations as JSON values that expire
// after ttl.
type RedisConversationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisConversationStore connects using a redis:// URL.
func NewRedisConversationStore(url string, ttl time.Duration) (*RedisConversationStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return NewRedisConversationStoreWithClient(redis.NewClient(opts), ttl), nil
}

func NewRedisConversationStoreWithClient(client *redis.Client, ttl time.Duration) *RedisConversationStore {
	return &RedisConversationStore{client: client, ttl: ttl}
}

func (r *RedisConversationStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisConversationStore) Get(ctx context.Context, senderID string) (*Conversation, error) {
	b, err := r.client.Get(ctx, redisKeyPrefix+senderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(b, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

func (r *RedisConversationStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.SenderID == "" {
		return errors.New("sender id is required")
	}
	b, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+conv.SenderID, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *RedisConversationStore) Close() error {
	return r.client.Close()
}
