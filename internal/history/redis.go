package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "faq:history:"

// RedisStore keeps transcripts in Redis lists so multiple instances share
// conversation state. Each entry is a JSON-encoded Message; retention is
// enforced with LTRIM and a key TTL.
type RedisStore struct {
	client   *redis.Client
	maxTurns int
	maxChars int
	ttl      time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisMaxTurns sets the exchange retention limit.
func WithRedisMaxTurns(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithRedisMaxMessageChars sets the per-message truncation limit.
func WithRedisMaxMessageChars(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithRedisTTL sets how long an idle conversation key survives.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:   client,
		maxTurns: DefaultMaxTurns,
		maxChars: DefaultMaxMessageChars,
		ttl:      30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(conversationID string) string {
	return redisKeyPrefix + conversationID
}

func (s *RedisStore) Append(ctx context.Context, conversationID, userMsg, assistantMsg string) error {
	entries := make([]interface{}, 0, 2)
	for _, m := range []Message{
		{Role: RoleUser, Content: clamp(userMsg, s.maxChars)},
		{Role: RoleAssistant, Content: clamp(assistantMsg, s.maxChars)},
	} {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
		entries = append(entries, data)
	}

	key := s.key(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, entries...)
	pipe.LTrim(ctx, key, int64(-s.maxTurns*2), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

func (s *RedisStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	raw, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var m Message
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
