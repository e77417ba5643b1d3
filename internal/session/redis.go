package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"partner-bot/internal/cache"
)

const keyPrefix = "session:"

// RedisStore keeps sessions in Redis as JSON. Abandoned sessions expire
// through the key TTL, which is refreshed on every Put.
type RedisStore struct {
	redis *cache.Redis
	ttl   time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store backed by the given client.
func NewRedisStore(redis *cache.Redis, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redis, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, partnerID int64) (*Session, error) {
	data, found, err := r.redis.Get(ctx, sessionKey(partnerID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	return decode(data)
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.redis.Set(ctx, sessionKey(s.PartnerID), data, r.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, partnerID int64) error {
	if err := r.redis.Delete(ctx, sessionKey(partnerID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Count reports how many sessions have not expired yet.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.redis.Count(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	return &s, nil
}

func sessionKey(partnerID int64) string {
	return keyPrefix + strconv.FormatInt(partnerID, 10)
}
