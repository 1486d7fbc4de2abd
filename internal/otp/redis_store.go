package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/common"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "otp:session:"

// RedisStore backs the session store with Redis so multiple API instances
// share one active-code set. The key TTL mirrors the session TTL, which
// gives hard expiry even if no instance ever reads the code again.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put registers the session with SET NX and the session TTL.
func (r *RedisStore) Put(ctx context.Context, s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session for code %s already expired", s.Code)
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+s.Code, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: otp put: %v", common.ErrStorage, err)
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

// Get returns the session for a code. A missing key means the session never
// existed or Redis already expired it.
func (r *RedisStore) Get(ctx context.Context, code string) (Session, bool, error) {
	payload, err := r.client.Get(ctx, redisKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("%w: otp get: %v", common.ErrStorage, err)
	}
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, false, fmt.Errorf("corrupt otp session %s: %w", code, err)
	}
	return s, true, nil
}

// Remove deletes the session key.
func (r *RedisStore) Remove(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("%w: otp remove: %v", common.ErrStorage, err)
	}
	return nil
}
