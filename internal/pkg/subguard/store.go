package subguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached positive verification result for one user. The
// cache is a positive-result accelerator only: entries are written
// solely when IsActive is true and deleted on any negative check.
type Entry struct {
	UserID    uint       `json:"user_id"`
	IsActive  bool       `json:"is_active"`
	Status    string     `json:"status"`
	PlanName  string     `json:"plan_name"`
	PlanPrice float64    `json:"plan_price"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Store persists cache entries keyed per user.
type Store interface {
	Get(ctx context.Context, userID uint) (*Entry, error)
	Set(ctx context.Context, entry Entry, expiration time.Duration) error
	Delete(ctx context.Context, userID uint) error
}

type redisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore creates a Store over a Redis client. The namespace
// scopes keys so multiple logical caches never collide.
func NewRedisStore(client *redis.Client, namespace string) Store {
	if namespace == "" {
		namespace = "subguard"
	}
	return &redisStore{client: client, namespace: namespace}
}

func (s *redisStore) key(userID uint) string {
	return fmt.Sprintf("%s:user:%d", s.namespace, userID)
}

func (s *redisStore) Get(ctx context.Context, userID uint) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *redisStore) Set(ctx context.Context, entry Entry, expiration time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(entry.UserID), raw, expiration).Err()
}

func (s *redisStore) Delete(ctx context.Context, userID uint) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}
