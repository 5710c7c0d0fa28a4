package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rillcall/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// Credential is a resolved TURN username/password pair.
type Credential struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// Cache stores credentials keyed by ICE server.
type Cache interface {
	Get(ctx context.Context, key string) (Credential, bool, error)
	Set(ctx context.Context, key string, cred Credential, ttl time.Duration) error
}

// MemoryCache keeps credentials in process.
type MemoryCache struct {
	items *cache.Cache[Credential]
}

func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{items: cache.New[Credential](defaultTTL)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Credential, bool, error) {
	cred, ok := m.items.Get(key)
	return cred, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, cred Credential, ttl time.Duration) error {
	m.items.SetWithTTL(key, cred, ttl)
	return nil
}

func (m *MemoryCache) Close() {
	m.items.Stop()
}

const redisKeyPrefix = "rillcall:turn:"

// RedisCache shares credentials between call nodes.
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, prefix: redisKeyPrefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (Credential, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("failed to read cached credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return Credential{}, false, fmt.Errorf("failed to decode cached credential: %w", err)
	}
	return cred, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, cred Credential, ttl time.Duration) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache credential: %w", err)
	}
	return nil
}
