package pms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// refreshMargin is how long before expiry a cached token is replaced.
const refreshMargin = 5 * time.Minute

// Token is a short-lived API access token.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Fresh reports whether the token can still be used at now.
func (t Token) Fresh(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-refreshMargin))
}

// TokenCache stores the current access token. Losing it is harmless: the
// client simply requests a new one.
type TokenCache interface {
	Get(ctx context.Context) (Token, bool)
	Set(ctx context.Context, t Token) error
	Clear(ctx context.Context) error
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu  sync.Mutex
	tok Token
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Get(_ context.Context) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok, c.tok.Value != ""
}

func (c *MemoryTokenCache) Set(_ context.Context, t Token) error {
	c.mu.Lock()
	c.tok = t
	c.mu.Unlock()
	return nil
}

func (c *MemoryTokenCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.tok = Token{}
	c.mu.Unlock()
	return nil
}

// RedisTokenCache shares one token between service replicas.
type RedisTokenCache struct {
	rdb *redis.Client
	key string
}

func NewRedisTokenCache(rdb *redis.Client, key string) *RedisTokenCache {
	if key == "" {
		key = "staysync:pms:token"
	}
	return &RedisTokenCache{rdb: rdb, key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (Token, bool) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		return Token{}, false
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, false
	}
	return t, t.Value != ""
}

func (c *RedisTokenCache) Set(ctx context.Context, t Token) error {
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return errors.New("pms: refusing to cache an expired token")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisTokenCache) Clear(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
