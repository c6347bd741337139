package settings

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seralia/guildmind/internal/platform/logger"
)

// DefaultCacheTTL bounds how stale a cached settings read may be when the
// backing file is edited out of band.
const DefaultCacheTTL = 5 * time.Minute

// Cache is the resolved-settings cache. Misses are (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisCache backs the settings cache with redis so multiple processes
// share one view.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// MemoryCache is the single-process fallback when no redis address is
// configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{val: val, expires: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// CachedStore puts a TTL cache in front of a Store. Updates and resets
// invalidate eagerly; a failed cache read or write never fails the call.
type CachedStore struct {
	inner Store
	cache Cache
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedStore(inner Store, cache Cache, ttl time.Duration, log *logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   log.With("service", "SettingsCache"),
	}
}

func cacheKey(conversationID string) string {
	return "guildmind:settings:" + conversationID
}

func (s *CachedStore) Resolve(ctx context.Context, conversationID string) (Settings, error) {
	key := cacheKey(conversationID)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Settings cache read failed", "conversation_id", conversationID, "error", err)
	} else if ok {
		var out Settings
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		s.log.Warn("Dropping undecodable settings cache entry", "conversation_id", conversationID)
	}

	out, err := s.inner.Resolve(ctx, conversationID)
	if err != nil {
		return Settings{}, err
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.log.Warn("Settings cache write failed", "conversation_id", conversationID, "error", err)
		}
	}
	return out, nil
}

func (s *CachedStore) Update(ctx context.Context, conversationID string, o Overrides) (Settings, error) {
	out, err := s.inner.Update(ctx, conversationID, o)
	if err != nil {
		return Settings{}, err
	}
	s.invalidate(ctx, conversationID)
	return out, nil
}

func (s *CachedStore) Reset(ctx context.Context, conversationID string) error {
	if err := s.inner.Reset(ctx, conversationID); err != nil {
		return err
	}
	s.invalidate(ctx, conversationID)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, conversationID string) {
	if err := s.cache.Delete(ctx, cacheKey(conversationID)); err != nil {
		s.log.Warn("Settings cache invalidation failed", "conversation_id", conversationID, "error", err)
	}
}
