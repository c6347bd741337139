package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/seralia/guildmind/internal/repos/testutil"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get miss: %v", err)
	}
	if ok {
		t.Fatal("ok = true on miss")
	}

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("get = %q ok=%v err=%v", got, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if ok {
		t.Fatal("entry survived its TTL")
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), -time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, err := cache.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expired entry still served")
	}
}

func newTestCachedStore(t *testing.T, cache Cache) *CachedStore {
	t.Helper()
	log := testutil.Logger(t)
	inner, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"), log)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	return NewCachedStore(inner, cache, time.Minute, log)
}

func TestCachedStoreServesFromCache(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	s := newTestCachedStore(t, cache)
	ctx := context.Background()

	first, err := s.Resolve(ctx, "g1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The second read must come from the cache.
	raw, ok, err := cache.Get(ctx, cacheKey("g1"))
	if err != nil || !ok || len(raw) == 0 {
		t.Fatalf("cache entry missing after resolve: ok=%v err=%v", ok, err)
	}
	second, err := s.Resolve(ctx, "g1")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if second.ModelName != first.ModelName {
		t.Errorf("cached resolve = %+v, want %+v", second, first)
	}
}

func TestCachedStoreInvalidatesOnUpdate(t *testing.T) {
	cache, _ := newTestRedisCache(t)
	s := newTestCachedStore(t, cache)
	ctx := context.Background()

	if _, err := s.Resolve(ctx, "g1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := s.Update(ctx, "g1", Overrides{ModelName: strptr("custom")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Resolve(ctx, "g1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ModelName != "custom" {
		t.Errorf("model = %s after update, want custom", got.ModelName)
	}

	if err := s.Reset(ctx, "g1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err = s.Resolve(ctx, "g1")
	if err != nil {
		t.Fatalf("resolve after reset: %v", err)
	}
	if got.ModelName != Defaults().ModelName {
		t.Errorf("model = %s after reset, want default", got.ModelName)
	}
}

func TestCachedStoreSurvivesCacheOutage(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	s := newTestCachedStore(t, cache)
	mr.Close()

	got, err := s.Resolve(context.Background(), "g1")
	if err != nil {
		t.Fatalf("resolve with dead cache: %v", err)
	}
	if got.Provider != Defaults().Provider {
		t.Errorf("resolved = %+v, want defaults", got)
	}
}
