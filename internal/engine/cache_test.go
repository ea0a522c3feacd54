package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Deterministic(t *testing.T) {
	a := CacheKey("core.asset.snapshot", map[string]any{"asset": "BTC", "deep": map[string]any{"x": 1.0, "y": 2.0}})
	b := CacheKey("core.asset.snapshot", map[string]any{"deep": map[string]any{"y": 2.0, "x": 1.0}, "asset": "BTC"})
	assert.Equal(t, a, b, "key must not depend on map iteration order")
	assert.Len(t, a, 64) // sha256 hex
}

func TestCacheKey_DistinguishesCapAndInput(t *testing.T) {
	base := CacheKey("core.asset.snapshot", map[string]any{"asset": "BTC"})
	assert.NotEqual(t, base, CacheKey("macro.regime", map[string]any{"asset": "BTC"}))
	assert.NotEqual(t, base, CacheKey("core.asset.snapshot", map[string]any{"asset": "ETH"}))
	assert.NotEqual(t, base, CacheKey("core.asset.snapshot", nil))
}

func TestEffectiveMaxAge_Clamp(t *testing.T) {
	ttl := 30 * time.Second

	assert.Equal(t, ttl, EffectiveMaxAge(ttl, nil))

	over := 1000
	assert.Equal(t, ttl, EffectiveMaxAge(ttl, &over), "freshness above TTL clamps to TTL")

	neg := -5
	assert.Equal(t, time.Duration(0), EffectiveMaxAge(ttl, &neg), "negative freshness clamps to zero")

	ten := 10
	assert.Equal(t, 10*time.Second, EffectiveMaxAge(ttl, &ten))
}

func TestResultCache_HitAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := NewResultCache(func() time.Time { return now })

	cache.Put("k", map[string]any{"price": 1.0}, "2026-01-01T00:00:00Z")

	payload, asOf, hit := cache.Get("k", 30*time.Second)
	require.True(t, hit)
	assert.Equal(t, "2026-01-01T00:00:00Z", asOf)
	assert.Equal(t, 1.0, payload["price"])

	// Ровно на границе TTL запись еще жива
	now = now.Add(30 * time.Second)
	_, _, hit = cache.Get("k", 30*time.Second)
	assert.True(t, hit)

	now = now.Add(time.Second)
	_, _, hit = cache.Get("k", 30*time.Second)
	assert.False(t, hit)
}

func TestResultCache_ForcedMissKeepsEntry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := NewResultCache(func() time.Time { return now })

	cache.Put("k", map[string]any{"v": 1.0}, "asof")

	// freshness_s=0 — форсированный промах, запись не трогаем
	_, _, hit := cache.Get("k", 0)
	assert.False(t, hit)

	_, _, hit = cache.Get("k", 30*time.Second)
	assert.True(t, hit, "forced miss must not evict the entry")
}

func TestResultCache_Clear(t *testing.T) {
	cache := NewResultCache(nil)
	cache.Put("k", map[string]any{}, "asof")
	cache.Clear()

	_, _, hit := cache.Get("k", time.Minute)
	assert.False(t, hit)
}
