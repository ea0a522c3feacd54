package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// cacheEntry — результат вызова вместе с моментом записи.
type cacheEntry struct {
	result   cachedResult
	storedAt time.Time
}

type cachedResult struct {
	Payload map[string]any
	AsOf    string
}

// ResultCache — in-memory кэш результатов способностей с TTL.
// Один мьютекс на всю мапу: трафик шлюза измеряется сотнями RPS,
// и шардирование здесь не окупается.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewResultCache принимает источник времени; nil означает time.Now.
func NewResultCache(now func() time.Time) *ResultCache {
	if now == nil {
		now = time.Now
	}
	return &ResultCache{
		entries: make(map[string]cacheEntry),
		now:     now,
	}
}

// Get возвращает запись не старше maxAge. maxAge <= 0 — форсированный
// промах (запись при этом не трогаем: другой вызов с полным TTL ее
// еще увидит).
func (c *ResultCache) Get(key string, maxAge time.Duration) (map[string]any, string, bool) {
	if maxAge <= 0 {
		return nil, "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if c.now().Sub(entry.storedAt) > maxAge {
		return nil, "", false
	}
	return entry.result.Payload, entry.result.AsOf, true
}

// Put сохраняет результат безусловно, перезаписывая предыдущий.
func (c *ResultCache) Put(key string, payload map[string]any, asOf string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		result:   cachedResult{Payload: payload, AsOf: asOf},
		storedAt: c.now(),
	}
}

// Clear сбрасывает кэш целиком (используется при включении bypass).
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// EffectiveMaxAge — возраст, который реально допускает вызов:
// клиентский freshness_s зажимается в [0, TTL способности].
// Запросить «более старый» результат, чем разрешает TTL, нельзя.
func EffectiveMaxAge(ttl time.Duration, freshnessS *int) time.Duration {
	if freshnessS == nil {
		return ttl
	}
	age := time.Duration(*freshnessS) * time.Second
	if age < 0 {
		return 0
	}
	if age > ttl {
		return ttl
	}
	return age
}

// CacheKey детерминированно сворачивает cap + input в sha256-хэш.
// Вход канонизируется (рекурсивная сортировка ключей), поэтому
// {"a":1,"b":2} и {"b":2,"a":1} дают один ключ.
func CacheKey(capID string, input map[string]any) string {
	var sb strings.Builder
	sb.WriteString(capID)
	sb.WriteByte('\n')
	writeCanonical(&sb, input)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			b, _ := json.Marshal(k)
			sb.Write(b)
			sb.WriteByte(':')
			writeCanonical(sb, t[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			fmt.Fprintf(sb, "%v", t)
			return
		}
		sb.Write(b)
	}
}
