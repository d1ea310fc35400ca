// Package cache provides caching for encoded plot specs and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	SpecCacheSizeMB int
	SpecTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages spec and query caches.
type Manager struct {
	specCache    *bigcache.BigCache
	queryCache   *lru.Cache[string, []byte]
	maxSpecBytes int
	rejected     atomic.Int64
}

// minShardMB is the smallest shard; a spec must fit in one shard.
const minShardMB = 4

// specShards picks the largest power-of-two shard count, at most 256,
// that keeps every shard at least minShardMB.
func specShards(sizeMB int) int {
	shards := 1
	for shards < 256 && sizeMB/(shards*2) >= minShardMB {
		shards *= 2
	}
	return shards
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SpecCacheSizeMB <= 0 {
		cfg.SpecCacheSizeMB = 256
	}
	shards := specShards(cfg.SpecCacheSizeMB)

	specCacheConfig := bigcache.Config{
		Shards:             shards,
		LifeWindow:         cfg.SpecTTL,
		CleanWindow:        cfg.SpecTTL / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       512 * 1024, // a 5000-point spec is a few hundred KB
		HardMaxCacheSize:   cfg.SpecCacheSizeMB,
		Verbose:            false,
	}

	specCache, err := bigcache.New(context.Background(), specCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create spec cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		specCache:    specCache,
		queryCache:   queryCache,
		maxSpecBytes: cfg.SpecCacheSizeMB * 1024 * 1024 / shards,
	}, nil
}

// GetSpec retrieves an encoded plot spec from cache.
func (m *Manager) GetSpec(key string) ([]byte, bool) {
	data, err := m.specCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetSpec stores an encoded plot spec in cache. Specs that do not fit in
// a shard are rejected and counted in Stats.
func (m *Manager) SetSpec(key string, data []byte) error {
	if err := m.specCache.Set(key, data); err != nil {
		m.rejected.Add(1)
		return fmt.Errorf("spec %s (%d bytes) not cached: %w", key, len(data), err)
	}
	return nil
}

// MaxSpecBytes returns the shard size, which bounds a cacheable spec.
func (m *Manager) MaxSpecBytes() int { return m.maxSpecBytes }

// Rejected returns the number of specs too large to cache.
func (m *Manager) Rejected() int64 { return m.rejected.Load() }

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// SpecKey generates a cache key for a scatter spec. Hover keys are part
// of the rendered text, so their order matters and is kept.
func SpecKey(kind string, bases []string, components []int, color string, hover []string, maxPoints int, seed uint64, extra string) string {
	base := fmt.Sprintf("%s:%s:%v:%s:n=%d:s=%d", kind, strings.Join(bases, ","), components, color, maxPoints, seed)
	if len(hover) == 0 && extra == "" {
		return base
	}

	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range hover {
		h.Write([]byte("\x00" + k))
	}
	h.Write([]byte("\x01" + extra))
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// HistogramKey generates a cache key for a histogram. Group order changes
// series names, so it is kept; nil and empty groups are the same.
func HistogramKey(key string, groups []string, bins, minBins, maxBins int, displayAll bool) string {
	g := "none"
	if len(groups) > 0 {
		g = strings.Join(groups, ",")
	}
	return fmt.Sprintf("hist:%s:%s:b=%d:%d-%d:all=%t", key, g, bins, minBins, maxBins, displayAll)
}

// LegendKey generates a cache key for a category legend.
func LegendKey(column string, categoryFilter []string) string {
	base := "legend:" + column
	if categoryFilter == nil {
		return base
	}
	if len(categoryFilter) == 0 {
		return base + ":none"
	}

	sorted := append([]string(nil), categoryFilter...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, v := range sorted {
		h.Write([]byte(v + "\x00"))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	stats := m.specCache.Stats()
	return map[string]interface{}{
		"spec_cache_len":    m.specCache.Len(),
		"spec_cache_cap":    m.specCache.Capacity(),
		"spec_cache_hits":   stats.Hits,
		"spec_cache_misses": stats.Misses,
		"spec_cache_rejected": m.rejected.Load(),
		"query_cache_len":   m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.specCache.Close()
}
