// Package cache provides caching for rendered previews and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PNGCacheSizeMB int
	PNGTTL         time.Duration
	QueryCacheSize int
}

// Manager manages preview and query caches.
type Manager struct {
	pngCache   *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PNGTTL <= 0 {
		cfg.PNGTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 256
	}

	pngCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.PNGTTL,
		CleanWindow:        cfg.PNGTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // previews are larger than map tiles
		HardMaxCacheSize:   cfg.PNGCacheSizeMB,
		Verbose:            false,
	}

	pngCache, err := bigcache.New(context.Background(), pngCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create png cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		pngCache:   pngCache,
		queryCache: queryCache,
	}, nil
}

// GetPNG retrieves a rendered preview from cache.
func (m *Manager) GetPNG(key string) ([]byte, bool) {
	data, err := m.pngCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPNG stores a rendered preview in cache.
func (m *Manager) SetPNG(key string, data []byte) error {
	return m.pngCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PurgeQueries drops every cached query result.
func (m *Manager) PurgeQueries() {
	m.queryCache.Purge()
}

// PreviewKey generates a cache key for a view preview. state is any byte
// form of what the preview shows (the render instruction, the display
// order); it is hashed.
func PreviewKey(dataset, view string, width, height int, state ...[]byte) string {
	base := fmt.Sprintf("png:%s:%s:%dx%d", dataset, view, width, height)
	if len(state) == 0 {
		return base
	}
	return base + ":" + digest(state...)
}

// SummaryKey generates a cache key for a selection summary over the given
// sample ids. Order of ids does not matter.
func SummaryKey(dataset string, ids []string) string {
	if ids == nil {
		return "summary:" + dataset
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	parts := make([][]byte, len(sorted))
	for i, id := range sorted {
		parts[i] = []byte(id)
	}
	return "summary:" + dataset + ":" + digest(parts...)
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"png_cache_len":   m.pngCache.Len(),
		"png_cache_cap":   m.pngCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.pngCache.Close()
}
