// Package cache provides caching for rendered tiles and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages tile and query caches.
type Manager struct {
	tileCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TileTTL <= 0 {
		cfg.TileTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	// Configure tile cache
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	// Create query cache
	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		tileCache:  tileCache,
		queryCache: queryCache,
	}, nil
}

// GetTile retrieves a tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Reset drops every cached entry.
func (m *Manager) Reset() error {
	m.queryCache.Purge()
	return m.tileCache.Reset()
}

// versionHash shortens a dataset version (generation plus serialized state)
// for use in keys.
func versionHash(version string) string {
	if version == "" {
		return "0"
	}
	h := sha256.Sum256([]byte(version))
	return hex.EncodeToString(h[:])[:16]
}

// TileKey generates a cache key for a pyramid tile of dataset at version.
func TileKey(dataset string, z, x, y int, version string) string {
	return fmt.Sprintf("tile:%s:%d/%d/%d:%s", dataset, z, x, y, versionHash(version))
}

// ViewKey generates a cache key for a rendered data window.
func ViewKey(dataset string, c1, c2, r1, r2 float64, width, height int, version string) string {
	return fmt.Sprintf("view:%s:%g,%g,%g,%g:%dx%d:%s", dataset, c1, c2, r1, r2, width, height, versionHash(version))
}

// QueryKey generates a cache key for a JSON query result such as metadata or
// a dendrogram layout.
func QueryKey(dataset, kind, arg, version string) string {
	if arg == "" {
		return fmt.Sprintf("q:%s:%s:%s", dataset, kind, versionHash(version))
	}
	return fmt.Sprintf("q:%s:%s:%s:%s", dataset, kind, arg, versionHash(version))
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len":  m.tileCache.Len(),
		"tile_cache_cap":  m.tileCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
