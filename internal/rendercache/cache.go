// Package rendercache keeps rendered post HTML in memory so reloads skip
// re-rendering bodies that did not change.
package rendercache

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Config sizes the cache. MaxCost is in bytes of HTML.
type Config struct {
	MaxCost     int64
	NumCounters int64
}

// Cache is a bounded HTML cache backed by ristretto.
type Cache struct {
	c *ristretto.Cache[string, string]
}

// New creates a cache. A zero MaxCost returns (nil, nil): caching disabled.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxCost <= 0 {
		return nil, nil
	}
	if cfg.NumCounters <= 0 {
		// ristretto wants ~10x the expected number of items.
		cfg.NumCounters = 1e5
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("rendercache: init: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get returns the cached HTML for key.
func (c *Cache) Get(key string) (string, bool) {
	return c.c.Get(key)
}

// Set stores html under key. Admission is asynchronous; call Wait to
// observe it.
func (c *Cache) Set(key, html string) {
	c.c.Set(key, html, int64(len(html))+1)
}

// Wait blocks until pending Sets are applied.
func (c *Cache) Wait() { c.c.Wait() }

// Close releases the cache goroutines.
func (c *Cache) Close() { c.c.Close() }
