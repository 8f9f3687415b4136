// Package ctxcache caches filter contexts by a digest of the text that
// identifies them.
package ctxcache

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/starford/cmmgraph/internal/apperr"
	"github.com/starford/cmmgraph/internal/checksum"
)

// Builder constructs a payload on a cache miss.
type Builder func() (any, error)

// Stats reports cache counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Builds  int64 `json:"builds"`
}

// Cache maps digests to ref-counted payload handles. Entries remember the
// nodes they were built for so a change notification on a node can drop
// them; rebuilding is left to the next lookup.
type Cache struct {
	store  *gocache.Cache
	group  singleflight.Group
	logger *slog.Logger

	mu      sync.Mutex
	sources map[uint64]map[string]struct{}

	hits, misses, builds atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for hit/miss diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New returns a cache. A zero defaultExpiration keeps entries until they are
// invalidated; a zero cleanupInterval disables the janitor.
func New(defaultExpiration, cleanupInterval time.Duration, opts ...Option) *Cache {
	if defaultExpiration == 0 {
		defaultExpiration = gocache.NoExpiration
	}
	c := &Cache{
		store:   gocache.New(defaultExpiration, cleanupInterval),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		sources: make(map[uint64]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.store.OnEvicted(func(_ string, v any) {
		if h, ok := v.(*Handle); ok {
			h.Release()
		}
	})
	return c
}

// Get returns a reference to the payload cached for text, or
// apperr.ErrCacheMiss.
func (c *Cache) Get(text string) (*Handle, error) {
	key := checksum.Key(text).Hex()
	v, ok := c.store.Get(key)
	if !ok {
		return nil, apperr.ErrCacheMiss
	}
	return v.(*Handle).acquire(), nil
}

// GetOrCreate returns a reference to the payload cached for text, calling
// build on a miss. Concurrent misses for the same text share one build.
// sources lists the node IDs whose change invalidates the entry. The
// caller owns the returned handle and must release it. Errors returned by
// build are passed through unchanged and nothing is cached.
func (c *Cache) GetOrCreate(text string, sources []uint64, build Builder) (*Handle, error) {
	digest := checksum.Key(text)
	key := digest.Hex()

	if v, ok := c.store.Get(key); ok {
		c.hits.Add(1)
		c.track(key, sources)
		c.logger.Debug("ctxcache: hit", slog.String("key", digest.String()))
		return v.(*Handle).acquire(), nil
	}

	c.misses.Add(1)
	c.logger.Debug("ctxcache: miss", slog.String("key", digest.String()))

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		payload, err := build()
		if err != nil {
			return nil, err
		}
		c.builds.Add(1)
		h := newHandle(digest, payload)
		c.store.SetDefault(key, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	c.track(key, sources)
	return v.(*Handle).acquire(), nil
}

func (c *Cache) track(key string, sources []uint64) {
	if len(sources) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range sources {
		keys, ok := c.sources[id]
		if !ok {
			keys = make(map[string]struct{})
			c.sources[id] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate removes every entry built for the node with the given ID and
// returns how many were removed.
func (c *Cache) Invalidate(nodeID uint64) int {
	c.mu.Lock()
	keys := c.sources[nodeID]
	delete(c.sources, nodeID)
	c.mu.Unlock()

	n := 0
	for key := range keys {
		if _, ok := c.store.Get(key); ok {
			c.store.Delete(key)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("ctxcache: invalidated", slog.Uint64("node", nodeID), slog.Int("entries", n))
	}
	return n
}

// Remove drops the entry cached for text.
func (c *Cache) Remove(text string) {
	c.store.Delete(checksum.Key(text).Hex())
}

// Flush drops all entries.
func (c *Cache) Flush() {
	for key := range c.store.Items() {
		c.store.Delete(key)
	}
	c.mu.Lock()
	clear(c.sources)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.store.ItemCount(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Builds:  c.builds.Load(),
	}
}
