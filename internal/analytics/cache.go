package analytics

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source is a loaded database the cache can compute stats for.
type Source interface {
	Querier
	Fingerprint() string
}

// Key identifies a cached result: the content hash of the database file and
// the table the stats were computed from.
type Key struct {
	Fingerprint string
	Table       string
}

func (k Key) String() string {
	return k.Fingerprint + "/" + k.Table
}

// Cache memoizes results per Key. Concurrent misses for the same key share
// one computation. Invalidate drops a database's entries; a computation that
// was in flight when its key was invalidated is returned to its callers but
// not stored.
type Cache struct {
	calc   *Calculator
	logger *zap.Logger
	group  singleflight.Group

	mu         sync.Mutex
	entries    map[Key]Result
	generation uint64
}

// NewCache creates an empty cache in front of calc.
func NewCache(calc *Calculator, logger *zap.Logger) *Cache {
	return &Cache{
		calc:    calc,
		logger:  logger,
		entries: make(map[Key]Result),
	}
}

// Get returns the stats of src, computing them on the first request.
func (c *Cache) Get(ctx context.Context, src Source) (Result, error) {
	fp := src.Fingerprint()
	if fp == "" {
		return nil, ErrNoFingerprint
	}
	key := Key{Fingerprint: fp, Table: c.calc.Table()}

	c.mu.Lock()
	if r, ok := c.entries[key]; ok {
		c.mu.Unlock()
		cacheRequests.WithLabelValues("hit").Inc()
		return r, nil
	}
	gen := c.generation
	c.mu.Unlock()
	cacheRequests.WithLabelValues("miss").Inc()

	// Each caller stops waiting on its own ctx; the shared computation runs
	// detached from cancellation until it finishes.
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		r, err := c.calc.Stats(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.entries[key] = r
			cachedResults.Set(float64(len(c.entries)))
		}
		c.mu.Unlock()
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("Stats computation failed", zap.String("key", key.String()), zap.Error(res.Err))
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Stats computation shared", zap.String("key", key.String()))
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		c.logger.Debug("Caller stopped waiting for stats", zap.String("key", key.String()), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

// Peek returns a cached result without computing it.
func (c *Cache) Peek(fingerprint string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[Key{Fingerprint: fingerprint, Table: c.calc.Table()}]
	return r, ok
}

// Invalidate drops every entry computed from the database with fingerprint
// and returns how many were removed.
func (c *Cache) Invalidate(fingerprint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	removed := 0
	for key := range c.entries {
		if key.Fingerprint == fingerprint {
			delete(c.entries, key)
			removed++
		}
	}
	cachedResults.Set(float64(len(c.entries)))
	c.logger.Debug("Cache invalidated", zap.String("fingerprint", fingerprint), zap.Int("removed", removed))
	return removed
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[Key]Result)
	cachedResults.Set(0)
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
