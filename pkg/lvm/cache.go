package lvm

import (
	"context"
	"sync"
)

// cache is the process-wide, explicitly invalidated metadata cache. It is
// lazily populated by one full lvs listing per generation and never
// partially refreshed: a single list call is cheaper than per-volume
// queries and avoids read skew between a volume's base, overlay, and
// revision variants.
type cache struct {
	mu         sync.Mutex
	generation uint64
	valid      bool
	volumes    map[string]Volume
	pool       PoolInfo
}

func (s *cache) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.valid = false
	s.volumes = nil
}

// cached returns the current generation's listing, populating it if
// needed. Reads do not take the mutation lock; a cache miss issues an
// unlocked lvs call (tool-side reads interleave safely). The generation
// counter guards the refill: if an Update invalidated the cache while the
// listing was in flight, the stale result is returned to the caller but
// not stored.
func (c *Client) cached(ctx context.Context) (map[string]Volume, PoolInfo, error) {
	c.cache.mu.Lock()
	if c.cache.valid {
		volumes, pool := c.cache.volumes, c.cache.pool
		c.cache.mu.Unlock()
		return volumes, pool, nil
	}
	generation := c.cache.generation
	c.cache.mu.Unlock()

	volumes, pool, err := c.listAll(ctx)
	if err != nil {
		return nil, PoolInfo{}, err
	}

	c.cache.mu.Lock()
	if c.cache.generation == generation {
		c.cache.valid = true
		c.cache.volumes = volumes
		c.cache.pool = pool
	}
	c.cache.mu.Unlock()
	return volumes, pool, nil
}
