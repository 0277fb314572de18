package retrieval

import (
	"container/list"
	"sync"
)

// ephemeralCache keeps the most recently used ephemeral indexes, bounded by
// entry count. Rebuilding an index for a file already present replaces the
// old entry (last write wins).
type ephemeralCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // audio file ID -> order element
}

type cacheEntry struct {
	key string
	idx *EphemeralIndex
}

func newEphemeralCache(max int) *ephemeralCache {
	if max < 1 {
		max = 1
	}
	return &ephemeralCache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// get returns the cached index for key, marking it recently used.
func (c *ephemeralCache) get(key string) (*EphemeralIndex, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).idx, true
}

// put stores idx under key, evicting the least recently used entry when full.
func (c *ephemeralCache) put(key string, idx *EphemeralIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).idx = idx
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, idx: idx})
	for c.order.Len() > c.max {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).key)
	}
}

// drop removes key from the cache if present.
func (c *ephemeralCache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// len returns the number of cached indexes.
func (c *ephemeralCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
