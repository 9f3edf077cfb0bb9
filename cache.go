package snapdb

import "container/list"

// DefaultCacheSize bounds each store's identity cache unless overridden
// with WithCacheSize.
const DefaultCacheSize = 10000

// cache is a bounded identity map from index to record, evicted
// least-recently-used by access order. It guarantees at most one live
// in-memory instance per index while the entry remains cached.
// Synchronization is the owning store's job.
type cache struct {
	capacity int
	m        map[uint64]*list.Element
	ll       *list.List // front = most recently used
}

type cacheEntry struct {
	idx uint64
	rec Record
}

func newCache(capacity int) *cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &cache{
		capacity: capacity,
		m:        make(map[uint64]*list.Element),
		ll:       list.New(),
	}
}

func (c *cache) get(idx uint64) (Record, bool) {
	el := c.m[idx]
	if el == nil {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).rec, true
}

// insert is idempotent: storing the same identity twice is a no-op and
// leaves the cache size unchanged. Inserting a different record under a
// live index replaces it (explicit overwrite only).
func (c *cache) insert(idx uint64, rec Record) {
	if el := c.m[idx]; el != nil {
		e := el.Value.(*cacheEntry)
		if e.rec != rec {
			e.rec = rec
		}
		c.ll.MoveToFront(el)
		return
	}
	c.m[idx] = c.ll.PushFront(&cacheEntry{idx: idx, rec: rec})
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		delete(c.m, back.Value.(*cacheEntry).idx)
		c.ll.Remove(back)
	}
}

func (c *cache) remove(idx uint64) {
	if el := c.m[idx]; el != nil {
		delete(c.m, idx)
		c.ll.Remove(el)
	}
}

func (c *cache) len() int {
	return c.ll.Len()
}
