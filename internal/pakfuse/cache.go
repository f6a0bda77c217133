package pakfuse

import "container/list"

// blockCacheBudget bounds the total decompressed bytes a single open file
// handle's block cache may hold (spec §4.8: "a small per-open cache (LRU,
// bounded by a few MiB)"). Caching is per open file handle, not global, to
// keep memory predictable and avoid cross-inode eviction thrash.
const blockCacheBudget = 4 * 1024 * 1024

// blockCache is an LRU cache of decompressed compression blocks, keyed by
// block index within one record. It is not safe for concurrent use; callers
// serialize access with their own mutex (see openFile in pakfuse.go).
type blockCache struct {
	budget int
	used   int
	ll     *list.List
	index  map[int]*list.Element
}

type blockCacheEntry struct {
	block int
	data  []byte
}

func newBlockCache() *blockCache {
	return &blockCache{
		budget: blockCacheBudget,
		ll:     list.New(),
		index:  make(map[int]*list.Element),
	}
}

func (c *blockCache) get(block int) ([]byte, bool) {
	el, ok := c.index[block]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*blockCacheEntry).data, true
}

func (c *blockCache) put(block int, data []byte) {
	if el, ok := c.index[block]; ok {
		c.used -= len(el.Value.(*blockCacheEntry).data)
		el.Value = &blockCacheEntry{block: block, data: data}
		c.ll.MoveToFront(el)
		c.used += len(data)
	} else {
		el := c.ll.PushFront(&blockCacheEntry{block: block, data: data})
		c.index[block] = el
		c.used += len(data)
	}
	for c.used > c.budget && c.ll.Len() > 1 {
		back := c.ll.Back()
		entry := back.Value.(*blockCacheEntry)
		c.ll.Remove(back)
		delete(c.index, entry.block)
		c.used -= len(entry.data)
	}
}
