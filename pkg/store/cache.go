package store

import (
	"sync"
	"sync/atomic"
)

// lruCache is an O(1) in-memory LRU over term -> Record, sized by
// cache_size (spec.md §4.3, §9 open question: "this spec fixes LRU").
// Modeled as a doubly linked list plus a hash map for constant-time
// get/put/evict, the same structure the pack's L1Cache
// (worker_cache_l1.go) uses for its in-memory tier.
//
// The cache belongs to a single Store handle; cross-goroutine access goes
// through mu, held only for the duration of the cache operation itself
// (spec.md §5).
type lruCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*lruNode
	head     *lruNode // most recently used
	tail     *lruNode // least recently used

	hits   int64
	misses int64
}

type lruNode struct {
	term       string
	record     Record
	prev, next *lruNode
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{capacity: capacity, entries: make(map[string]*lruNode)}
}

func (c *lruCache) get(term string) (Record, bool) {
	if c.capacity <= 0 {
		atomic.AddInt64(&c.misses, 1)
		return Record{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[term]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return Record{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	c.moveToFront(n)
	return n.record, true
}

// stats reports cumulative hit/miss counts and the current entry count, for
// the "info" command's vocabulary/cache-ratio report (SPEC_FULL.md §6).
func (c *lruCache) stats() (hits, misses int64, size int) {
	c.mu.Lock()
	size = len(c.entries)
	c.mu.Unlock()
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), size
}

func (c *lruCache) put(term string, rec Record) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[term]; ok {
		n.record = rec
		c.moveToFront(n)
		return
	}

	n := &lruNode{term: term, record: rec}
	c.entries[term] = n
	c.pushFront(n)

	if len(c.entries) > c.capacity {
		c.evictOldest()
	}
}

func (c *lruCache) invalidate(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[term]; ok {
		c.remove(n)
		delete(c.entries, term)
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*lruNode)
	c.head, c.tail = nil, nil
}

func (c *lruCache) pushFront(n *lruNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *lruCache) remove(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *lruCache) moveToFront(n *lruNode) {
	if c.head == n {
		return
	}
	c.remove(n)
	c.pushFront(n)
}

func (c *lruCache) evictOldest() {
	if c.tail == nil {
		return
	}
	oldest := c.tail
	c.remove(oldest)
	delete(c.entries, oldest.term)
}
