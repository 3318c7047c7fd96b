package cache

import (
	log "log/slog"
	"sync"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

type lruEntry struct {
	obj     persistent.Object
	image   []byte
	dllNode *node[odb.OID]
}

// lruCache holds its objects strongly and keeps them in recency order, most recent at the
// head of the list.
type lruCache struct {
	lock         sync.Mutex
	lookup       map[odb.OID]*lruEntry
	dll          *doublyLinkedList[odb.OID]
	maxCapacity  int
	evictPercent int
	flush        FlushFunc
	flushing     bool
	prefetches   prefetchQueue
}

// NewLRU returns a bounded cache. Once maxCapacity entries are held, adding calls flush and
// then evicts evictPercent of the least recently used clean entries in one batch.
func NewLRU(maxCapacity, evictPercent int, flush FlushFunc) ObjectCache {
	if maxCapacity < 1 {
		maxCapacity = 1
	}
	if evictPercent < 1 || evictPercent > 100 {
		evictPercent = 10
	}
	return &lruCache{
		lookup:       make(map[odb.OID]*lruEntry, maxCapacity),
		dll:          newDoublyLinkedList[odb.OID](),
		maxCapacity:  maxCapacity,
		evictPercent: evictPercent,
		flush:        flush,
	}
}

func (c *lruCache) Add(oid odb.OID, obj persistent.Object) {
	if obj == nil {
		return
	}
	c.lock.Lock()
	if _, ok := c.lookup[oid]; ok {
		c.lock.Unlock()
		return
	}
	full := c.isFull()
	c.lock.Unlock()

	if full {
		c.makeRoom()
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	// A flush may have added this identifier meanwhile.
	if _, ok := c.lookup[oid]; ok {
		return
	}
	c.lookup[oid] = &lruEntry{obj: obj, dllNode: c.dll.addToHead(oid)}
	if s := obj.PersistentState(); !s.IsNew() && !s.IsLoaded() {
		c.prefetches.push(oid)
	}
}

// makeRoom flushes pending writes then evicts a batch from the tail. The flush runs
// without the lock held since it adds newly referenced objects to this cache.
func (c *lruCache) makeRoom() {
	c.lock.Lock()
	reentrant := c.flushing
	c.flushing = true
	c.lock.Unlock()

	if !reentrant && c.flush != nil {
		if err := c.flush(); err != nil {
			log.Warn("object cache flush before eviction failed", "error", err)
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if !reentrant {
		c.flushing = false
	}
	c.evict()
}

// evict removes up to evictPercent of capacity from the tail, skipping entries that can't
// be dropped without losing state.
func (c *lruCache) evict() {
	batch := c.maxCapacity * c.evictPercent / 100
	if batch < 1 {
		batch = 1
	}
	n := c.dll.tail
	for n != nil && batch > 0 {
		prev := n.prev
		if e, ok := c.lookup[n.data]; ok && evictable(e.obj, e.image != nil) {
			c.dll.delete(n)
			e.dllNode = nil
			delete(c.lookup, n.data)
			batch--
		}
		n = prev
	}
}

func (c *lruCache) Trim() {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := c.dll.tail
	for n != nil && c.dll.count() > c.maxCapacity {
		prev := n.prev
		if e, ok := c.lookup[n.data]; ok && evictable(e.obj, e.image != nil) {
			c.dll.delete(n)
			e.dllNode = nil
			delete(c.lookup, n.data)
		}
		n = prev
	}
}

func (c *lruCache) isFull() bool {
	return c.dll.count() >= c.maxCapacity
}

func (c *lruCache) Get(oid odb.OID) persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.lookup[oid]
	if !ok {
		return nil
	}
	c.dll.moveToHead(e.dllNode)
	return e.obj
}

func (c *lruCache) Evict(oid odb.OID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.lookup[oid]; ok {
		c.dll.delete(e.dllNode)
		e.dllNode = nil
		delete(c.lookup, oid)
	}
}

func (c *lruCache) EvictAll() {
	c.lock.Lock()
	c.lookup = make(map[odb.OID]*lruEntry, c.maxCapacity)
	c.dll = newDoublyLinkedList[odb.OID]()
	c.prefetches.clear()
	c.lock.Unlock()
}

func (c *lruCache) SetSavedImage(oid odb.OID, image []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.lookup[oid]; ok {
		e.image = image
	}
}

func (c *lruCache) GetAndClearSavedImage(oid odb.OID) []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	e, ok := c.lookup[oid]
	if !ok {
		return nil
	}
	img := e.image
	e.image = nil
	return img
}

func (c *lruCache) HollowObjects() {
	for _, obj := range c.objects() {
		persistent.MakeHollow(obj)
	}
}

func (c *lruCache) MakeObjectsNonTransactional() {
	c.lock.Lock()
	for _, e := range c.lookup {
		e.image = nil
	}
	c.lock.Unlock()
	for _, obj := range c.objects() {
		makeNonTransactional(obj)
	}
}

func (c *lruCache) objects() []persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	r := make([]persistent.Object, 0, len(c.lookup))
	for _, e := range c.lookup {
		r = append(r, e.obj)
	}
	return r
}

func (c *lruCache) GetAndClearPrefetches() []persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.prefetches.drain(func(oid odb.OID) persistent.Object {
		if e, ok := c.lookup[oid]; ok {
			return e.obj
		}
		return nil
	})
}

func (c *lruCache) RequeuePrefetch(oid odb.OID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.lookup[oid]; ok {
		c.prefetches.push(oid)
	}
}

func (c *lruCache) ClearPrefetches() {
	c.lock.Lock()
	c.prefetches.clear()
	c.lock.Unlock()
}

// Cleanup is a no-op, entries are held strongly.
func (c *lruCache) Cleanup() {}

func (c *lruCache) Count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.lookup)
}

func (c *lruCache) IsFull() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.isFull()
}
