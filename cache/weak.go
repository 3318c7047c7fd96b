package cache

import (
	"reflect"
	"runtime"
	"sync"
	"unsafe"
	"weak"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

type weakEntry struct {
	ref   weak.Pointer[byte]
	typ   reflect.Type
	image []byte
}

func (e *weakEntry) value() persistent.Object {
	p := e.ref.Value()
	if p == nil {
		return nil
	}
	return reflect.NewAt(e.typ.Elem(), unsafe.Pointer(p)).Interface().(persistent.Object)
}

type weakCache struct {
	lock       sync.Mutex
	lookup     map[odb.OID]*weakEntry
	prefetches prefetchQueue

	deadLock sync.Mutex
	dead     []odb.OID
}

// NewWeak returns an unbounded cache that does not keep its objects alive. Entries vanish
// once the garbage collector reclaims their object. Objects must be pointers.
func NewWeak() ObjectCache {
	return &weakCache{
		lookup: make(map[odb.OID]*weakEntry),
	}
}

// enqueueDead runs on the runtime's cleanup goroutine.
func (c *weakCache) enqueueDead(oid odb.OID) {
	c.deadLock.Lock()
	c.dead = append(c.dead, oid)
	c.deadLock.Unlock()
}

func (c *weakCache) Add(oid odb.OID, obj persistent.Object) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cleanup()
	// A dead entry the cleanup queue hasn't reported yet is replaced.
	if e, ok := c.lookup[oid]; ok && e.ref.Value() != nil {
		return
	}
	p := (*byte)(v.UnsafePointer())
	c.lookup[oid] = &weakEntry{ref: weak.Make(p), typ: v.Type()}
	runtime.AddCleanup(p, c.enqueueDead, oid)
	if s := obj.PersistentState(); !s.IsNew() && !s.IsLoaded() {
		c.prefetches.push(oid)
	}
}

func (c *weakCache) Get(oid odb.OID) persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cleanup()
	return c.get(oid)
}

func (c *weakCache) get(oid odb.OID) persistent.Object {
	e, ok := c.lookup[oid]
	if !ok {
		return nil
	}
	obj := e.value()
	if obj == nil {
		delete(c.lookup, oid)
	}
	return obj
}

func (c *weakCache) Evict(oid odb.OID) {
	c.lock.Lock()
	delete(c.lookup, oid)
	c.lock.Unlock()
}

func (c *weakCache) EvictAll() {
	c.lock.Lock()
	c.lookup = make(map[odb.OID]*weakEntry)
	c.prefetches.clear()
	c.lock.Unlock()
}

func (c *weakCache) SetSavedImage(oid odb.OID, image []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e, ok := c.lookup[oid]; ok {
		e.image = image
	}
}

func (c *weakCache) GetAndClearSavedImage(oid odb.OID) []byte {
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

func (c *weakCache) HollowObjects() {
	for _, obj := range c.live() {
		persistent.MakeHollow(obj)
	}
}

func (c *weakCache) MakeObjectsNonTransactional() {
	c.lock.Lock()
	for _, e := range c.lookup {
		e.image = nil
	}
	c.lock.Unlock()
	for _, obj := range c.live() {
		makeNonTransactional(obj)
	}
}

// live snapshots the reachable objects so callers can work on them without the lock.
func (c *weakCache) live() []persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cleanup()
	r := make([]persistent.Object, 0, len(c.lookup))
	for oid := range c.lookup {
		if obj := c.get(oid); obj != nil {
			r = append(r, obj)
		}
	}
	return r
}

func (c *weakCache) GetAndClearPrefetches() []persistent.Object {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cleanup()
	return c.prefetches.drain(c.get)
}

func (c *weakCache) RequeuePrefetch(oid odb.OID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.lookup[oid]; ok {
		c.prefetches.push(oid)
	}
}

func (c *weakCache) ClearPrefetches() {
	c.lock.Lock()
	c.prefetches.clear()
	c.lock.Unlock()
}

func (c *weakCache) Cleanup() {
	c.lock.Lock()
	c.cleanup()
	c.lock.Unlock()
}

// cleanup drains the dead queue. An identifier is only dropped if its entry really is
// dead, since the slot may have been reused by a newer instance.
func (c *weakCache) cleanup() {
	c.deadLock.Lock()
	dead := c.dead
	c.dead = nil
	c.deadLock.Unlock()
	for _, oid := range dead {
		if e, ok := c.lookup[oid]; ok && e.ref.Value() == nil {
			delete(c.lookup, oid)
		}
	}
}

func (c *weakCache) Count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cleanup()
	return len(c.lookup)
}

// Trim only drains the dead queue, the weak cache has no maximum.
func (c *weakCache) Trim() {
	c.Cleanup()
}

func (c *weakCache) IsFull() bool {
	return false
}
