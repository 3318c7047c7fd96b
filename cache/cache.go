// Package cache contains the object caches used by a transaction coordinator: an identity
// map from OID to live instance, with saved pre-mutation images and a prefetch queue.
// Two variants exist, an unbounded one holding objects weakly and a bounded LRU one.
package cache

import (
	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

// ObjectCache de-duplicates persistent objects by identifier. No method returns an error;
// a miss is reported as nil.
type ObjectCache interface {
	// Add inserts the object unless an entry for oid exists. Hollow objects are also queued
	// as prefetch candidates.
	Add(oid odb.OID, obj persistent.Object)
	// Get returns the live instance for oid, or nil.
	Get(oid odb.OID) persistent.Object
	// Evict removes the entry for oid.
	Evict(oid odb.OID)
	// EvictAll removes every entry.
	EvictAll()
	// SetSavedImage stores the pre-mutation bytes of the object. A nil image clears it.
	SetSavedImage(oid odb.OID, image []byte)
	// GetAndClearSavedImage returns and forgets the saved image of the object.
	GetAndClearSavedImage(oid odb.OID) []byte
	// HollowObjects hollows every live cached object, keeping the instances.
	HollowObjects()
	// MakeObjectsNonTransactional drops saved images and locks and lets cached objects be
	// read outside a transaction.
	MakeObjectsNonTransactional()
	// GetAndClearPrefetches drains the prefetch queue, skipping collected or loaded objects.
	GetAndClearPrefetches() []persistent.Object
	// RequeuePrefetch puts a drained candidate back in the queue if it is still cached.
	RequeuePrefetch(oid odb.OID)
	ClearPrefetches()
	// Cleanup drops entries whose objects were reclaimed.
	Cleanup()
	// Trim evicts clean entries until a bounded cache is back within its maximum.
	Trim()
	// Count returns the number of entries.
	Count() int
	// IsFull reports whether a bounded cache reached its maximum.
	IsFull() bool
}

// FlushFunc pushes pending writes so clean entries can be evicted.
type FlushFunc func() error

// New returns the cache variant selected by the options: a bounded LRU cache when
// CacheMaxObjects is set, otherwise an unbounded weak cache.
func New(opts odb.Options, flush FlushFunc) ObjectCache {
	if opts.CacheMaxObjects > 0 {
		return NewLRU(opts.CacheMaxObjects, opts.CacheEvictPercent, flush)
	}
	return NewWeak()
}

// prefetchQueue remembers hollow objects added to the cache so they can be loaded along
// with the next object actually requested.
type prefetchQueue struct {
	oids []odb.OID
}

func (q *prefetchQueue) push(oid odb.OID) {
	q.oids = append(q.oids, oid)
}

func (q *prefetchQueue) clear() {
	q.oids = nil
}

// drain resolves the queued identifiers through get and empties the queue.
func (q *prefetchQueue) drain(get func(odb.OID) persistent.Object) []persistent.Object {
	if len(q.oids) == 0 {
		return nil
	}
	r := make([]persistent.Object, 0, len(q.oids))
	seen := make(map[odb.OID]struct{}, len(q.oids))
	for _, oid := range q.oids {
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		obj := get(oid)
		if obj == nil || !obj.PersistentState().IsHollow() {
			continue
		}
		r = append(r, obj)
	}
	q.oids = nil
	return r
}

func makeNonTransactional(obj persistent.Object) {
	s := obj.PersistentState()
	s.SetLockLevel(persistent.LockNone)
	s.SetNonTransactional(true, false)
}

// evictable reports whether dropping the object from the cache loses nothing.
func evictable(obj persistent.Object, hasImage bool) bool {
	s := obj.PersistentState()
	return !hasImage && !s.IsNew() && !s.IsModified()
}
