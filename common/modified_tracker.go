package common

import (
	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

type trackedEntry struct {
	oid odb.OID
	obj persistent.Object
}

// ModifiedTracker records dirty and new objects in first-touch order. It is an append-only
// sequence plus a position index, so an iterator can keep reading while entries are
// appended behind it.
type ModifiedTracker struct {
	entries []trackedEntry
	index   map[odb.OID]int
	// generation bumps on Clear so stale iterators stop.
	generation int
}

func NewModifiedTracker() *ModifiedTracker {
	return &ModifiedTracker{
		index: make(map[odb.OID]int),
	}
}

// Add upserts the object by identifier. Re-adding an identifier replaces the object in
// place without moving it. Objects without an identifier are ignored.
func (t *ModifiedTracker) Add(obj persistent.Object) {
	oid := obj.PersistentState().OID()
	if oid.IsNil() {
		return
	}
	if i, ok := t.index[oid]; ok {
		t.entries[i].obj = obj
		return
	}
	t.index[oid] = len(t.entries)
	t.entries = append(t.entries, trackedEntry{oid: oid, obj: obj})
}

// Remove drops the object. Its slot is left empty so live iterators keep their position.
func (t *ModifiedTracker) Remove(oid odb.OID) {
	i, ok := t.index[oid]
	if !ok {
		return
	}
	t.entries[i].obj = nil
	delete(t.index, oid)
}

func (t *ModifiedTracker) Contains(oid odb.OID) bool {
	_, ok := t.index[oid]
	return ok
}

// Len returns the number of tracked objects.
func (t *ModifiedTracker) Len() int {
	return len(t.index)
}

func (t *ModifiedTracker) Clear() {
	t.entries = nil
	t.index = make(map[odb.OID]int)
	t.generation++
}

// Iterator returns an iterator positioned before the first entry.
func (t *ModifiedTracker) Iterator() *TrackerIterator {
	return &TrackerIterator{tracker: t, generation: t.generation}
}

// TrackerIterator walks the tracker in first-touch order. Each Next re-reads the tail, so
// entries appended while iterating are returned before iteration ends, and entries already
// returned are never returned again.
type TrackerIterator struct {
	tracker    *ModifiedTracker
	cursor     int
	generation int
}

// Next returns the next tracked object, or false once the tail is reached.
func (it *TrackerIterator) Next() (persistent.Object, bool) {
	if it.generation != it.tracker.generation {
		return nil, false
	}
	for it.cursor < len(it.tracker.entries) {
		e := it.tracker.entries[it.cursor]
		it.cursor++
		if e.obj != nil {
			return e.obj, true
		}
	}
	return nil, false
}
