// Package inmemory implements a storage session held in process memory. It is meant for
// tests and embedded use where durability is not needed.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/sharedcode/odb"
)

type storedObject struct {
	cid       odb.CID
	className string
	data      []byte
}

// Stats counts the calls a session served.
type Stats struct {
	AllocateCalls int
	LoadCalls     int
	StoreCalls    int
	StoredRecords int
}

// Session is a map backed storage session. Class extents are kept as roaring bitmaps of
// identifiers. It is safe for concurrent use.
type Session struct {
	lock      sync.RWMutex
	objects   map[odb.OID]storedObject
	sequences map[uint16]uint64
	extents   map[odb.CID]*roaring64.Bitmap
	stats     Stats
}

func NewSession() *Session {
	return &Session{
		objects:   make(map[odb.OID]storedObject),
		sequences: make(map[uint16]uint64),
		extents:   make(map[odb.CID]*roaring64.Bitmap),
	}
}

func (s *Session) AllocateIdentifierBlock(ctx context.Context, cid odb.CID, count int) ([]odb.OID, error) {
	if count < 1 {
		return nil, fmt.Errorf("identifier block size must be positive, got %d", count)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stats.AllocateCalls++
	ci := odb.ClassIndexOf(cid)
	seq := s.sequences[ci]
	if seq+uint64(count) > odb.MaxSequence {
		return nil, fmt.Errorf("class %d ran out of identifiers", cid)
	}
	r := make([]odb.OID, count)
	for i := range r {
		seq++
		r[i] = odb.NewOID(ci, seq)
	}
	s.sequences[ci] = seq
	return r, nil
}

func (s *Session) LoadObjectBytes(ctx context.Context, oids []odb.OID) ([][]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stats.LoadCalls++
	r := make([][]byte, len(oids))
	for i, oid := range oids {
		if o, ok := s.objects[oid]; ok {
			r[i] = append([]byte(nil), o.data...)
		}
	}
	return r, nil
}

func (s *Session) StoreObjectBytes(ctx context.Context, records []odb.ObjectRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stats.StoreCalls++
	s.stats.StoredRecords += len(records)
	for _, rec := range records {
		if rec.OID.IsNil() {
			return fmt.Errorf("can't store a record with a nil identifier")
		}
		s.objects[rec.OID] = storedObject{
			cid:       rec.CID,
			className: rec.ClassName,
			data:      append([]byte(nil), rec.Data...),
		}
		if !rec.IsNew {
			continue
		}
		b, ok := s.extents[rec.CID]
		if !ok {
			b = roaring64.New()
			s.extents[rec.CID] = b
		}
		b.Add(uint64(rec.OID))
	}
	return nil
}

func (s *Session) ClassInfoFor(ctx context.Context, oids []odb.OID) ([]odb.ClassDescriptor, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	r := make([]odb.ClassDescriptor, len(oids))
	for i, oid := range oids {
		if o, ok := s.objects[oid]; ok {
			r[i] = odb.ClassDescriptor{CID: o.cid, Name: o.className}
		}
	}
	return r, nil
}

// RemoveFromExtent drops the object from its class extent. Its bytes stay loadable.
func (s *Session) RemoveFromExtent(ctx context.Context, oid odb.OID) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, ok := s.objects[oid]
	if !ok {
		return nil
	}
	if b, ok := s.extents[o.cid]; ok {
		b.Remove(uint64(oid))
	}
	return nil
}

// Extent lists the identifiers of the class in ascending order.
func (s *Session) Extent(ctx context.Context, cid odb.CID) ([]odb.OID, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	b, ok := s.extents[cid]
	if !ok {
		return nil, nil
	}
	ids := b.ToArray()
	r := make([]odb.OID, len(ids))
	for i, id := range ids {
		r[i] = odb.OID(id)
	}
	return r, nil
}

// Stats returns a snapshot of the call counters.
func (s *Session) Stats() Stats {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.stats
}

// Len returns the number of stored objects.
func (s *Session) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.objects)
}
