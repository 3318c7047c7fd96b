package btree

import (
	"context"
	"fmt"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

// Iterator walks entries in key order following the leaf sibling links. Call Next before
// reading the first entry. Mutating the tree other than through Remove invalidates it.
type Iterator[TK any] struct {
	t    *Tree[TK]
	leaf *Node[TK]
	// next is the index in leaf of the entry the following Next returns.
	next int
	// current is the index of the entry Key and ValueOID report, -1 if none.
	current     int
	end         *TK
	done        bool
	changeCount int64
}

// Iterator returns an iterator over all entries.
func (t *Tree[TK]) Iterator(ctx context.Context) (*Iterator[TK], error) {
	n, err := t.root(ctx)
	if err != nil {
		return nil, err
	}
	for !n.IsLeaf {
		if n, err = t.node(ctx, n.Refs[0]); err != nil {
			return nil, err
		}
	}
	return t.iteratorAt(n, 0, nil), nil
}

// IteratorFrom returns an iterator starting at the first key >= from and stopping before
// the first key >= end. A nil from starts at the first key, a nil end runs to the last.
func (t *Tree[TK]) IteratorFrom(ctx context.Context, from *TK, end *TK) (*Iterator[TK], error) {
	if from == nil {
		it, err := t.Iterator(ctx)
		if err != nil {
			return nil, err
		}
		it.end = end
		return it, nil
	}
	n, i, _, err := t.search(ctx, *from)
	if err != nil {
		return nil, err
	}
	return t.iteratorAt(n, i, end), nil
}

func (t *Tree[TK]) iteratorAt(n *Node[TK], i int, end *TK) *Iterator[TK] {
	return &Iterator[TK]{
		t:           t,
		leaf:        n,
		next:        i,
		current:     -1,
		end:         end,
		changeCount: t.hdr.ChangeCount,
	}
}

func (it *Iterator[TK]) checkChanges(ctx context.Context) error {
	if err := it.t.load(ctx); err != nil {
		return err
	}
	if it.t.hdr.ChangeCount != it.changeCount {
		return odb.NewError(odb.ConcurrentModification, fmt.Errorf("tree %s changed during iteration", it.t.OID()), it.t.OID())
	}
	return nil
}

// Next advances to the next entry. It returns false once past the last entry or at the
// end key, which is not consumed.
func (it *Iterator[TK]) Next(ctx context.Context) (bool, error) {
	it.current = -1
	if it.done {
		return false, nil
	}
	if err := it.checkChanges(ctx); err != nil {
		return false, err
	}
	// The leaf may have been hollowed by a commit since the last step.
	if err := persistent.Read(ctx, it.leaf); err != nil {
		return false, err
	}
	for it.next >= len(it.leaf.Keys) {
		sib := it.leaf.sibling()
		if sib.IsNil() {
			it.done = true
			return false, nil
		}
		n, err := it.t.node(ctx, sib)
		if err != nil {
			return false, err
		}
		it.leaf = n
		it.next = 0
	}
	if it.end != nil && it.t.compare(it.leaf.Keys[it.next], *it.end) >= 0 {
		it.done = true
		return false, nil
	}
	it.current = it.next
	it.next++
	return true, nil
}

// Key returns the key of the current entry.
func (it *Iterator[TK]) Key() TK {
	if it.current < 0 {
		var zero TK
		return zero
	}
	return it.leaf.Keys[it.current]
}

// ValueOID returns the value identifier of the current entry.
func (it *Iterator[TK]) ValueOID() odb.OID {
	if it.current < 0 {
		return odb.NilOID
	}
	return it.leaf.Refs[it.current]
}

// Value returns the object of the current entry.
func (it *Iterator[TK]) Value(ctx context.Context) (persistent.Object, error) {
	oid := it.ValueOID()
	if oid.IsNil() {
		return nil, nil
	}
	return it.t.p.GetObject(ctx, oid)
}

// Remove deletes the current entry. Iteration continues with the entry after it.
func (it *Iterator[TK]) Remove(ctx context.Context) error {
	if it.current < 0 {
		return odb.NewError(odb.InvalidCursor, fmt.Errorf("iterator has no current entry"), nil)
	}
	if err := it.checkChanges(ctx); err != nil {
		return err
	}
	if err := it.t.removeEntry(ctx, it.leaf, it.current); err != nil {
		return err
	}
	it.next = it.current
	it.current = -1
	it.changeCount = it.t.hdr.ChangeCount
	return nil
}
