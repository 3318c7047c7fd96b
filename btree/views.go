package btree

import (
	"context"
	"fmt"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/persistent"
)

// View is a range of a tree: keys from lo inclusive to hi exclusive, either bound being
// optional. Reads and writes outside the range fail with KeyOutOfRange.
type View[TK any] struct {
	t  *Tree[TK]
	lo *TK
	hi *TK
}

// HeadMap returns the view of keys strictly below hi.
func (t *Tree[TK]) HeadMap(hi TK) *View[TK] {
	return &View[TK]{t: t, hi: &hi}
}

// TailMap returns the view of keys at or above lo.
func (t *Tree[TK]) TailMap(lo TK) *View[TK] {
	return &View[TK]{t: t, lo: &lo}
}

// SubMap returns the view of keys from lo inclusive to hi exclusive.
func (t *Tree[TK]) SubMap(lo, hi TK) (*View[TK], error) {
	if t.compare(lo, hi) > 0 {
		return nil, fmt.Errorf("sub map lower bound %v is above upper bound %v", lo, hi)
	}
	return &View[TK]{t: t, lo: &lo, hi: &hi}, nil
}

func (v *View[TK]) inRange(key TK) bool {
	if v.lo != nil && v.t.compare(key, *v.lo) < 0 {
		return false
	}
	if v.hi != nil && v.t.compare(key, *v.hi) >= 0 {
		return false
	}
	return true
}

func (v *View[TK]) checkRange(key TK) error {
	if !v.inRange(key) {
		return odb.NewError(odb.KeyOutOfRange, fmt.Errorf("key %v is outside the view", key), key)
	}
	return nil
}

// narrow intersects the view with [lo, hi). Bounds outside the view are an error.
func (v *View[TK]) narrow(lo, hi *TK) (*View[TK], error) {
	r := &View[TK]{t: v.t, lo: v.lo, hi: v.hi}
	if lo != nil {
		if err := v.checkRange(*lo); err != nil {
			return nil, err
		}
		r.lo = lo
	}
	if hi != nil {
		// hi may equal the view's own exclusive bound.
		if (v.hi != nil && v.t.compare(*hi, *v.hi) > 0) || (v.lo != nil && v.t.compare(*hi, *v.lo) < 0) {
			return nil, odb.NewError(odb.KeyOutOfRange, fmt.Errorf("key %v is outside the view", *hi), *hi)
		}
		r.hi = hi
	}
	return r, nil
}

func (v *View[TK]) HeadMap(hi TK) (*View[TK], error) {
	return v.narrow(nil, &hi)
}

func (v *View[TK]) TailMap(lo TK) (*View[TK], error) {
	return v.narrow(&lo, nil)
}

func (v *View[TK]) SubMap(lo, hi TK) (*View[TK], error) {
	if v.t.compare(lo, hi) > 0 {
		return nil, fmt.Errorf("sub map lower bound %v is above upper bound %v", lo, hi)
	}
	return v.narrow(&lo, &hi)
}

func (v *View[TK]) GetOID(ctx context.Context, key TK) (odb.OID, bool, error) {
	if err := v.checkRange(key); err != nil {
		return odb.NilOID, false, err
	}
	return v.t.GetOID(ctx, key)
}

func (v *View[TK]) Get(ctx context.Context, key TK) (persistent.Object, bool, error) {
	if err := v.checkRange(key); err != nil {
		return nil, false, err
	}
	return v.t.Get(ctx, key)
}

func (v *View[TK]) ContainsKey(ctx context.Context, key TK) (bool, error) {
	if !v.inRange(key) {
		return false, nil
	}
	return v.t.ContainsKey(ctx, key)
}

func (v *View[TK]) Put(ctx context.Context, key TK, value persistent.Object) error {
	if err := v.checkRange(key); err != nil {
		return err
	}
	return v.t.Put(ctx, key, value)
}

func (v *View[TK]) Insert(ctx context.Context, key TK, value persistent.Object) error {
	if err := v.checkRange(key); err != nil {
		return err
	}
	return v.t.Insert(ctx, key, value)
}

func (v *View[TK]) Remove(ctx context.Context, key TK) (bool, error) {
	if err := v.checkRange(key); err != nil {
		return false, err
	}
	return v.t.Remove(ctx, key)
}

// Iterator returns an iterator over the entries of the view.
func (v *View[TK]) Iterator(ctx context.Context) (*Iterator[TK], error) {
	return v.t.IteratorFrom(ctx, v.lo, v.hi)
}

// FirstKey returns the smallest key of the view.
func (v *View[TK]) FirstKey(ctx context.Context) (TK, bool, error) {
	var zero TK
	it, err := v.Iterator(ctx)
	if err != nil {
		return zero, false, err
	}
	ok, err := it.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	return it.Key(), true, nil
}

// LastKey returns the largest key of the view.
func (v *View[TK]) LastKey(ctx context.Context) (TK, bool, error) {
	var zero TK
	if err := v.t.load(ctx); err != nil {
		return zero, false, err
	}
	k, ok, err := v.t.lastBelow(ctx, v.t.hdr.Root, v.hi)
	if err != nil || !ok {
		return zero, false, err
	}
	if v.lo != nil && v.t.compare(k, *v.lo) < 0 {
		return zero, false, nil
	}
	return k, true, nil
}

// Len counts the entries of the view by walking them.
func (v *View[TK]) Len(ctx context.Context) (int64, error) {
	it, err := v.Iterator(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Keys returns the keys of the view in order.
func (v *View[TK]) Keys(ctx context.Context) ([]TK, error) {
	it, err := v.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	var r []TK
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return r, nil
		}
		r = append(r, it.Key())
	}
}
