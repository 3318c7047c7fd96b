package btree

import (
	"context"
	"fmt"
	"sort"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
	"github.com/sharedcode/odb/persistent"
)

// Node is a B+Tree node. It is a persistent object of its own, referenced by identifier.
// An interior node holds n keys and n+1 child identifiers, child i covering keys below
// Keys[i]. A leaf holds n keys, n value identifiers and a trailing identifier of its right
// sibling leaf (NilOID on the rightmost leaf).
type Node[TK any] struct {
	persistent.State
	cid    odb.CID
	IsLeaf bool
	Keys   []TK
	Refs   []odb.OID
}

func (n *Node[TK]) ClassID() odb.CID {
	return n.cid
}

var nodeHeaderEncoder = encoding.NewNodeHeaderEncoder()

// MarshalPersistent writes the binary node header followed by the keys.
func (n *Node[TK]) MarshalPersistent(enc *persistent.Encoder) ([]byte, error) {
	buf := nodeHeaderEncoder.Marshal(encoding.NodeHeader{IsLeaf: n.IsLeaf, Refs: n.Refs}, nil)
	kb, err := encoding.DefaultMarshaler.Marshal(n.Keys)
	if err != nil {
		return nil, fmt.Errorf("encode keys of node %s failed, details: %w", n.OID(), err)
	}
	return append(buf, kb...), nil
}

func (n *Node[TK]) UnmarshalPersistent(data []byte, dec *persistent.Decoder) error {
	var h encoding.NodeHeader
	rest, err := nodeHeaderEncoder.Unmarshal(data, &h)
	if err != nil {
		return err
	}
	var keys []TK
	if err := encoding.DefaultMarshaler.Unmarshal(rest, &keys); err != nil {
		return fmt.Errorf("decode keys of node %s failed, details: %w", n.OID(), err)
	}
	n.IsLeaf = h.IsLeaf
	n.Keys = keys
	n.Refs = h.Refs
	return nil
}

func (n *Node[TK]) Hollow() {
	n.Keys = nil
	n.Refs = nil
}

// sibling returns the right sibling of a leaf.
func (n *Node[TK]) sibling() odb.OID {
	if len(n.Refs) == 0 {
		return odb.NilOID
	}
	return n.Refs[len(n.Refs)-1]
}

// lowerBound returns the first index whose key is >= key.
func (n *Node[TK]) lowerBound(t *Tree[TK], key TK) int {
	return sort.Search(len(n.Keys), func(i int) bool {
		return t.compare(n.Keys[i], key) >= 0
	})
}

// upperBound returns the first index whose key is > key.
func (n *Node[TK]) upperBound(t *Tree[TK], key TK) int {
	return sort.Search(len(n.Keys), func(i int) bool {
		return t.compare(n.Keys[i], key) > 0
	})
}

// childIndex picks the child to descend into. Unique trees route equal keys right, where
// the leaf split put them. Trees with duplicates route left so the first of a run of equal
// keys is reached; the leaf walk continues right from there.
func (n *Node[TK]) childIndex(t *Tree[TK], key TK) int {
	if t.hdr.AllowDuplicates {
		return n.lowerBound(t, key)
	}
	return n.upperBound(t, key)
}

// pushUp is the separator key and new right node identifier handed to a parent on split.
type pushUp[TK any] struct {
	key TK
	oid odb.OID
}

// insert adds key/value under the node. rightmost tells whether the node is on the
// tree's right edge. It returns a push-up when the node split.
func (t *Tree[TK]) insert(ctx context.Context, oid odb.OID, key TK, value odb.OID, upsert, rightmost bool) (*pushUp[TK], bool, error) {
	n, err := t.node(ctx, oid)
	if err != nil {
		return nil, false, err
	}
	if n.IsLeaf {
		return t.insertOnLeaf(ctx, n, key, value, upsert, rightmost)
	}
	// Equal keys go right: unique trees find them there and duplicates append after them.
	ci := n.upperBound(t, key)
	pu, added, err := t.insert(ctx, n.Refs[ci], key, value, upsert, rightmost && ci == len(n.Keys))
	if err != nil || pu == nil {
		return nil, added, err
	}
	if err := persistent.Write(ctx, n); err != nil {
		return nil, false, err
	}
	n.Keys = insertAt(n.Keys, ci, pu.key)
	n.Refs = insertAt(n.Refs, ci+1, pu.oid)
	if len(n.Keys) <= t.hdr.NodeSize {
		return nil, added, nil
	}
	pu, err = t.splitInterior(ctx, n)
	return pu, added, err
}

func (t *Tree[TK]) insertOnLeaf(ctx context.Context, n *Node[TK], key TK, value odb.OID, upsert, rightmost bool) (*pushUp[TK], bool, error) {
	var i int
	if t.hdr.AllowDuplicates {
		i = n.upperBound(t, key)
	} else {
		i = n.lowerBound(t, key)
		if i < len(n.Keys) && t.compare(n.Keys[i], key) == 0 {
			if !upsert {
				return nil, false, odb.NewError(odb.DuplicateKey, fmt.Errorf("key %v already exists", key), key)
			}
			if err := persistent.Write(ctx, n); err != nil {
				return nil, false, err
			}
			n.Refs[i] = value
			return nil, false, nil
		}
	}
	if err := persistent.Write(ctx, n); err != nil {
		return nil, false, err
	}
	n.Keys = insertAt(n.Keys, i, key)
	n.Refs = insertAt(n.Refs, i, value)
	if len(n.Keys) <= t.hdr.NodeSize {
		return nil, true, nil
	}
	// Appending to the rightmost leaf leaves the left node full and gives the new node
	// only the last two keys, so sequential loads pack leaves densely.
	median := len(n.Keys) / 2
	if rightmost && i == len(n.Keys)-1 {
		median = len(n.Keys) - 2
	}
	pu, err := t.splitLeaf(ctx, n, median)
	return pu, true, err
}

// splitLeaf moves the keys from median onward, with their values and the sibling link,
// to a new right leaf. The right leaf's first key is copied up.
func (t *Tree[TK]) splitLeaf(ctx context.Context, n *Node[TK], median int) (*pushUp[TK], error) {
	right, err := t.newNode(ctx, true)
	if err != nil {
		return nil, err
	}
	right.Keys = append([]TK(nil), n.Keys[median:]...)
	right.Refs = append([]odb.OID(nil), n.Refs[median:]...)

	n.Keys = append([]TK(nil), n.Keys[:median]...)
	refs := make([]odb.OID, median+1)
	copy(refs, n.Refs[:median])
	refs[median] = right.OID()
	n.Refs = refs
	if err := t.touch(ctx, n, right); err != nil {
		return nil, err
	}
	return &pushUp[TK]{key: right.Keys[0], oid: right.OID()}, nil
}

// splitInterior moves the keys above the median to a new right node and promotes the
// median key itself.
func (t *Tree[TK]) splitInterior(ctx context.Context, n *Node[TK]) (*pushUp[TK], error) {
	m := len(n.Keys) / 2
	right, err := t.newNode(ctx, false)
	if err != nil {
		return nil, err
	}
	promoted := n.Keys[m]
	right.Keys = append([]TK(nil), n.Keys[m+1:]...)
	right.Refs = append([]odb.OID(nil), n.Refs[m+1:]...)
	n.Keys = append([]TK(nil), n.Keys[:m]...)
	n.Refs = append([]odb.OID(nil), n.Refs[:m+1]...)
	if err := t.touch(ctx, n, right); err != nil {
		return nil, err
	}
	return &pushUp[TK]{key: promoted, oid: right.OID()}, nil
}

func insertAt[T any](array []T, position int, v T) []T {
	var zero T
	array = append(array, zero)
	copy(array[position+1:], array[position:])
	array[position] = v
	return array
}

func removeAt[T any](array []T, position int) []T {
	copy(array[position:], array[position+1:])
	var zero T
	array[len(array)-1] = zero
	return array[:len(array)-1]
}
