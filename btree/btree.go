// Package btree implements a persistent B+Tree index. Nodes are persistent objects
// referenced by identifier and loaded on demand through the coordinator, so only the nodes
// a lookup touches are materialized. Values are identifiers of persistent objects.
//
// A Tree is not safe for concurrent mutation; serialize writers externally.
package btree

import (
	"context"
	"fmt"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
	"github.com/sharedcode/odb/persistent"
)

const (
	// HeaderClassID is the class id reserved for tree headers.
	HeaderClassID odb.CID = 0xFFFF
	headerClassName       = "odb.btree.header"

	// DefaultNodeSize is the number of keys a node holds before it splits.
	DefaultNodeSize = 128
	// MinNodeSize is the smallest node size a tree accepts.
	MinNodeSize = 3
)

// Options configures a new tree.
type Options struct {
	// NodeSize is the maximum number of keys per node. Defaults to DefaultNodeSize.
	NodeSize int `json:"node_size"`
	// AllowDuplicates permits several entries with the same key.
	AllowDuplicates bool `json:"allow_duplicates"`
}

// header is the tree's persistent root object: everything needed to reopen the tree.
type header struct {
	persistent.State
	headerData
}

type headerData struct {
	Root            odb.OID `json:"root"`
	NodeCID         odb.CID `json:"node_cid"`
	NodeSize        int     `json:"node_size"`
	AllowDuplicates bool    `json:"allow_duplicates"`
	Count           int64   `json:"count"`
	Height          int     `json:"height"`
	// ChangeCount increments on every structural change; iterators use it to detect
	// mutation behind their back.
	ChangeCount int64 `json:"change_count"`
}

func (h *header) ClassID() odb.CID {
	return HeaderClassID
}

func (h *header) MarshalPersistent(enc *persistent.Encoder) ([]byte, error) {
	return encoding.DefaultMarshaler.Marshal(h.headerData)
}

func (h *header) UnmarshalPersistent(data []byte, dec *persistent.Decoder) error {
	return encoding.DefaultMarshaler.Unmarshal(data, &h.headerData)
}

func (h *header) Hollow() {
	h.headerData = headerData{}
}

// Register adds the header class and a node class for key type TK to the registry. Each
// key type needs its own node class id.
func Register[TK any](registry *persistent.Registry, nodeCID odb.CID, name string) error {
	if nodeCID == HeaderClassID {
		return fmt.Errorf("class id %d is reserved for tree headers", HeaderClassID)
	}
	if err := registry.Register(HeaderClassID, headerClassName, func() persistent.Object { return &header{} }); err != nil {
		return err
	}
	return registry.Register(nodeCID, name, func() persistent.Object { return &Node[TK]{cid: nodeCID} })
}

// Tree is a handle on a persistent B+Tree.
type Tree[TK any] struct {
	p       persistent.Persister
	hdr     *header
	compare ComparerFunc[TK]
}

// New creates an empty tree. Its header becomes persistent right away; keep OID() to
// reopen the tree later.
func New[TK any](ctx context.Context, p persistent.Persister, nodeCID odb.CID, compare ComparerFunc[TK], opts Options) (*Tree[TK], error) {
	if opts.NodeSize == 0 {
		opts.NodeSize = DefaultNodeSize
	}
	if opts.NodeSize < MinNodeSize {
		return nil, fmt.Errorf("node size %d is below minimum %d", opts.NodeSize, MinNodeSize)
	}
	if compare == nil {
		compare = NaturalComparer[TK]()
	}
	t := &Tree[TK]{
		p: p,
		hdr: &header{headerData: headerData{
			NodeCID:         nodeCID,
			NodeSize:        opts.NodeSize,
			AllowDuplicates: opts.AllowDuplicates,
			Height:          1,
		}},
		compare: compare,
	}
	if _, err := p.Reference(ctx, t.hdr); err != nil {
		return nil, err
	}
	root, err := t.newNode(ctx, true)
	if err != nil {
		return nil, err
	}
	root.Refs = []odb.OID{odb.NilOID}
	t.hdr.Root = root.OID()
	if err := t.touch(ctx, root, t.hdr); err != nil {
		return nil, err
	}
	return t, nil
}

// Open returns a handle on the tree whose header is headerOID.
func Open[TK any](ctx context.Context, p persistent.Persister, headerOID odb.OID, compare ComparerFunc[TK]) (*Tree[TK], error) {
	obj, err := p.GetObject(ctx, headerOID)
	if err != nil {
		return nil, err
	}
	hdr, ok := obj.(*header)
	if !ok {
		return nil, fmt.Errorf("object %s is %T, not a tree header", headerOID, obj)
	}
	if err := persistent.Read(ctx, hdr); err != nil {
		return nil, err
	}
	if compare == nil {
		compare = NaturalComparer[TK]()
	}
	return &Tree[TK]{p: p, hdr: hdr, compare: compare}, nil
}

// OID returns the identifier of the tree header.
func (t *Tree[TK]) OID() odb.OID {
	return t.hdr.OID()
}

// load makes sure the header is activated, it is hollowed after every commit.
func (t *Tree[TK]) load(ctx context.Context) error {
	return persistent.Read(ctx, t.hdr)
}

func (t *Tree[TK]) node(ctx context.Context, oid odb.OID) (*Node[TK], error) {
	obj, err := t.p.GetObject(ctx, oid)
	if err != nil {
		return nil, err
	}
	n, ok := obj.(*Node[TK])
	if !ok {
		return nil, fmt.Errorf("object %s is %T, not a node of this tree", oid, obj)
	}
	if err := persistent.Read(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *Tree[TK]) newNode(ctx context.Context, leaf bool) (*Node[TK], error) {
	n := &Node[TK]{cid: t.hdr.NodeCID, IsLeaf: leaf}
	if _, err := t.p.Reference(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// touch marks objects modified after their fields changed. A flush triggered while nodes
// were being created may have stored them already.
func (t *Tree[TK]) touch(ctx context.Context, objs ...persistent.Object) error {
	for _, o := range objs {
		if err := persistent.Write(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of entries.
func (t *Tree[TK]) Len(ctx context.Context) (int64, error) {
	if err := t.load(ctx); err != nil {
		return 0, err
	}
	return t.hdr.Count, nil
}

// Height returns the number of levels, 1 for a tree that is a single leaf.
func (t *Tree[TK]) Height(ctx context.Context) (int, error) {
	if err := t.load(ctx); err != nil {
		return 0, err
	}
	return t.hdr.Height, nil
}

// AllowsDuplicates reports whether the tree is multi-valued.
func (t *Tree[TK]) AllowsDuplicates(ctx context.Context) (bool, error) {
	if err := t.load(ctx); err != nil {
		return false, err
	}
	return t.hdr.AllowDuplicates, nil
}

// root returns the root node.
func (t *Tree[TK]) root(ctx context.Context) (*Node[TK], error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	return t.node(ctx, t.hdr.Root)
}

// search descends from the root to the leaf where key is or would be. It returns that
// leaf, the index of the first key >= key and whether that key equals key.
func (t *Tree[TK]) search(ctx context.Context, key TK) (*Node[TK], int, bool, error) {
	n, err := t.root(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	for !n.IsLeaf {
		if n, err = t.node(ctx, n.Refs[n.childIndex(t, key)]); err != nil {
			return nil, 0, false, err
		}
	}
	i := n.lowerBound(t, key)
	// Equal keys of a multi-valued tree may start in a later leaf.
	for t.hdr.AllowDuplicates && i == len(n.Keys) && !n.sibling().IsNil() {
		if n, err = t.node(ctx, n.sibling()); err != nil {
			return nil, 0, false, err
		}
		i = n.lowerBound(t, key)
	}
	return n, i, i < len(n.Keys) && t.compare(n.Keys[i], key) == 0, nil
}

// GetOID returns the value identifier stored under key. With duplicates, the first one.
func (t *Tree[TK]) GetOID(ctx context.Context, key TK) (odb.OID, bool, error) {
	n, i, found, err := t.search(ctx, key)
	if err != nil || !found {
		return odb.NilOID, false, err
	}
	return n.Refs[i], true, nil
}

// Get returns the object stored under key.
func (t *Tree[TK]) Get(ctx context.Context, key TK) (persistent.Object, bool, error) {
	oid, found, err := t.GetOID(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if oid.IsNil() {
		return nil, true, nil
	}
	obj, err := t.p.GetObject(ctx, oid)
	return obj, err == nil, err
}

// ContainsKey reports whether an entry with key exists.
func (t *Tree[TK]) ContainsKey(ctx context.Context, key TK) (bool, error) {
	_, found, err := t.GetOID(ctx, key)
	return found, err
}

// reference turns a value into the identifier stored in a leaf. The value becomes
// persistent if it is not yet.
func (t *Tree[TK]) reference(ctx context.Context, value persistent.Object) (odb.OID, error) {
	if value == nil {
		return odb.NilOID, nil
	}
	return t.p.Reference(ctx, value)
}

// Put associates value with key, replacing the value of an existing key in a unique
// tree. A multi-valued tree adds another entry.
func (t *Tree[TK]) Put(ctx context.Context, key TK, value persistent.Object) error {
	oid, err := t.reference(ctx, value)
	if err != nil {
		return err
	}
	return t.PutOID(ctx, key, oid)
}

// PutOID is Put with a value identifier.
func (t *Tree[TK]) PutOID(ctx context.Context, key TK, value odb.OID) error {
	return t.add(ctx, key, value, true)
}

// Insert adds an entry. A unique tree fails with DuplicateKey if key exists.
func (t *Tree[TK]) Insert(ctx context.Context, key TK, value persistent.Object) error {
	oid, err := t.reference(ctx, value)
	if err != nil {
		return err
	}
	return t.InsertOID(ctx, key, oid)
}

// InsertOID is Insert with a value identifier.
func (t *Tree[TK]) InsertOID(ctx context.Context, key TK, value odb.OID) error {
	return t.add(ctx, key, value, false)
}

func (t *Tree[TK]) add(ctx context.Context, key TK, value odb.OID, upsert bool) error {
	if err := t.load(ctx); err != nil {
		return err
	}
	pu, added, err := t.insert(ctx, t.hdr.Root, key, value, upsert, true)
	if err != nil {
		return err
	}
	if !added && pu == nil {
		return nil
	}
	if err := persistent.Write(ctx, t.hdr); err != nil {
		return err
	}
	if pu != nil {
		// The root split, grow by one level.
		root, err := t.newNode(ctx, false)
		if err != nil {
			return err
		}
		root.Keys = []TK{pu.key}
		root.Refs = []odb.OID{t.hdr.Root, pu.oid}
		t.hdr.Root = root.OID()
		t.hdr.Height++
		if err := t.touch(ctx, root, t.hdr); err != nil {
			return err
		}
	}
	if added {
		t.hdr.Count++
		t.hdr.ChangeCount++
	}
	return nil
}

// Remove deletes the entry with key, the first one if several. Leaves are compacted, not
// merged, so they may be left under-full or empty.
func (t *Tree[TK]) Remove(ctx context.Context, key TK) (bool, error) {
	n, i, found, err := t.search(ctx, key)
	if err != nil || !found {
		return false, err
	}
	return true, t.removeEntry(ctx, n, i)
}

// RemoveValue deletes the entry with key and value. Meant for multi-valued trees.
func (t *Tree[TK]) RemoveValue(ctx context.Context, key TK, value odb.OID) (bool, error) {
	n, i, _, err := t.search(ctx, key)
	if err != nil {
		return false, err
	}
	it := t.iteratorAt(n, i, nil)
	for {
		ok, err := it.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		if t.compare(it.Key(), key) != 0 {
			return false, nil
		}
		if it.ValueOID() == value {
			return true, it.Remove(ctx)
		}
	}
}

func (t *Tree[TK]) removeEntry(ctx context.Context, n *Node[TK], i int) error {
	if err := persistent.Write(ctx, n); err != nil {
		return err
	}
	n.Keys = removeAt(n.Keys, i)
	n.Refs = removeAt(n.Refs, i)
	if err := persistent.Write(ctx, t.hdr); err != nil {
		return err
	}
	t.hdr.Count--
	t.hdr.ChangeCount++
	return nil
}

// ContainsValue reports whether any entry holds value. It scans all leaves.
func (t *Tree[TK]) ContainsValue(ctx context.Context, value odb.OID) (bool, error) {
	it, err := t.Iterator(ctx)
	if err != nil {
		return false, err
	}
	for {
		ok, err := it.Next(ctx)
		if err != nil || !ok {
			return false, err
		}
		if it.ValueOID() == value {
			return true, nil
		}
	}
}

// FirstKey returns the smallest key. The bool is false on an empty tree.
func (t *Tree[TK]) FirstKey(ctx context.Context) (TK, bool, error) {
	var zero TK
	it, err := t.Iterator(ctx)
	if err != nil {
		return zero, false, err
	}
	ok, err := it.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	return it.Key(), true, nil
}

// LastKey returns the largest key. The bool is false on an empty tree.
func (t *Tree[TK]) LastKey(ctx context.Context) (TK, bool, error) {
	if err := t.load(ctx); err != nil {
		var zero TK
		return zero, false, err
	}
	return t.lastBelow(ctx, t.hdr.Root, nil)
}

// lastBelow returns the largest key under the node that is below hi (or the largest key
// when hi is nil). Children are visited right to left since leaves may be empty.
func (t *Tree[TK]) lastBelow(ctx context.Context, oid odb.OID, hi *TK) (TK, bool, error) {
	var zero TK
	n, err := t.node(ctx, oid)
	if err != nil {
		return zero, false, err
	}
	if n.IsLeaf {
		j := len(n.Keys) - 1
		if hi != nil {
			j = n.lowerBound(t, *hi) - 1
		}
		if j < 0 {
			return zero, false, nil
		}
		return n.Keys[j], true, nil
	}
	ci := len(n.Keys)
	if hi != nil {
		ci = n.lowerBound(t, *hi)
	}
	for c := ci; c >= 0; c-- {
		k, ok, err := t.lastBelow(ctx, n.Refs[c], hi)
		if err != nil || ok {
			return k, ok, err
		}
	}
	return zero, false, nil
}

// Keys returns all keys in order.
func (t *Tree[TK]) Keys(ctx context.Context) ([]TK, error) {
	it, err := t.Iterator(ctx)
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
