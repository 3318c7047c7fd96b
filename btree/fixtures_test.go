package btree

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/common"
	"github.com/sharedcode/odb/inmemory"
	"github.com/sharedcode/odb/persistent"
)

const (
	intNodeCID    odb.CID = 20
	stringNodeCID odb.CID = 21
	recordCID     odb.CID = 30
)

// record is the value type stored in test trees.
type record struct {
	persistent.State
	Value string
}

func (r *record) ClassID() odb.CID { return recordCID }

func (r *record) MarshalPersistent(enc *persistent.Encoder) ([]byte, error) {
	return []byte(r.Value), nil
}

func (r *record) UnmarshalPersistent(data []byte, dec *persistent.Decoder) error {
	r.Value = string(data)
	return nil
}

func (r *record) Hollow() { r.Value = "" }

func newRecord(v int) *record {
	return &record{Value: strconv.Itoa(v)}
}

func testRegistry(t *testing.T) *persistent.Registry {
	t.Helper()
	r := persistent.NewRegistry()
	require.NoError(t, Register[int](r, intNodeCID, "odb.btree.node.int"))
	require.NoError(t, Register[string](r, stringNodeCID, "odb.btree.node.string"))
	require.NoError(t, r.Register(recordCID, "record", func() persistent.Object { return &record{} }))
	return r
}

func newCoordinator(t *testing.T, s odb.StorageSession, modify func(*odb.Options)) *common.Coordinator {
	t.Helper()
	opts := odb.DefaultOptions()
	opts.RetryCount = 0
	opts.RetryBaseDelay = time.Millisecond
	if modify != nil {
		modify(&opts)
	}
	c, err := common.NewCoordinator(s, testRegistry(t), opts)
	require.NoError(t, err)
	return c
}

// newTestTree begins a transaction on a fresh in-memory database and creates an int tree.
func newTestTree(t *testing.T, opts Options) (context.Context, *common.Coordinator, *Tree[int]) {
	t.Helper()
	c := newCoordinator(t, inmemory.NewSession(), nil)
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)
	tree, err := New[int](ctx, c, intNodeCID, nil, opts)
	require.NoError(t, err)
	return ctx, c, tree
}

func insertAll(t *testing.T, ctx context.Context, tree *Tree[int], keys ...int) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, tree.Insert(ctx, k, newRecord(k)))
	}
}

func valueOf(t *testing.T, ctx context.Context, tree *Tree[int], key int) string {
	t.Helper()
	obj, found, err := tree.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found, "key %d not found", key)
	r := obj.(*record)
	require.NoError(t, persistent.Read(ctx, r))
	return r.Value
}

func keysOf(t *testing.T, ctx context.Context, tree *Tree[int]) []int {
	t.Helper()
	keys, err := tree.Keys(ctx)
	require.NoError(t, err)
	return keys
}

func intRange(lo, hi int) []int {
	var r []int
	for i := lo; i < hi; i++ {
		r = append(r, i)
	}
	return r
}
