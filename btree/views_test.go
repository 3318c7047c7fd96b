package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
)

func TestViews_Bounds(t *testing.T) {
	ctx, _, tree := newTestTree(t, Options{NodeSize: 4})
	insertAll(t, ctx, tree, intRange(0, 50)...)

	head := tree.HeadMap(10)
	keys, err := head.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(0, 10), keys)

	tail := tree.TailMap(45)
	keys, err = tail.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(45, 50), keys)

	sub, err := tree.SubMap(20, 30)
	require.NoError(t, err)
	keys, err = sub.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(20, 30), keys)

	first, ok, err := sub.FirstKey(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20, first)
	last, ok, err := sub.LastKey(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 29, last)
	n, err := sub.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	empty, err := tree.SubMap(60, 70)
	require.NoError(t, err)
	_, ok, err = empty.LastKey(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = empty.FirstKey(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tree.SubMap(10, 5)
	assert.Error(t, err)
}

func TestViews_RejectKeysOutsideRange(t *testing.T) {
	ctx, _, tree := newTestTree(t, Options{NodeSize: 4})
	insertAll(t, ctx, tree, intRange(0, 20)...)
	sub, err := tree.SubMap(5, 10)
	require.NoError(t, err)

	_, _, err = sub.Get(ctx, 10)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	_, _, err = sub.GetOID(ctx, 4)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	assert.ErrorIs(t, sub.Put(ctx, 11, newRecord(11)), odb.ErrKeyOutOfRange)
	assert.ErrorIs(t, sub.Insert(ctx, 3, newRecord(3)), odb.ErrKeyOutOfRange)
	_, err = sub.Remove(ctx, 15)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	ok, err := sub.ContainsKey(ctx, 15)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = sub.ContainsKey(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	removed, err := sub.Remove(ctx, 7)
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, sub.Put(ctx, 7, newRecord(77)))
	assert.Equal(t, "77", valueOf(t, ctx, tree, 7))
	obj, found, err := sub.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "77", obj.(*record).Value)
}

func TestViews_Narrowing(t *testing.T) {
	ctx, _, tree := newTestTree(t, Options{NodeSize: 4})
	insertAll(t, ctx, tree, intRange(0, 100)...)
	sub, err := tree.SubMap(10, 50)
	require.NoError(t, err)

	inner, err := sub.SubMap(20, 30)
	require.NoError(t, err)
	keys, err := inner.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(20, 30), keys)

	head, err := sub.HeadMap(15)
	require.NoError(t, err)
	keys, err = head.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(10, 15), keys)

	tail, err := sub.TailMap(45)
	require.NoError(t, err)
	keys, err = tail.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, intRange(45, 50), keys)

	// The upper bound may repeat the enclosing exclusive bound.
	whole, err := sub.HeadMap(50)
	require.NoError(t, err)
	n, err := whole.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)

	_, err = sub.SubMap(5, 20)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	_, err = sub.HeadMap(60)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	_, err = sub.TailMap(50)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
	_, err = sub.SubMap(30, 20)
	assert.Error(t, err)

	_, _, err = inner.Get(ctx, 35)
	assert.ErrorIs(t, err, odb.ErrKeyOutOfRange)
}

func TestViews_IteratorRemove(t *testing.T) {
	ctx, _, tree := newTestTree(t, Options{NodeSize: 4})
	insertAll(t, ctx, tree, intRange(0, 30)...)
	view := tree.TailMap(20)
	it, err := view.Iterator(ctx)
	require.NoError(t, err)
	for {
		ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NoError(t, it.Remove(ctx))
	}
	assert.Equal(t, intRange(0, 20), keysOf(t, ctx, tree))
	last, ok, err := tree.LastKey(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 19, last)
}
