package redis

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
)

func TestSession_Keys(t *testing.T) {
	s := NewSession(nil, "db1:", encoding.CompressionNone)
	oid := odb.NewOID(2, 5)
	assert.Equal(t, "db1:obj:"+strconv.FormatUint(uint64(oid), 10), s.objectKey(oid))
	assert.Equal(t, "db1:seq:2", s.sequenceKey(2))
	assert.Equal(t, "db1:ext:7", s.extentKey(7))
	assert.NotEqual(t, s.sequenceKey(odb.ClassIndexOf(7)), s.extentKey(7))
}

func TestDefaultOptions(t *testing.T) {
	assert.Equal(t, "localhost:6379", DefaultOptions().Address)
	assert.NoError(t, closeConnection(nil))
}

// liveSession connects to the server named by ODB_REDIS_ADDR, skipping the test when unset.
func liveSession(t *testing.T) *Session {
	t.Helper()
	addr := os.Getenv("ODB_REDIS_ADDR")
	if addr == "" {
		t.Skip("ODB_REDIS_ADDR not set")
	}
	c := OpenConnection(Options{Address: addr})
	t.Cleanup(func() { _ = CloseConnection() })
	prefix := "odbtest:" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	return NewSession(c.Client, prefix, encoding.CompressionLZ4)
}

func TestSession_Live(t *testing.T) {
	s := liveSession(t)
	ctx := context.Background()
	assert.True(t, IsConnectionInstantiated())

	const cid odb.CID = 3
	first, err := s.AllocateIdentifierBlock(ctx, cid, 4)
	require.NoError(t, err)
	require.Len(t, first, 4)
	second, err := s.AllocateIdentifierBlock(ctx, cid, 2)
	require.NoError(t, err)
	assert.Greater(t, second[0], first[3])
	_, err = s.AllocateIdentifierBlock(ctx, cid, 0)
	assert.Error(t, err)

	payload := []byte("some object state, some object state, some object state")
	require.NoError(t, s.StoreObjectBytes(ctx, []odb.ObjectRecord{
		{OID: first[0], CID: cid, ClassName: "thing", Data: payload, IsNew: true},
		{OID: first[1], CID: cid, ClassName: "thing", Data: []byte("x"), IsNew: true},
	}))

	data, err := s.LoadObjectBytes(ctx, []odb.OID{first[1], first[2], first[0]})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data[0])
	assert.Nil(t, data[1])
	assert.Equal(t, payload, data[2])

	descs, err := s.ClassInfoFor(ctx, []odb.OID{first[0], first[3]})
	require.NoError(t, err)
	assert.Equal(t, odb.ClassDescriptor{CID: cid, Name: "thing"}, descs[0])
	assert.Zero(t, descs[1].CID)

	ext, err := s.Extent(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []odb.OID{first[0], first[1]}, ext)

	require.NoError(t, s.RemoveFromExtent(ctx, first[0]))
	require.NoError(t, s.RemoveFromExtent(ctx, first[3]))
	ext, err = s.Extent(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, []odb.OID{first[1]}, ext)
	data, err = s.LoadObjectBytes(ctx, []odb.OID{first[0]})
	require.NoError(t, err)
	assert.Equal(t, payload, data[0])
}
