package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
)

func TestCompress_RoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("persistent object payload "), 200)
	tiny := []byte("ab")
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, data := range [][]byte{compressible, tiny, {}} {
			framed, err := Compress(data, c)
			require.NoError(t, err)
			got, err := Decompress(framed)
			require.NoError(t, err)
			assert.Equal(t, len(data), len(got))
			assert.True(t, bytes.Equal(data, got))
		}
	}
}

func TestCompress_ShrinksOrFallsBack(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 4096)
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		framed, err := Compress(data, c)
		require.NoError(t, err)
		assert.Equal(t, byte(c), framed[0])
		assert.Less(t, len(framed), len(data))
	}

	// Two bytes can't shrink, they are stored as is.
	framed, err := Compress([]byte("ab"), CompressionZSTD)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), framed[0])
	assert.Len(t, framed, frameHeaderSize+2)
}

func TestDecompress_RejectsBadFrames(t *testing.T) {
	_, err := Decompress([]byte{0, 1})
	assert.Error(t, err)

	framed, err := Compress([]byte("hello"), CompressionNone)
	require.NoError(t, err)
	_, err = Decompress(framed[:len(framed)-1])
	assert.Error(t, err)

	framed[0] = 9
	_, err = Decompress(framed)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
		err  bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZSTD, false},
		{"gzip", CompressionNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNodeHeader(t *testing.T) {
	enc := NewNodeHeaderEncoder()
	h := NodeHeader{IsLeaf: true, Refs: []odb.OID{odb.NewOID(3, 1), odb.NilOID, odb.NewOID(3, 99)}}
	buf := enc.Marshal(h, nil)
	assert.Len(t, buf, 5+3*8)

	buf = append(buf, "tail"...)
	var got NodeHeader
	rest, err := enc.Unmarshal(buf, &got)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, "tail", string(rest))

	interior := NodeHeader{Refs: []odb.OID{}}
	rest, err = enc.Unmarshal(enc.Marshal(interior, nil), &got)
	require.NoError(t, err)
	assert.False(t, got.IsLeaf)
	assert.Empty(t, got.Refs)
	assert.Empty(t, rest)

	_, err = enc.Unmarshal([]byte{1, 2}, &got)
	assert.Error(t, err)
	_, err = enc.Unmarshal([]byte{1, 5, 0, 0, 0, 1, 2, 3}, &got)
	assert.Error(t, err)
}

func TestDefaultMarshaler(t *testing.T) {
	ba, err := DefaultMarshaler.Marshal([]int{3, 1, 2})
	require.NoError(t, err)
	var keys []int
	require.NoError(t, DefaultMarshaler.Unmarshal(ba, &keys))
	assert.Equal(t, []int{3, 1, 2}, keys)
}
