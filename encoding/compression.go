package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm applied to object payloads before they are stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 is fast, suited to hot objects.
	CompressionLZ4 Compression = 1
	// CompressionZSTD has a better ratio, suited to cold objects.
	CompressionZSTD Compression = 2
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Framing: [type byte][uncompressed size uint32 LE][payload]. Payloads that do not shrink
// are stored with type CompressionNone.
const frameHeaderSize = 5

// Compress frames data, compressing it with c when that makes it smaller.
func Compress(data []byte, c Compression) ([]byte, error) {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress failed, details: %w", err)
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}
	if len(packed) == 0 || len(packed) >= len(data) {
		c = CompressionNone
		packed = data
	}
	r := make([]byte, frameHeaderSize+len(packed))
	r[0] = byte(c)
	binary.LittleEndian.PutUint32(r[1:], uint32(len(data)))
	copy(r[frameHeaderSize:], packed)
	return r, nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < frameHeaderSize {
		return nil, errors.New("compressed frame too small for header")
	}
	size := int(binary.LittleEndian.Uint32(data[1:]))
	payload := data[frameHeaderSize:]
	switch Compression(data[0]) {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("frame holds %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress failed, details: %w", err)
		}
		return out[:n], nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed, details: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown compression type %d", data[0])
}
