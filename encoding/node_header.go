package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sharedcode/odb"
)

// NodeHeader is the fixed part of a serialized index node: its kind and its identifier
// references. Keys follow the header, encoded by a Marshaler.
type NodeHeader struct {
	IsLeaf bool
	Refs   []odb.OID
}

// NodeHeaderEncoder writes and reads NodeHeader in a compact binary form:
// [leaf byte][ref count uint32][refs uint64...], little endian.
type NodeHeaderEncoder struct{}

func NewNodeHeaderEncoder() *NodeHeaderEncoder {
	return &NodeHeaderEncoder{}
}

// Marshal appends the encoded header to buffer.
func (NodeHeaderEncoder) Marshal(h NodeHeader, buffer []byte) []byte {
	w := bytes.NewBuffer(buffer)
	var b byte
	if h.IsLeaf {
		b = 1
	}
	w.WriteByte(b)

	var dummy4 [4]byte
	binary.LittleEndian.PutUint32(dummy4[:], uint32(len(h.Refs)))
	w.Write(dummy4[:])

	var dummy8 [8]byte
	for _, ref := range h.Refs {
		binary.LittleEndian.PutUint64(dummy8[:], uint64(ref))
		w.Write(dummy8[:])
	}
	return w.Bytes()
}

// Unmarshal decodes a header and returns the bytes following it.
func (NodeHeaderEncoder) Unmarshal(data []byte, target *NodeHeader) ([]byte, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("node header needs 5 bytes, got %d", len(data))
	}
	r := bytes.NewBuffer(data)
	target.IsLeaf = r.Next(1)[0] == 1
	n := int(binary.LittleEndian.Uint32(r.Next(4)))
	if r.Len() < n*8 {
		return nil, fmt.Errorf("node header declares %d refs, only %d bytes left", n, r.Len())
	}
	target.Refs = make([]odb.OID, n)
	for i := range n {
		target.Refs[i] = odb.OID(binary.LittleEndian.Uint64(r.Next(8)))
	}
	return r.Bytes(), nil
}
