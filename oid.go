package odb

import "fmt"

// OID is a 64-bit object identifier. The high 16 bits hold the class index and the low
// 48 bits a per class sequence number. The zero value is the null identifier.
type OID uint64

// CID identifies a persistent class. Zero is not a valid class id.
type CID uint32

const (
	// NilOID is the null identifier.
	NilOID OID = 0

	sequenceBits       = 48
	sequenceMask       = (uint64(1) << sequenceBits) - 1
	MaxSequence uint64 = sequenceMask
)

// NewOID packs a class index and a sequence into an OID.
func NewOID(classIndex uint16, sequence uint64) OID {
	return OID(uint64(classIndex)<<sequenceBits | sequence&sequenceMask)
}

// ClassIndexOf maps a class id to the 16-bit class index stored inside its OIDs.
func ClassIndexOf(cid CID) uint16 {
	return uint16(cid)
}

// ClassIndex returns the class index part of the identifier.
func (id OID) ClassIndex() uint16 {
	return uint16(uint64(id) >> sequenceBits)
}

// Sequence returns the per class sequence part of the identifier.
func (id OID) Sequence() uint64 {
	return uint64(id) & sequenceMask
}

// IsNil reports whether the identifier is the null sentinel.
func (id OID) IsNil() bool {
	return id == NilOID
}

func (id OID) String() string {
	return fmt.Sprintf("%d:%d", id.ClassIndex(), id.Sequence())
}

// OIDBlock returns the count identifiers of a class whose last sequence is last.
func OIDBlock(classIndex uint16, last uint64, count int) []OID {
	r := make([]OID, count)
	first := last - uint64(count) + 1
	for i := range r {
		r[i] = NewOID(classIndex, first+uint64(i))
	}
	return r
}
