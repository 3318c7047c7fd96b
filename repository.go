package odb

import "context"

// ObjectRecord is one serialized object pushed to the storage collaborator.
type ObjectRecord struct {
	OID       OID    `json:"oid"`
	CID       CID    `json:"cid"`
	ClassName string `json:"class_name"`
	Data      []byte `json:"data"`
	IsNew     bool   `json:"is_new"`
}

// ClassDescriptor names the class of a stored object. A zero CID means unknown.
type ClassDescriptor struct {
	CID  CID    `json:"cid"`
	Name string `json:"name"`
}

// IdentifierAllocator hands out blocks of fresh identifiers for a class.
type IdentifierAllocator interface {
	// AllocateIdentifierBlock returns count identifiers for the class. Identifiers are
	// monotonic per class and never reused.
	AllocateIdentifierBlock(ctx context.Context, cid CID, count int) ([]OID, error)
}

// StorageSession is the storage collaborator the engine pushes bytes to and loads bytes from.
// The persisted byte layout is owned by the implementation.
type StorageSession interface {
	IdentifierAllocator
	// LoadObjectBytes returns a slice parallel to oids. A nil entry means the object is absent.
	LoadObjectBytes(ctx context.Context, oids []OID) ([][]byte, error)
	// StoreObjectBytes persists the records in one call.
	StoreObjectBytes(ctx context.Context, records []ObjectRecord) error
	// ClassInfoFor returns a slice parallel to oids describing the class of each object.
	ClassInfoFor(ctx context.Context, oids []OID) ([]ClassDescriptor, error)
	// RemoveFromExtent marks the object deleted. Best effort.
	RemoveFromExtent(ctx context.Context, oid OID) error
}

// ExtentReader is implemented by sessions able to enumerate a class extent.
type ExtentReader interface {
	Extent(ctx context.Context, cid CID) ([]OID, error)
}
