package common

import (
	"context"
	"fmt"

	"github.com/sharedcode/odb"
)

// oidAllocator requests identifier blocks from storage and dispenses them locally until
// the block for a class runs out.
type oidAllocator struct {
	source    odb.IdentifierAllocator
	blockSize int
	pools     map[odb.CID][]odb.OID
	last      map[odb.CID]odb.OID
	retry     func(ctx context.Context, task func(ctx context.Context) error) error
}

func newOIDAllocator(source odb.IdentifierAllocator, blockSize int,
	retry func(ctx context.Context, task func(ctx context.Context) error) error) *oidAllocator {
	return &oidAllocator{
		source:    source,
		blockSize: blockSize,
		pools:     make(map[odb.CID][]odb.OID),
		last:      make(map[odb.CID]odb.OID),
		retry:     retry,
	}
}

// next returns a fresh identifier for the class.
func (a *oidAllocator) next(ctx context.Context, cid odb.CID) (odb.OID, error) {
	pool := a.pools[cid]
	if len(pool) == 0 {
		var block []odb.OID
		if err := a.retry(ctx, func(ctx context.Context) error {
			var err error
			block, err = a.source.AllocateIdentifierBlock(ctx, cid, a.blockSize)
			return err
		}); err != nil {
			return odb.NilOID, storageFailure(fmt.Errorf("allocate identifier block for class %d failed, details: %w", cid, err), cid)
		}
		if len(block) == 0 {
			return odb.NilOID, odb.NewError(odb.StorageFailure, fmt.Errorf("storage returned an empty identifier block"), cid)
		}
		pool = block
	}
	oid := pool[0]
	a.pools[cid] = pool[1:]
	// Identifiers must grow, otherwise storage handed out a reused one.
	if oid.IsNil() || oid <= a.last[cid] {
		return odb.NilOID, odb.NewError(odb.StorageFailure, fmt.Errorf("identifier %s is not above last issued %s", oid, a.last[cid]), cid)
	}
	a.last[cid] = oid
	return oid, nil
}

// storageFailure wraps err as a StorageFailure unless it already is an engine error.
func storageFailure(err error, userData any) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*odb.Error); ok {
		return err
	}
	return odb.NewError(odb.StorageFailure, err, userData)
}
