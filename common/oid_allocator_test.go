package common

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
)

type scriptedAllocator struct {
	blocks [][]odb.OID
	err    error
	calls  int
}

func (a *scriptedAllocator) AllocateIdentifierBlock(ctx context.Context, cid odb.CID, count int) ([]odb.OID, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if len(a.blocks) == 0 {
		return nil, nil
	}
	b := a.blocks[0]
	a.blocks = a.blocks[1:]
	return b, nil
}

func noRetry(ctx context.Context, task func(ctx context.Context) error) error {
	return task(ctx)
}

func TestOIDAllocator_DispensesBlocksPerClass(t *testing.T) {
	ctx := context.Background()
	src := newRecordingSession()
	a := newOIDAllocator(src, 2, noRetry)

	ids := make([]odb.OID, 0, 3)
	for range 3 {
		id, err := a.next(ctx, 5)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []odb.OID{odb.NewOID(5, 1), odb.NewOID(5, 2), odb.NewOID(5, 3)}, ids)
	assert.Equal(t, 2, src.Stats().AllocateCalls)

	other, err := a.next(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, odb.NewOID(6, 1), other)
}

func TestOIDAllocator_Errors(t *testing.T) {
	ctx := context.Background()

	failing := &scriptedAllocator{err: errors.New("unreachable")}
	_, err := newOIDAllocator(failing, 4, noRetry).next(ctx, 1)
	assert.ErrorIs(t, err, odb.ErrStorageFailure)

	empty := &scriptedAllocator{}
	_, err = newOIDAllocator(empty, 4, noRetry).next(ctx, 1)
	assert.ErrorIs(t, err, odb.ErrStorageFailure)

	// A block going backwards means storage reused identifiers.
	reused := &scriptedAllocator{blocks: [][]odb.OID{{odb.NewOID(1, 5)}, {odb.NewOID(1, 3)}}}
	a := newOIDAllocator(reused, 1, noRetry)
	_, err = a.next(ctx, 1)
	require.NoError(t, err)
	_, err = a.next(ctx, 1)
	assert.ErrorIs(t, err, odb.ErrStorageFailure)
}
