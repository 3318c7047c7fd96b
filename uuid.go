package odb

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID identifies a transaction in logs and context bindings.
type UUID uuid.UUID

// NilUUID is the zero UUID, reported when no transaction is active.
var NilUUID UUID

// NewUUID returns a random UUID. The random source rarely fails; it is retried a few
// times before giving up with a panic.
func NewUUID() UUID {
	var err error
	for range 10 {
		var id uuid.UUID
		if id, err = uuid.NewRandom(); err == nil {
			return UUID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

func (id UUID) IsNil() bool {
	return id == NilUUID
}

func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// Compare orders UUIDs bytewise.
func (id UUID) Compare(other UUID) int {
	return bytes.Compare(id[:], other[:])
}
