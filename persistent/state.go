// Package persistent holds the per object lifecycle state embedded by every persistent type,
// plus the encoder/decoder used to write identifier references and the class registry.
package persistent

import (
	"context"

	"github.com/sharedcode/odb"
)

// Status is the materialization state of a persistent object.
type Status int

const (
	// StatusNew is an object not yet stored. It may or may not have an identifier.
	StatusNew Status = iota
	// StatusHollow is an object whose identity is known but whose fields were discarded.
	StatusHollow
	// StatusLoaded is an object whose fields reflect stored (or about to be stored) state.
	StatusLoaded
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusHollow:
		return "hollow"
	case StatusLoaded:
		return "loaded"
	}
	return "unknown"
}

// LockLevel is the lock an object holds within the current transaction.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockRead
	LockUpgrade
	LockWrite
)

func (l LockLevel) String() string {
	switch l {
	case LockRead:
		return "read"
	case LockUpgrade:
		return "upgrade"
	case LockWrite:
		return "write"
	}
	return "none"
}

// Persister is the coordinator an object is bound to once it has an identifier.
type Persister interface {
	// Activate loads a hollow object's fields.
	Activate(ctx context.Context, obj Object) error
	// MarkDirty registers the object as modified in the bound transaction.
	MarkDirty(ctx context.Context, obj Object) error
	// Reference returns the object's identifier, assigning one if the object is new.
	Reference(ctx context.Context, obj Object) (odb.OID, error)
	// GetObject returns the cached instance for the identifier, or a hollow one.
	GetObject(ctx context.Context, oid odb.OID) (Object, error)
}

// State is the lifecycle state of a persistent object. Embed it by value in application
// types; the zero value is a new, unidentified, transient object.
type State struct {
	oid        odb.OID
	status     Status
	modified   bool
	nonTxRead  bool
	nonTxWrite bool
	lock       LockLevel
	persister  Persister
}

// PersistentState returns the state itself so that embedding types satisfy Object.
func (s *State) PersistentState() *State {
	return s
}

func (s *State) OID() odb.OID {
	return s.oid
}

func (s *State) Status() Status {
	return s.status
}

func (s *State) IsNew() bool {
	return s.status == StatusNew
}

func (s *State) IsHollow() bool {
	return s.status == StatusHollow
}

func (s *State) IsLoaded() bool {
	return s.status == StatusLoaded
}

func (s *State) IsModified() bool {
	return s.modified
}

func (s *State) LockLevel() LockLevel {
	return s.lock
}

// IsPersistent reports whether the object is bound to a coordinator.
func (s *State) IsPersistent() bool {
	return s.persister != nil
}

func (s *State) AllowsNonTransactionalRead() bool {
	return s.nonTxRead
}

func (s *State) AllowsNonTransactionalWrite() bool {
	return s.nonTxWrite
}

func (s *State) Persister() Persister {
	return s.persister
}

// AssignOID sets the identifier. It returns false, leaving the state untouched, when one
// was already assigned.
func (s *State) AssignOID(oid odb.OID, p Persister) bool {
	if !s.oid.IsNil() {
		return false
	}
	s.oid = oid
	s.persister = p
	return true
}

// Bind attaches a hollow instance materialized from storage to its coordinator.
func (s *State) Bind(oid odb.OID, p Persister) {
	s.oid = oid
	s.persister = p
	s.status = StatusHollow
	s.modified = false
}

// Detach clears identity and binding. Used when a transaction that created the object aborts.
func (s *State) Detach() {
	s.oid = odb.NilOID
	s.persister = nil
	s.status = StatusNew
	s.modified = false
	s.lock = LockNone
}

func (s *State) MarkLoaded() {
	s.status = StatusLoaded
}

func (s *State) MarkHollow() {
	s.status = StatusHollow
	s.modified = false
	s.lock = LockNone
}

func (s *State) MarkModified() {
	s.modified = true
}

// MarkStored flags the object clean and loaded after its bytes were produced for storage.
func (s *State) MarkStored() {
	s.modified = false
	s.status = StatusLoaded
}

func (s *State) SetLockLevel(l LockLevel) {
	s.lock = l
}

// SetNonTransactional sets whether the object may be read or written without a transaction.
func (s *State) SetNonTransactional(read, write bool) {
	s.nonTxRead = read
	s.nonTxWrite = write
}

// Object is implemented by persistent application types. Types embed State to get
// PersistentState and implement the rest.
type Object interface {
	PersistentState() *State
	ClassID() odb.CID
	// MarshalPersistent serializes the object's fields. References to other persistent
	// objects are written as identifiers obtained from enc.Ref.
	MarshalPersistent(enc *Encoder) ([]byte, error)
	// UnmarshalPersistent restores fields from bytes produced by MarshalPersistent.
	UnmarshalPersistent(data []byte, dec *Decoder) error
	// Hollow discards the object's field values.
	Hollow()
}

// MakeHollow discards the object's fields and marks it hollow. New objects are left alone
// since their fields exist nowhere else.
func MakeHollow(obj Object) {
	s := obj.PersistentState()
	if s.status == StatusNew {
		return
	}
	obj.Hollow()
	s.MarkHollow()
}

// Read activates a hollow object. Application getters call it before touching fields.
func Read(ctx context.Context, obj Object) error {
	s := obj.PersistentState()
	if s.persister == nil || s.status != StatusHollow {
		return nil
	}
	return s.persister.Activate(ctx, obj)
}

// Write activates the object if hollow and registers it as modified. Application setters
// call it before touching fields. Objects with no persister are transient and need nothing.
func Write(ctx context.Context, obj Object) error {
	s := obj.PersistentState()
	if s.persister == nil {
		return nil
	}
	if err := Read(ctx, obj); err != nil {
		return err
	}
	return s.persister.MarkDirty(ctx, obj)
}
