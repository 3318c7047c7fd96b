package persistent

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sharedcode/odb"
)

// Encoder is handed to MarshalPersistent. It turns object references into identifiers.
type Encoder struct {
	ctx context.Context
	p   Persister
}

// NewEncoder returns an encoder assigning identifiers through p. A nil p yields an encoder
// that only reports identifiers already assigned, with no side effects.
func NewEncoder(ctx context.Context, p Persister) *Encoder {
	return &Encoder{ctx: ctx, p: p}
}

func (e *Encoder) Context() context.Context {
	return e.ctx
}

// Ref returns the identifier of obj. A new object becomes persistent here: it gets an
// identifier and is queued for storage in the same flush.
func (e *Encoder) Ref(obj Object) (odb.OID, error) {
	if isNil(obj) {
		return odb.NilOID, nil
	}
	if e.p == nil {
		return obj.PersistentState().OID(), nil
	}
	return e.p.Reference(e.ctx, obj)
}

// Decoder is handed to UnmarshalPersistent. It turns identifiers back into instances.
type Decoder struct {
	ctx context.Context
	p   Persister
}

func NewDecoder(ctx context.Context, p Persister) *Decoder {
	return &Decoder{ctx: ctx, p: p}
}

func (d *Decoder) Context() context.Context {
	return d.ctx
}

// Deref returns the instance for oid, hollow if not cached. NilOID yields nil.
func (d *Decoder) Deref(oid odb.OID) (Object, error) {
	if oid.IsNil() {
		return nil, nil
	}
	if d.p == nil {
		return nil, fmt.Errorf("can't resolve %s, decoder has no persister", oid)
	}
	return d.p.GetObject(d.ctx, oid)
}

// DerefAs is Deref with a type assertion to T.
func DerefAs[T Object](d *Decoder, oid odb.OID) (T, error) {
	var zero T
	obj, err := d.Deref(oid)
	if err != nil || obj == nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("object %s is %T, not %T", oid, obj, zero)
	}
	return t, nil
}

func isNil(obj Object) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
