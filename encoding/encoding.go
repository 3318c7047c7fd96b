// Package encoding holds the codecs used to turn objects into the opaque bytes handed to
// storage: a pluggable Marshaler (JSON by default), the binary index node header and
// optional payload compression.
package encoding

import (
	"encoding/json"
)

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// DefaultMarshaler is used by index nodes to encode keys. Replace it to change the format.
var DefaultMarshaler = NewMarshaler()

type defaultMarshaler struct{}

// NewMarshaler returns the default marshaller which uses the golang's json package.
func NewMarshaler() Marshaler {
	return &defaultMarshaler{}
}

func (m defaultMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (m defaultMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
