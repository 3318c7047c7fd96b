package btree

import (
	"cmp"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sharedcode/odb"
)

// Comparer specifies how to compare this value against another value.
type Comparer interface {
	// Compare compares this object with the other and returns -1, 0, or 1.
	Compare(other any) int
}

// ComparerFunc orders two keys, returning a negative, zero or positive int.
type ComparerFunc[TK any] func(a TK, b TK) int

func compareAs[T cmp.Ordered](x, y any) int {
	x1, _ := x.(T)
	y1, _ := y.(T)
	return cmp.Compare(x1, y1)
}

// Compare orders two values of the same type: built-in ordered types, identifiers, UUIDs,
// time.Time and Comparer implementations, falling back to their string form.
func Compare(anyX, anyY any) int {
	switch x := anyX.(type) {
	case int:
		return compareAs[int](anyX, anyY)
	case int8:
		return compareAs[int8](anyX, anyY)
	case int16:
		return compareAs[int16](anyX, anyY)
	case int32:
		return compareAs[int32](anyX, anyY)
	case int64:
		return compareAs[int64](anyX, anyY)
	case uint:
		return compareAs[uint](anyX, anyY)
	case uint8:
		return compareAs[uint8](anyX, anyY)
	case uint16:
		return compareAs[uint16](anyX, anyY)
	case uint32:
		return compareAs[uint32](anyX, anyY)
	case uint64:
		return compareAs[uint64](anyX, anyY)
	case float32:
		return compareAs[float32](anyX, anyY)
	case float64:
		return compareAs[float64](anyX, anyY)
	case string:
		return compareAs[string](anyX, anyY)
	case odb.OID:
		y, _ := anyY.(odb.OID)
		return cmp.Compare(x, y)
	case uuid.UUID:
		y, _ := anyY.(uuid.UUID)
		return odb.UUID(x).Compare(odb.UUID(y))
	case odb.UUID:
		y, _ := anyY.(odb.UUID)
		return x.Compare(y)
	case time.Time:
		y, _ := anyY.(time.Time)
		return x.Compare(y)
	default:
		if anyX == nil && anyY == nil {
			return 0
		}
		if anyX == nil {
			return -1
		}
		if anyY == nil {
			return 1
		}
		if cX, ok := anyX.(Comparer); ok {
			return cX.Compare(anyY)
		}
		// Last resort, compare their string values.
		return cmp.Compare(fmt.Sprintf("%v", anyX), fmt.Sprintf("%v", anyY))
	}
}

// NaturalComparer returns a ComparerFunc ordering keys with Compare.
func NaturalComparer[TK any]() ComparerFunc[TK] {
	return func(a, b TK) int {
		return Compare(a, b)
	}
}
