package odb

import "fmt"

// ErrorCode classifies engine errors.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ClosedState is returned when an operation requires an active transaction and none is.
	ClosedState
	// AlreadyBound is returned when beginning a transaction on a bound coordinator or context.
	AlreadyBound
	// WrongOwner is returned when a context bound to another transaction is used.
	WrongOwner
	// NotLoadedOrNew is returned when storing an object that is neither new nor loaded.
	NotLoadedOrNew
	DuplicateKey
	ConcurrentModification
	// StorageFailure wraps a storage collaborator I/O error.
	StorageFailure
	NotFound
	KeyOutOfRange
	InvalidCursor
)

var errorCodeNames = map[ErrorCode]string{
	Unknown:                "Unknown",
	ClosedState:            "ClosedState",
	AlreadyBound:           "AlreadyBound",
	WrongOwner:             "WrongOwner",
	NotLoadedOrNew:         "NotLoadedOrNew",
	DuplicateKey:           "DuplicateKey",
	ConcurrentModification: "ConcurrentModification",
	StorageFailure:         "StorageFailure",
	NotFound:               "NotFound",
	KeyOutOfRange:          "KeyOutOfRange",
	InvalidCursor:          "InvalidCursor",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is the engine's custom error. It carries a code, the underlying cause and
// optional user data (e.g. the offending OID or key).
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// Sentinels usable with errors.Is; matching is by Code only.
var (
	ErrClosedState            = &Error{Code: ClosedState}
	ErrAlreadyBound           = &Error{Code: AlreadyBound}
	ErrWrongOwner             = &Error{Code: WrongOwner}
	ErrNotLoadedOrNew         = &Error{Code: NotLoadedOrNew}
	ErrDuplicateKey           = &Error{Code: DuplicateKey}
	ErrConcurrentModification = &Error{Code: ConcurrentModification}
	ErrStorageFailure         = &Error{Code: StorageFailure}
	ErrNotFound               = &Error{Code: NotFound}
	ErrKeyOutOfRange          = &Error{Code: KeyOutOfRange}
	ErrInvalidCursor          = &Error{Code: InvalidCursor}
)

// NewError returns an *Error with the given code, cause and user data.
func NewError(code ErrorCode, err error, userData any) *Error {
	return &Error{Code: code, Err: err, UserData: userData}
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.UserData == nil {
			return fmt.Sprintf("error code: %s", e.Code)
		}
		return fmt.Sprintf("error code: %s, user data: %v", e.Code, e.UserData)
	}
	return fmt.Errorf("error code: %s, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
