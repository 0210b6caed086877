package persist

import (
	"errors"
	"fmt"
)

// Kind is a machine-inspectable persistence error class. Callers
// branch on kinds, never on message strings.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIO
	KindSerialization
	KindFormatMismatch
	KindCorruptRecord
	KindSchemaMismatch
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io_failure"
	case KindSerialization:
		return "serialization_failure"
	case KindFormatMismatch:
		return "format_mismatch"
	case KindCorruptRecord:
		return "corrupt_wal_record"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries the kind, the failing operation and the underlying
// cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persist: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("persist: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err as a persistence error of the given kind.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown when the
// chain carries no persistence error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a not-found persistence error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
