package core

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when the record a key names does not
	// exist in the host store.
	ErrKeyNotFound = errors.New("key not found")
	// ErrBinNotFound is returned when a bin is absent from a record or
	// has already logically expired.
	ErrBinNotFound = errors.New("bin not found")
)

// TTLNever is the ttl answer for a bin that never expires, whether it
// is plain or wrapped with the never-expires sentinel.
const TTLNever int64 = -1

// ValidationError reports a malformed operation argument. It is always
// detected and returned before any mutation is applied.
type ValidationError struct {
	Op      string // operation name, e.g. "touch"
	Field   string // offending field, e.g. "bin", "ttl"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s for %s: %s", e.Op, e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// UnsupportedTypeError reports a bin value of a type the codec cannot
// represent.
type UnsupportedTypeError struct {
	Message string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported bin value: %s", e.Message)
}

func IsUnsupportedTypeError(err error) bool {
	var unsupportedError *UnsupportedTypeError
	return errors.As(err, &unsupportedError)
}

// CorruptBinError reports a stored bin value that cannot be decoded.
// It is data corruption at rest, distinct from a host-store transport
// failure, so retrying the operation will not help.
type CorruptBinError struct {
	Bin string
	Err error
}

func (e *CorruptBinError) Error() string {
	return fmt.Sprintf("corrupt value in bin '%s': %v", e.Bin, e.Err)
}

func (e *CorruptBinError) Unwrap() error {
	return e.Err
}

// IsCorruptBinError checks if an error is a CorruptBinError.
func IsCorruptBinError(err error) bool {
	var corruptError *CorruptBinError
	return errors.As(err, &corruptError)
}

// TransportError wraps a host-store failure with the key and operation
// it interrupted. The underlying error is never swallowed or retried
// here; retry policy belongs to the caller.
type TransportError struct {
	Op  string
	Key Key
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var transportError *TransportError
	return errors.As(err, &transportError)
}
