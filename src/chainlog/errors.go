package chainlog

import (
	"errors"
	"fmt"
)

// IntegrityError reports a broken hash chain: a tampered entry, a mismatched
// prev link, a bad head signature, or a fork. It is fatal for the replication
// session that delivered the offending bytes, never for the log itself.
type IntegrityError struct {
	Owner string
	Seq   uint64
	Info  string
}

// NewIntegrityError ...
func NewIntegrityError(owner string, seq uint64, info string) IntegrityError {
	return IntegrityError{Owner: owner, Seq: seq, Info: info}
}

// Error ...
func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity: log %s seq %d: %s", e.Owner, e.Seq, e.Info)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	_, ok := err.(IntegrityError)
	return ok
}

// RangeError reports bounds that do not fit a log: an inverted range, a read
// past the head, or a delivery that does not start at the current length.
type RangeError struct {
	Owner  string
	Start  uint64
	End    uint64
	Length uint64
}

// Error ...
func (e RangeError) Error() string {
	return fmt.Sprintf("range: log %s [%d,%d) does not fit length %d", e.Owner, e.Start, e.End, e.Length)
}

// IsRange reports whether err is a RangeError.
func IsRange(err error) bool {
	_, ok := err.(RangeError)
	return ok
}

// StorageError wraps a failure of the backing store. It is fatal for the
// affected log: in-memory state can no longer be assumed to match disk.
type StorageError struct {
	Op  string
	Err error
}

// Error ...
func (e StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap ...
func (e StorageError) Unwrap() error {
	return e.Err
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	_, ok := err.(StorageError)
	return ok
}

// ErrStale flags a delivery whose entries start below the current length: a
// duplicate. Callers treat it as a no-op, not a failure.
var ErrStale = errors.New("stale entries: range already applied")

// ErrNotOwner rejects appends to logs this node does not own.
var ErrNotOwner = errors.New("append requires the log owner's key")
