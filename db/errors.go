// ABOUTME: Error types for the local store and sync ledger
// ABOUTME: StorageError wraps driver failures; sentinels cover lookups and illegal transitions
package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or ledger item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a ledger item is not in a state
	// that permits the requested status change.
	ErrInvalidTransition = errors.New("invalid ledger status transition")
	// ErrRunHeld is returned when another process holds the sync run lease.
	ErrRunHeld = errors.New("sync run held by another process")
)

// StorageError reports a local persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err originates from the local store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
