package store

import (
	"errors"
	"fmt"
)

// StorageError wraps a backend failure (store unreachable, timeout).
// The store performs no retries itself; callers retry with backoff so the
// boundary stays thin and testable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// ErrVersionConflict is returned by PutPreferences when the stored record
// changed since it was read. The caller re-reads and retries.
var ErrVersionConflict = errors.New("preferences changed since read")

// ConsolidationConflictError signals that another consolidation pass holds
// the owner's lock. The loser retries the whole pass after a delay; partial
// consolidation state is self-healing, so no cleanup is required.
type ConsolidationConflictError struct {
	OwnerID string
}

func (e *ConsolidationConflictError) Error() string {
	return fmt.Sprintf("consolidation already running for owner %s", e.OwnerID)
}
