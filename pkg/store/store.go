package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the path has no value.
	ErrNotFound = errors.New("path not found")

	// ErrConflict indicates a transaction lost the optimistic-concurrency
	// race and exhausted its retry budget. Callers for whom "someone else
	// already did this" is an acceptable outcome should swallow it.
	ErrConflict = errors.New("transaction conflict")

	// ErrAborted is returned by a transaction function to abandon the
	// transaction without committing. Transact returns it unchanged.
	ErrAborted = errors.New("transaction aborted")
)

// TxnFunc transforms the current value at a path into the next value.
// current is nil when the path has no value yet. The function must be pure:
// it may run more than once if the commit loses the revision race.
type TxnFunc func(current []byte) ([]byte, error)

// Store is the shared replicated key/value tree all session clients
// coordinate through. Values are opaque JSON documents; implementations
// must not be assumed to share a wire format.
type Store interface {
	// Read returns the value at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write unconditionally sets the value at path.
	Write(ctx context.Context, path string, value []byte) error

	// Merge folds the fields of partial (a JSON object) into the JSON
	// object at path, creating it if absent. Non-object values at path
	// are replaced.
	Merge(ctx context.Context, path string, partial []byte) error

	// Delete removes the value at path. Deleting an absent path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Transact applies fn to the current value and commits the result
	// only if the value is unchanged since it was read. On contention it
	// re-reads and re-applies fn a bounded number of times before
	// returning ErrConflict. fn returning ErrAborted abandons the
	// transaction; fn returning nil bytes deletes the path.
	Transact(ctx context.Context, path string, fn TxnFunc) error

	// List returns all entries under prefix ordered by commit sequence.
	// Append-only children (message logs) rely on this order; timestamps
	// inside values are informational only.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Entry is a stored value together with the backend's commit sequence.
type Entry struct {
	Path  string
	Value []byte
	Seq   uint64
}
