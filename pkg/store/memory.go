package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// maxTxnAttempts bounds the re-read/re-apply loop under contention.
const maxTxnAttempts = 8

// MemoryStore is an in-process Store with per-path revisions. It is safe
// for concurrent use and is the backend the test suite runs against.
type MemoryStore struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value    []byte
	revision uint64
	seq      uint64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Read returns the value at path, or ErrNotFound.
func (s *MemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Write unconditionally sets the value at path.
func (s *MemoryStore) Write(ctx context.Context, path string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[path]
	s.seq++
	s.entries[path] = memoryEntry{value: clone(value), revision: e.revision + 1, seq: s.seq}
	return nil
}

// Merge folds partial into the JSON object at path.
func (s *MemoryStore) Merge(ctx context.Context, path string, partial []byte) error {
	return s.Transact(ctx, path, func(current []byte) ([]byte, error) {
		return mergeJSON(current, partial)
	})
}

// Delete removes the value at path.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, path)
	return nil
}

// Transact applies fn under optimistic concurrency control.
func (s *MemoryStore) Transact(ctx context.Context, path string, fn TxnFunc) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, revision := s.snapshot(path)

		next, err := fn(current)
		if err != nil {
			return err
		}

		if s.commit(path, revision, next) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConflict, path)
}

// snapshot returns a copy of the current value and its revision (0 when
// the path is absent).
func (s *MemoryStore) snapshot(path string) ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	if !ok {
		return nil, 0
	}
	return clone(e.value), e.revision
}

// commit applies the new value iff the revision is unchanged.
func (s *MemoryStore) commit(path string, expected uint64, next []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	var revision uint64
	if ok {
		revision = e.revision
	}
	if revision != expected {
		return false
	}

	if next == nil {
		delete(s.entries, path)
		return true
	}
	s.seq++
	s.entries[path] = memoryEntry{value: clone(next), revision: revision + 1, seq: s.seq}
	return true
}

// List returns all entries under prefix ordered by commit sequence.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0)
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, Entry{Path: k, Value: clone(e.value), Seq: e.seq})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// mergeJSON overlays the fields of partial onto current. A non-object
// current value is replaced wholesale.
func mergeJSON(current, partial []byte) ([]byte, error) {
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("merge value must be a JSON object: %w", err)
	}

	base := make(map[string]json.RawMessage)
	if len(current) > 0 {
		// Ignore unmarshal failure: replacing a non-object is allowed.
		_ = json.Unmarshal(current, &base)
	}

	for k, v := range overlay {
		base[k] = v
	}
	return json.Marshal(base)
}
