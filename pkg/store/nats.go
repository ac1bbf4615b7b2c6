package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSStore backs the shared-state tree with a JetStream KeyValue bucket.
// Revision-conditioned updates provide the compare-and-swap primitive, so
// concurrent transactions from independent clients converge to one winner.
type NATSStore struct {
	kv nats.KeyValue
}

// NATSConfig configures the JetStream-backed store.
type NATSConfig struct {
	// Bucket is the KeyValue bucket name (default: "courtroom").
	Bucket string

	// Description is attached to the bucket on creation.
	Description string
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		Bucket:      "courtroom",
		Description: "courtroom session shared state",
	}
}

// NewNATSStore binds (creating if needed) the configured KeyValue bucket.
func NewNATSStore(nc *nats.Conn, cfg *NATSConfig) (*NATSStore, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg == nil {
		cfg = DefaultNATSConfig()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: cfg.Description,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind bucket %s: %w", cfg.Bucket, err)
	}

	return &NATSStore{kv: kv}, nil
}

// Read returns the value at path, or ErrNotFound.
func (s *NATSStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(path)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entry.Value(), nil
}

// Write unconditionally sets the value at path.
func (s *NATSStore) Write(ctx context.Context, path string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.kv.Put(path, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Merge folds partial into the JSON object at path.
func (s *NATSStore) Merge(ctx context.Context, path string, partial []byte) error {
	return s.Transact(ctx, path, func(current []byte) ([]byte, error) {
		return mergeJSON(current, partial)
	})
}

// Delete removes the value at path.
func (s *NATSStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.kv.Delete(path); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Transact applies fn under revision-conditioned writes.
func (s *NATSStore) Transact(ctx context.Context, path string, fn TxnFunc) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, revision, err := s.snapshot(path)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		committed, err := s.commit(path, revision, next)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConflict, path)
}

// snapshot returns the current value and revision (nil, 0 when absent).
func (s *NATSStore) snapshot(path string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(path)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// commit writes next conditioned on the revision observed at snapshot time.
// Returns false when the revision has moved, signalling a retry.
func (s *NATSStore) commit(path string, revision uint64, next []byte) (bool, error) {
	if next == nil {
		if revision == 0 {
			return true, nil
		}
		err := s.kv.Delete(path, nats.LastRevision(revision))
		if err == nil || errors.Is(err, nats.ErrKeyNotFound) {
			return true, nil
		}
		return s.lostRace(path, revision, err)
	}

	if revision == 0 {
		_, err := s.kv.Create(path, next)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, nats.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}

	_, err := s.kv.Update(path, next, revision)
	if err == nil {
		return true, nil
	}
	return s.lostRace(path, revision, err)
}

// lostRace distinguishes a revision race from a genuine store failure by
// re-reading: if the revision has moved the conditional write legitimately
// lost and the transaction should retry.
func (s *NATSStore) lostRace(path string, revision uint64, cause error) (bool, error) {
	entry, err := s.kv.Get(path)
	if errors.Is(err, nats.ErrKeyNotFound) {
		if revision != 0 {
			return false, nil
		}
		return false, fmt.Errorf("failed to commit %s: %w", path, cause)
	}
	if err != nil {
		return false, fmt.Errorf("failed to commit %s: %w", path, cause)
	}
	if entry.Revision() != revision {
		return false, nil
	}
	return false, fmt.Errorf("failed to commit %s: %w", path, cause)
}

// List returns all entries under prefix ordered by bucket revision, which
// for immutable children is their append order.
func (s *NATSStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		entry, err := s.kv.Get(k)
		if errors.Is(err, nats.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		entries = append(entries, Entry{Path: k, Value: entry.Value(), Seq: entry.Revision()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}
