// Package envstore implements the runtime-mutable .env credential file: a
// mutex-guarded single writer and an atomically-swapped immutable snapshot
// for lock-free reads, replacing the teacher's original re-read-the-file
// on every request pattern with structural lock-free reads.
package envstore

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// Snapshot is an immutable copy of the .env-derived key/value map vended to
// readers. Callers must not mutate it.
type Snapshot map[string]string

// Store is the single writer for one .env file; readers call Get and never
// block on the writer.
type Store struct {
	path     string
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// New loads path (if it exists) into the initial snapshot. A missing file
// is not an error: the store starts with an empty snapshot, matching the
// source's "create a new one" fallback on first write.
func New(path string) (*Store, error) {
	s := &Store{path: path}

	vars, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			vars = Snapshot{}
		} else {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	snap := Snapshot(vars)
	s.snapshot.Store(&snap)
	return s, nil
}

// Get returns the current snapshot. The returned map must not be mutated;
// it is shared across all callers until the next Merge.
func (s *Store) Get() Snapshot {
	return *s.snapshot.Load()
}

// Lookup is a convenience accessor over the current snapshot.
func (s *Store) Lookup(key string) (string, bool) {
	v, ok := s.Get()[key]
	return v, ok
}

// Merge updates path with the given key/value pairs (overwriting existing
// keys, appending new ones), persists it, and atomically publishes the
// merged snapshot. Concurrent Merge calls are serialized; concurrent Get
// calls never block on this.
func (s *Store) Merge(updates map[string]string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Get()
	merged := make(Snapshot, len(current)+len(updates))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}

	if err := godotenv.Write(merged, s.path); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.path, err)
	}

	s.snapshot.Store(&merged)
	return merged, nil
}
