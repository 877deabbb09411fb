// Package storage provides the file-backed snapshot store sessions persist
// to and restore from. Writes are atomic (temp file + rename) and guarded
// by per-file flocks so concurrent ticks cannot interleave.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mentora-ai/mentora/pkg/types"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store persists session snapshots as JSON files keyed by learner id, the
// stable identifier sessions are restored under.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*snapshotLock
}

// New creates a new Store rooted at basePath.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*snapshotLock),
	}
}

// snapshotFile maps a learner id onto its file path. Ids come from
// untrusted input; anything that could escape the base directory is
// flattened.
func (s *Store) snapshotFile(learnerID string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.':
			return '_'
		default:
			return r
		}
	}, learnerID)
	return filepath.Join(s.basePath, safe+".json")
}

// Persist writes a snapshot, replacing any previous snapshot for the same
// learner id. Idempotent: persisting an identical snapshot is a no-op from
// the reader's perspective.
func (s *Store) Persist(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil || snap.LearnerID == "" {
		return fmt.Errorf("snapshot missing learner id")
	}

	path := s.snapshotFile(snap.LearnerID)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Restore loads the snapshot for a learner id, or ErrNotFound.
func (s *Store) Restore(ctx context.Context, learnerID string) (*types.Snapshot, error) {
	data, err := os.ReadFile(s.snapshotFile(learnerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Delete removes the snapshot for a learner id. Deleting a missing
// snapshot is not an error.
func (s *Store) Delete(ctx context.Context, learnerID string) error {
	path := s.snapshotFile(learnerID)

	lock := s.getLock(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

// List returns the learner ids with persisted snapshots.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// Exists reports whether a snapshot is persisted for a learner id.
func (s *Store) Exists(ctx context.Context, learnerID string) bool {
	_, err := os.Stat(s.snapshotFile(learnerID))
	return err == nil
}

// getLock returns the lock guarding one snapshot file.
func (s *Store) getLock(path string) *snapshotLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[path]
	if !ok {
		lock = newSnapshotLock(path)
		s.locks[path] = lock
	}

	return lock
}
