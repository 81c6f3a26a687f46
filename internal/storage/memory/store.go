// Package memory provides an in-memory snapshot backend.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Store keeps collection snapshots in process memory. Nothing survives a
// restart; it backs tests and throwaway runs.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	closed    bool
	failSaves bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		snapshots: make(map[string][]byte),
	}
}

// Load returns a copy of the stored snapshot, or nil if absent.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New("store is closed")
	}
	payload, ok := s.snapshots[collection]
	if !ok {
		return nil, nil
	}
	return slices.Clone(payload), nil
}

// Save replaces the snapshot of a collection.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store is closed")
	}
	if s.failSaves {
		return errors.New("simulated save failure")
	}
	s.snapshots[collection] = slices.Clone(payload)
	return nil
}

// SetFailSaves makes every subsequent Save fail, for exercising storage
// errors.
func (s *Store) SetFailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = fail
}

// Collections returns the names of stored collections.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
