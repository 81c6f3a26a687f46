// Package dual mirrors snapshots from a primary backend to a secondary one.
package dual

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Backend is the snapshot backend contract shared with package storage.
type Backend interface {
	Load(ctx context.Context, collection string) ([]byte, error)
	Save(ctx context.Context, collection string, payload []byte) error
	Close() error
}

// Store wraps two backends.
// Writes go to both primary and secondary.
// Reads come from primary only.
type Store struct {
	primary   Backend
	secondary Backend
	logger    *slog.Logger

	wg sync.WaitGroup
}

// Config holds dual store configuration.
type Config struct {
	Primary   Backend
	Secondary Backend
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// Load reads from the primary backend only.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	return s.primary.Load(ctx, collection)
}

// Save writes to the primary (which decides success) and then mirrors to
// the secondary in the background. Secondary errors are logged only.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	if err := s.primary.Save(ctx, collection, payload); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.secondary.Save(context.WithoutCancel(ctx), collection, payload); err != nil {
			s.logger.Error("dual-write to secondary failed",
				"collection", collection,
				"error", err,
			)
		}
	}()

	return nil
}

// Flush waits for in-flight secondary writes.
func (s *Store) Flush() {
	s.wg.Wait()
}

// Close waits for pending mirror writes and closes both backends.
func (s *Store) Close() error {
	s.wg.Wait()
	return errors.Join(s.primary.Close(), s.secondary.Close())
}
