// Package file provides a directory-of-JSON-files snapshot backend.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Default configuration values
const (
	DefaultDir    = "./data"
	FileExtension = ".json"
)

var collectionNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

// Config contains file backend configuration.
type Config struct {
	// Dir is the directory holding one <collection>.json per collection
	Dir string

	// Indent pretty-prints snapshots so they stay hand-editable
	Indent bool
}

// DefaultConfig returns the default file backend configuration.
func DefaultConfig() Config {
	return Config{
		Dir:    DefaultDir,
		Indent: true,
	}
}

// Store keeps each collection in its own JSON file.
type Store struct {
	config Config
	mu     sync.RWMutex
}

// New creates a file store, creating the directory if needed.
func New(config Config) (*Store, error) {
	if config.Dir == "" {
		config.Dir = DefaultDir
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &Store{
		config: config,
	}, nil
}

// Load reads a collection file. A missing file yields a nil payload.
func (s *Store) Load(ctx context.Context, collection string) ([]byte, error) {
	if err := validateName(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}
	return data, nil
}

// Save atomically replaces a collection file.
func (s *Store) Save(ctx context.Context, collection string, payload []byte) error {
	if err := validateName(collection); err != nil {
		return err
	}

	if s.config.Indent {
		var buf bytes.Buffer
		if err := json.Indent(&buf, payload, "", "  "); err == nil {
			payload = buf.Bytes()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path(collection), payload, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op; files are closed after every write.
func (s *Store) Close() error {
	return nil
}

// path returns the file path for a collection.
func (s *Store) path(collection string) string {
	return filepath.Join(s.config.Dir, collection+FileExtension)
}

func validateName(collection string) error {
	if !collectionNameRegex.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	return nil
}

// writeAtomic writes to a temp file, syncs it, and renames it over path,
// so readers see either the old or the new snapshot, never a torn one.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	// Best effort: persist the directory entry
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
