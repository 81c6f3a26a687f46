// Package snapshots provides file-based storage for named, gzip-compressed
// copies of the records collection.
package snapshots

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Default configuration values
const (
	DefaultDir            = "./data/snapshots"
	DefaultMaxSize        = 100 * 1024 * 1024 // 100MB
	DefaultMaxSnapshots   = 50
	SnapshotFileExtension = ".json.gz"
	CurrentVersion        = 1
)

// Config contains snapshot storage configuration.
type Config struct {
	// Dir is the directory where snapshots are stored
	Dir string `yaml:"dir"`

	// MaxSize is the maximum uncompressed size of a single snapshot in bytes
	MaxSize int64 `yaml:"max_size_bytes"`

	// MaxSnapshots is the maximum number of snapshots to keep
	MaxSnapshots int `yaml:"max_snapshots"`
}

// DefaultConfig returns the default snapshot storage configuration.
func DefaultConfig() Config {
	return Config{
		Dir:          DefaultDir,
		MaxSize:      DefaultMaxSize,
		MaxSnapshots: DefaultMaxSnapshots,
	}
}

// Store is a file-based snapshot storage.
type Store struct {
	config Config
	mu     sync.RWMutex
}

// New creates a snapshot store, creating its directory if needed.
func New(config Config) (*Store, error) {
	if config.Dir == "" {
		config.Dir = DefaultDir
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.MaxSnapshots <= 0 {
		config.MaxSnapshots = DefaultMaxSnapshots
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	return &Store{
		config: config,
	}, nil
}

// Save writes a new snapshot. Names are never overwritten.
func (s *Store) Save(ctx context.Context, snap *models.Snapshot) (models.SnapshotMetadata, error) {
	if snap == nil {
		return models.SnapshotMetadata{}, fmt.Errorf("%w: snapshot cannot be nil", models.ErrValidation)
	}
	if err := models.ValidateSnapshotName(snap.ID); err != nil {
		return models.SnapshotMetadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listMetadataLocked()
	if err != nil {
		return models.SnapshotMetadata{}, fmt.Errorf("listing snapshots: %w", err)
	}
	for _, meta := range existing {
		if meta.ID == snap.ID {
			return models.SnapshotMetadata{}, fmt.Errorf("%w: snapshot %s already exists", models.ErrConflict, snap.ID)
		}
	}
	if len(existing) >= s.config.MaxSnapshots {
		return models.SnapshotMetadata{}, fmt.Errorf("%w: maximum of %d snapshots reached", models.ErrConflict, s.config.MaxSnapshots)
	}

	snap.Version = CurrentVersion
	if snap.Created.IsZero() {
		snap.Created = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return models.SnapshotMetadata{}, fmt.Errorf("marshaling snapshot: %w", err)
	}
	if int64(len(data)) > s.config.MaxSize {
		return models.SnapshotMetadata{}, fmt.Errorf("%w: snapshot exceeds %d bytes", models.ErrValidation, s.config.MaxSize)
	}

	size, err := s.writeGzip(s.snapshotPath(snap.ID), data)
	if err != nil {
		return models.SnapshotMetadata{}, fmt.Errorf("%w: writing snapshot file: %v", models.ErrStorage, err)
	}

	meta := snap.Metadata()
	meta.SizeBytes = size
	return meta, nil
}

// Load reads a snapshot with its records.
func (s *Store) Load(ctx context.Context, name string) (*models.Snapshot, error) {
	if err := models.ValidateSnapshotName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadLocked(name)
}

func (s *Store) loadLocked(name string) (*models.Snapshot, error) {
	data, err := s.readGzip(s.snapshotPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: snapshot %s", models.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot file: %v", models.ErrStorage, err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling snapshot %s: %v", models.ErrStorage, name, err)
	}
	return &snap, nil
}

// Delete removes a snapshot from disk.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := models.ValidateSnapshotName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.snapshotPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: snapshot %s", models.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: removing snapshot file: %v", models.ErrStorage, err)
	}
	return nil
}

// List returns metadata for all saved snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]models.SnapshotMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listMetadataLocked()
}

func (s *Store) snapshotPath(name string) string {
	return filepath.Join(s.config.Dir, name+SnapshotFileExtension)
}

// listMetadataLocked lists all snapshot metadata (must hold lock).
func (s *Store) listMetadataLocked() ([]models.SnapshotMetadata, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.SnapshotMetadata{}, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	snapshots := make([]models.SnapshotMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, SnapshotFileExtension) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		snap, err := s.loadLocked(strings.TrimSuffix(name, SnapshotFileExtension))
		if err != nil {
			continue // Skip corrupted files
		}

		meta := snap.Metadata()
		meta.SizeBytes = info.Size()
		snapshots = append(snapshots, meta)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Created.After(snapshots[j].Created)
	})
	return snapshots, nil
}

// writeGzip compresses data into path via a temp file and returns the
// compressed size.
func (s *Store) writeGzip(path string, data []byte) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	gw := gzip.NewWriter(tmp)
	if _, err := gw.Write(data); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := gw.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return info.Size(), os.Rename(tmp.Name(), path)
}

// readGzip reads data from a gzip-compressed file.
func (s *Store) readGzip(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
