package models

import (
	"fmt"
	"regexp"
	"time"
)

var snapshotNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*[a-z0-9]$|^[a-z0-9]$`)

// ValidateSnapshotName checks if a snapshot name is valid.
// Names must be lowercase alphanumeric with hyphens, no spaces or special chars.
func ValidateSnapshotName(name string) error {
	if name == "" || len(name) > 128 || !snapshotNameRegex.MatchString(name) {
		return fmt.Errorf("%w: invalid snapshot name %q: must be lowercase alphanumeric with hyphens", ErrValidation, name)
	}
	return nil
}

// Snapshot is a named point-in-time copy of the records collection.
type Snapshot struct {
	// ID is the unique snapshot identifier (name)
	ID string `json:"id"`

	// Description is an optional user-provided description
	Description string `json:"description,omitempty"`

	// Created is when the snapshot was taken
	Created time.Time `json:"created"`

	// Version is the snapshot file format version
	Version int `json:"version"`

	Records []TelemetryRecord `json:"records"`
}

// SnapshotMetadata describes a snapshot without its records.
type SnapshotMetadata struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Created     time.Time `json:"created"`
	RecordCount int       `json:"record_count"`
	DeviceCount int       `json:"device_count"`

	// SizeBytes is the compressed file size
	SizeBytes int64 `json:"size_bytes"`
}

// Metadata summarizes s. SizeBytes is left for the store to fill in.
func (s *Snapshot) Metadata() SnapshotMetadata {
	devices := make(map[string]struct{})
	for _, r := range s.Records {
		devices[r.DeviceID] = struct{}{}
	}
	return SnapshotMetadata{
		ID:          s.ID,
		Description: s.Description,
		Created:     s.Created,
		RecordCount: len(s.Records),
		DeviceCount: len(devices),
	}
}
