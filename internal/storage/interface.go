// Package storage defines how the dashboard's collections are persisted.
package storage

import (
	"context"
	"errors"
)

// Backend persists named collections as whole JSON snapshots.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the last saved snapshot of a collection, or a nil
	// payload if the collection has never been saved.
	Load(ctx context.Context, collection string) ([]byte, error)

	// Save durably replaces the snapshot of a collection. A nil error
	// means the payload will survive a process restart.
	Save(ctx context.Context, collection string, payload []byte) error

	// Close releases backend resources (connections, clients).
	Close() error
}

// ErrClosed is returned when a mutation is submitted to a closed collection.
var ErrClosed = errors.New("collection is closed")

// ErrUnchanged may be returned by a Mutation to signal that nothing needs
// to be persisted. Mutate then reports success without writing.
var ErrUnchanged = errors.New("collection unchanged")
