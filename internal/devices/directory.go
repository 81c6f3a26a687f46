// Package devices derives the set of devices present in the record store.
package devices

import (
	"slices"
	"sync"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Distinct returns the unique device ids in records, sorted ascending.
func Distinct(records []models.TelemetryRecord) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range records {
		if _, ok := seen[r.DeviceID]; ok {
			continue
		}
		seen[r.DeviceID] = struct{}{}
		ids = append(ids, r.DeviceID)
	}
	slices.Sort(ids)
	return ids
}

// Source is a versioned record source.
type Source interface {
	Snapshot() ([]models.TelemetryRecord, uint64)
	Version() uint64
}

// Directory caches Distinct over a Source and recomputes it whenever the
// source version changes.
type Directory struct {
	source Source

	mu      sync.Mutex
	version uint64
	valid   bool
	ids     []string
}

// NewDirectory creates a directory over source.
func NewDirectory(source Source) *Directory {
	return &Directory{source: source}
}

// List returns the sorted distinct device ids currently in the source.
func (d *Directory) List() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.valid && d.source.Version() == d.version {
		return slices.Clone(d.ids)
	}

	records, version := d.source.Snapshot()
	d.ids = Distinct(records)
	d.version = version
	d.valid = true
	return slices.Clone(d.ids)
}

// Contains reports whether deviceID currently has records.
func (d *Directory) Contains(deviceID string) bool {
	_, found := slices.BinarySearch(d.List(), deviceID)
	return found
}
