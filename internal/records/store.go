// Package records implements the durable telemetry record store.
//
// Records are kept most-recently-inserted first. Every mutation goes
// through the collection's single writer and is persisted before it is
// reported as successful.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fidde/herd_weight_dashboard/internal/metrics"
	"github.com/fidde/herd_weight_dashboard/internal/storage"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// CollectionName is the backend collection holding the records.
const CollectionName = "records"

// Store is the telemetry record store.
type Store struct {
	coll   *storage.Collection[models.TelemetryRecord]
	logger *slog.Logger
	newID  func() string
}

// Open loads the records collection. Records persisted without an id
// (or with a duplicate one) get a fresh id, which is written back once.
func Open(ctx context.Context, backend storage.Backend, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	coll, err := storage.OpenCollection[models.TelemetryRecord](ctx, backend, CollectionName, logger)
	if err != nil {
		return nil, err
	}

	s := &Store{
		coll:   coll,
		logger: logger,
		newID:  uuid.NewString,
	}

	if err := s.assignMissingIDs(ctx); err != nil {
		coll.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) assignMissingIDs(ctx context.Context) error {
	var assigned int
	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		seen := make(map[string]struct{}, len(items))
		for i := range items {
			id := strings.TrimSpace(items[i].ID)
			if _, dup := seen[id]; id == "" || dup {
				id = s.freshID(seen)
				items[i].ID = id
				assigned++
			}
			seen[id] = struct{}{}
		}
		if assigned == 0 {
			return nil, storage.ErrUnchanged
		}
		return items, nil
	})
	if err != nil {
		return fmt.Errorf("assigning record ids: %w", err)
	}
	if assigned > 0 {
		s.logger.Info("assigned ids to legacy records", "count", assigned)
	}
	return nil
}

// freshID returns an id not present in seen.
func (s *Store) freshID(seen map[string]struct{}) string {
	for {
		id := s.newID()
		if _, taken := seen[id]; !taken {
			return id
		}
	}
}

// ListAll returns every record, most recently inserted first.
func (s *Store) ListAll() []models.TelemetryRecord {
	items, _ := s.coll.Snapshot()
	if items == nil {
		return []models.TelemetryRecord{}
	}
	return items
}

// Snapshot returns every record with the store version it was read at.
func (s *Store) Snapshot() ([]models.TelemetryRecord, uint64) {
	return s.coll.Snapshot()
}

// Version increases with every committed mutation.
func (s *Store) Version() uint64 {
	return s.coll.Version()
}

// Append validates rec, assigns it a new id and inserts it at the head.
// Any id on the input is ignored.
func (s *Store) Append(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error) {
	if err := rec.Validate(); err != nil {
		return models.TelemetryRecord{}, err
	}

	var stored models.TelemetryRecord
	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		stored = rec
		stored.ID = s.freshID(idSet(items))

		next := make([]models.TelemetryRecord, 0, len(items)+1)
		next = append(next, stored)
		return append(next, items...), nil
	})
	if err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("appending record: %w", err)
	}

	metrics.RecordOperations.WithLabelValues("append").Inc()
	return stored, nil
}

// AppendBatch validates every record before inserting any of them, then
// inserts them in order so the last one ends up at the head.
func (s *Store) AppendBatch(ctx context.Context, recs []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	var stored []models.TelemetryRecord
	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		seen := idSet(items)
		stored = make([]models.TelemetryRecord, len(recs))
		next := make([]models.TelemetryRecord, len(recs), len(recs)+len(items))
		for i, rec := range recs {
			rec.ID = s.freshID(seen)
			seen[rec.ID] = struct{}{}
			stored[i] = rec
			next[len(recs)-1-i] = rec
		}
		return append(next, items...), nil
	})
	if err != nil {
		return nil, fmt.Errorf("appending records: %w", err)
	}

	metrics.RecordOperations.WithLabelValues("append").Add(float64(len(stored)))
	return stored, nil
}

// DeleteByIDs removes every record whose id is in ids and returns how many
// were removed. Unknown ids are ignored.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	removed, err := s.deleteWhere(ctx, func(r models.TelemetryRecord) bool {
		_, ok := remove[r.ID]
		return ok
	})
	if err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}

	metrics.RecordOperations.WithLabelValues("delete").Add(float64(removed))
	return removed, nil
}

// DeleteByDevice removes every record reported by deviceID.
func (s *Store) DeleteByDevice(ctx context.Context, deviceID string) (int, error) {
	removed, err := s.deleteWhere(ctx, func(r models.TelemetryRecord) bool {
		return r.DeviceID == deviceID
	})
	if err != nil {
		return 0, fmt.Errorf("deleting records of device %s: %w", deviceID, err)
	}

	metrics.RecordOperations.WithLabelValues("delete").Add(float64(removed))
	return removed, nil
}

func (s *Store) deleteWhere(ctx context.Context, match func(models.TelemetryRecord) bool) (int, error) {
	var removed int
	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		removed = 0
		next := items[:0]
		for _, r := range items {
			if match(r) {
				removed++
				continue
			}
			next = append(next, r)
		}
		if removed == 0 {
			return nil, storage.ErrUnchanged
		}
		return next, nil
	})
	return removed, err
}

// Update replaces the record with rec.ID in place.
func (s *Store) Update(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return models.TelemetryRecord{}, fmt.Errorf("%w: id is required", models.ErrValidation)
	}
	if err := rec.Validate(); err != nil {
		return models.TelemetryRecord{}, err
	}

	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		for i := range items {
			if items[i].ID == rec.ID {
				items[i] = rec
				return items, nil
			}
		}
		return nil, fmt.Errorf("%w: record %s", models.ErrNotFound, rec.ID)
	})
	if err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("updating record: %w", err)
	}

	metrics.RecordOperations.WithLabelValues("update").Inc()
	return rec, nil
}

// ReplaceAll swaps the whole collection for recs, keeping their order and
// ids. Blank or duplicate ids get fresh ones. Every record is validated
// before anything is replaced.
func (s *Store) ReplaceAll(ctx context.Context, recs []models.TelemetryRecord) (int, error) {
	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}

	next := make([]models.TelemetryRecord, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for i, rec := range recs {
		id := strings.TrimSpace(rec.ID)
		if _, dup := seen[id]; id == "" || dup {
			id = s.freshID(seen)
		}
		rec.ID = id
		seen[id] = struct{}{}
		next[i] = rec
	}

	err := s.coll.Mutate(ctx, func([]models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		return next, nil
	})
	if err != nil {
		return 0, fmt.Errorf("replacing records: %w", err)
	}

	metrics.RecordOperations.WithLabelValues("replace").Inc()
	s.logger.Info("records replaced", "count", len(next))
	return len(next), nil
}

// Close stops the writer. The backend stays open.
func (s *Store) Close() error {
	return s.coll.Close()
}

func idSet(items []models.TelemetryRecord) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, r := range items {
		ids[r.ID] = struct{}{}
	}
	return ids
}
