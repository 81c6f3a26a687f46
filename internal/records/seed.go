package records

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/fidde/herd_weight_dashboard/internal/storage"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Demo data shape: five scales spread over three units, fifty animals.
const (
	demoDevices = 5
	demoAnimals = 50
	demoWindow  = 90 * 24 * time.Hour
	demoMinKg   = 5.0
	demoMaxKg   = 200.0
)

// DemoRecord returns a random reading timestamped within the 90 days
// before now.
func DemoRecord(rng *rand.Rand, now time.Time) models.TelemetryRecord {
	deviceNum := rng.IntN(demoDevices) + 1
	unitNum := (deviceNum + 1) / 2
	ts := now.Add(-time.Duration(rng.Int64N(int64(demoWindow))))

	return models.TelemetryRecord{
		Timestamp:    ts.UTC().Format(time.RFC3339Nano),
		DeviceID:     fmt.Sprintf("DEV-%03d", deviceNum),
		SourceUnit:   fmt.Sprintf("Unit-%c", 'A'+unitNum-1),
		AnimalID:     fmt.Sprintf("ANI-%04d", rng.IntN(demoAnimals)+1),
		AnimalWeight: math.Round((demoMinKg+rng.Float64()*(demoMaxKg-demoMinKg))*100) / 100,
	}
}

// SeedDemo fills an empty store with n demo readings, newest first.
// It does nothing if the store already holds records.
func (s *Store) SeedDemo(ctx context.Context, n int, rng *rand.Rand, now time.Time) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	var seeded int
	err := s.coll.Mutate(ctx, func(items []models.TelemetryRecord) ([]models.TelemetryRecord, error) {
		if len(items) > 0 {
			return nil, storage.ErrUnchanged
		}
		seen := make(map[string]struct{}, n)
		next := make([]models.TelemetryRecord, n)
		for i := range next {
			rec := DemoRecord(rng, now)
			rec.ID = s.freshID(seen)
			seen[rec.ID] = struct{}{}
			next[i] = rec
		}
		sortNewestFirst(next)
		seeded = n
		return next, nil
	})
	if err != nil {
		return 0, fmt.Errorf("seeding demo records: %w", err)
	}
	if seeded > 0 {
		s.logger.Info("seeded demo records", "count", seeded)
	}
	return seeded, nil
}

func sortNewestFirst(recs []models.TelemetryRecord) {
	slices.SortStableFunc(recs, func(a, b models.TelemetryRecord) int {
		ta, _ := a.Time()
		tb, _ := b.Time()
		return tb.Compare(ta)
	})
}
