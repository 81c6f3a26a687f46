package devices

import (
	"slices"
	"testing"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

func TestDistinct(t *testing.T) {
	records := []models.TelemetryRecord{
		{DeviceID: "DEV-003"},
		{DeviceID: "DEV-001"},
		{DeviceID: "DEV-003"},
		{DeviceID: "DEV-002"},
	}

	got := Distinct(records)
	want := []string{"DEV-001", "DEV-002", "DEV-003"}
	if !slices.Equal(got, want) {
		t.Errorf("Distinct() = %v, want %v", got, want)
	}

	if got := Distinct(nil); got == nil || len(got) != 0 {
		t.Errorf("Distinct(nil) = %#v, want empty non-nil slice", got)
	}
}

type fakeSource struct {
	records   []models.TelemetryRecord
	version   uint64
	snapshots int
}

func (f *fakeSource) Snapshot() ([]models.TelemetryRecord, uint64) {
	f.snapshots++
	return slices.Clone(f.records), f.version
}

func (f *fakeSource) Version() uint64 { return f.version }

func TestDirectoryInvalidatesOnVersion(t *testing.T) {
	src := &fakeSource{records: []models.TelemetryRecord{{DeviceID: "DEV-002"}}, version: 1}
	dir := NewDirectory(src)

	if got := dir.List(); !slices.Equal(got, []string{"DEV-002"}) {
		t.Fatalf("List() = %v", got)
	}
	dir.List()
	if src.snapshots != 1 {
		t.Errorf("expected cached result, source read %d times", src.snapshots)
	}

	src.records = append(src.records, models.TelemetryRecord{DeviceID: "DEV-001"})
	src.version = 2

	if got := dir.List(); !slices.Equal(got, []string{"DEV-001", "DEV-002"}) {
		t.Errorf("List() after mutation = %v", got)
	}
	if !dir.Contains("DEV-001") || dir.Contains("DEV-009") {
		t.Error("Contains disagrees with List")
	}
}
