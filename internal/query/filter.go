// Package query filters and paginates permission-scoped telemetry records.
package query

import (
	"strings"
	"time"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Filter is a free-text term plus optional structured criteria. Zero
// values (and nil bounds) disable a criterion; all set criteria must hold.
type Filter struct {
	// Text matches any field's string form, case-insensitively
	Text string

	// AnimalID matches as a case-insensitive substring
	AnimalID string

	// DeviceID matches exactly
	DeviceID string

	// Weight bounds are inclusive
	WeightMin *float64
	WeightMax *float64

	// DateFrom is an inclusive lower instant
	DateFrom *time.Time

	// DateTo is inclusive through the end of its calendar day
	DateTo *time.Time
}

// IsZero reports whether f matches everything.
func (f Filter) IsZero() bool {
	return f.Text == "" && f.AnimalID == "" && f.DeviceID == "" &&
		f.WeightMin == nil && f.WeightMax == nil &&
		f.DateFrom == nil && f.DateTo == nil
}

// EndOfDay returns the last millisecond (23:59:59.999) of t's calendar day
// in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// Matches reports whether r satisfies every criterion in f.
func (f Filter) Matches(r models.TelemetryRecord) bool {
	if f.Text != "" && !matchesText(r, strings.ToLower(f.Text)) {
		return false
	}
	if f.AnimalID != "" && !strings.Contains(strings.ToLower(r.AnimalID), strings.ToLower(f.AnimalID)) {
		return false
	}
	if f.DeviceID != "" && r.DeviceID != f.DeviceID {
		return false
	}
	if f.WeightMin != nil && r.AnimalWeight < *f.WeightMin {
		return false
	}
	if f.WeightMax != nil && r.AnimalWeight > *f.WeightMax {
		return false
	}

	if f.DateFrom != nil || f.DateTo != nil {
		ts, err := r.Time()
		if err != nil {
			return false
		}
		if f.DateFrom != nil && ts.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && ts.After(EndOfDay(*f.DateTo)) {
			return false
		}
	}
	return true
}

func matchesText(r models.TelemetryRecord, lowered string) bool {
	for _, field := range r.SearchFields() {
		if strings.Contains(strings.ToLower(field), lowered) {
			return true
		}
	}
	return false
}

// Apply returns the records matching f in their original order. The input
// is not modified.
func Apply(records []models.TelemetryRecord, f Filter) []models.TelemetryRecord {
	matched := make([]models.TelemetryRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	return matched
}
