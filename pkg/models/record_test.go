package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestTelemetryRecord_Validate(t *testing.T) {
	valid := TelemetryRecord{
		Timestamp:    "2024-01-01T00:00:00Z",
		DeviceID:     "DEV-001",
		SourceUnit:   "Unit-A",
		AnimalID:     "ANI-0001",
		AnimalWeight: 42.5,
	}

	tests := []struct {
		name    string
		mutate  func(r *TelemetryRecord)
		wantErr bool
	}{
		{"valid", func(r *TelemetryRecord) {}, false},
		{"zero weight", func(r *TelemetryRecord) { r.AnimalWeight = 0 }, false},
		{"python isoformat", func(r *TelemetryRecord) { r.Timestamp = "2024-03-05T10:11:12.123456" }, false},
		{"missing timestamp", func(r *TelemetryRecord) { r.Timestamp = "" }, true},
		{"garbage timestamp", func(r *TelemetryRecord) { r.Timestamp = "yesterday" }, true},
		{"missing device", func(r *TelemetryRecord) { r.DeviceID = "  " }, true},
		{"missing animal", func(r *TelemetryRecord) { r.AnimalID = "" }, true},
		{"negative weight", func(r *TelemetryRecord) { r.AnimalWeight = -1 }, true},
		{"nan weight", func(r *TelemetryRecord) { r.AnimalWeight = math.NaN() }, true},
		{"inf weight", func(r *TelemetryRecord) { r.AnimalWeight = math.Inf(1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-01-05")
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	got, err = ParseTimestamp("2024-01-05T10:00:00+02:00")
	if err != nil {
		t.Fatalf("ParseTimestamp failed: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("offset not honoured: %v", got)
	}
}

func TestTelemetryRecord_SearchFields(t *testing.T) {
	r := TelemetryRecord{
		ID:           "abc",
		Timestamp:    "2024-01-01T00:00:00Z",
		DeviceID:     "DEV-001",
		SourceUnit:   "Unit-A",
		AnimalID:     "ANI-0001",
		AnimalWeight: 42.50,
	}
	fields := r.SearchFields()
	if len(fields) != 5 {
		t.Fatalf("expected 5 fields, got %d", len(fields))
	}
	if fields[4] != "42.5" {
		t.Errorf("expected weight rendered as 42.5, got %q", fields[4])
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrValidation, KindValidation},
		{errors.Join(errors.New("x"), ErrNotFound), KindNotFound},
		{ErrForbidden, KindForbidden},
		{ErrConflict, KindConflict},
		{ErrStorage, KindStorage},
		{ErrUnauthorized, KindUnauthorized},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
