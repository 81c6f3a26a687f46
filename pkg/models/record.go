// Package models defines the core data structures of the weight dashboard.
//
// This package contains the domain models shared by the record store, the
// permission gate, the query engine and the ingestion paths.
package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TelemetryRecord is one weight reading reported by a device.
type TelemetryRecord struct {
	// ID is assigned by the record store and never reused
	ID string `json:"id"`

	// Timestamp is the reading instant as reported (RFC 3339 / ISO 8601)
	Timestamp string `json:"timestamp"`

	// DeviceID identifies the reporting scale
	DeviceID string `json:"deviceId"`

	// SourceUnit is the organizational grouping of devices (e.g. "Unit-A")
	SourceUnit string `json:"sourceUnit"`

	// AnimalID identifies the weighed animal
	AnimalID string `json:"animalId"`

	// AnimalWeight is the measured weight
	AnimalWeight float64 `json:"animalWeight"`
}

// timestampLayouts are tried in order when parsing a reading timestamp.
// Layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses a reading timestamp or filter bound.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrValidation, value)
}

// Time returns the parsed reading instant.
func (r TelemetryRecord) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

// Validate checks the fields required for a stored reading. The id is not
// checked here; the store owns it.
func (r TelemetryRecord) Validate() error {
	if _, err := r.Time(); err != nil {
		return err
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	if strings.TrimSpace(r.AnimalID) == "" {
		return fmt.Errorf("%w: animalId is required", ErrValidation)
	}
	if math.IsNaN(r.AnimalWeight) || math.IsInf(r.AnimalWeight, 0) {
		return fmt.Errorf("%w: animalWeight must be a finite number", ErrValidation)
	}
	if r.AnimalWeight < 0 {
		return fmt.Errorf("%w: animalWeight must not be negative", ErrValidation)
	}
	return nil
}

// WeightString renders the weight the way it appears in free-text search
// (shortest representation, no trailing zeros).
func (r TelemetryRecord) WeightString() string {
	return strconv.FormatFloat(r.AnimalWeight, 'f', -1, 64)
}

// SearchFields returns the string form of every field matched by free-text
// search. The store-assigned id is not part of the searchable surface.
func (r TelemetryRecord) SearchFields() []string {
	return []string{
		r.Timestamp,
		r.DeviceID,
		r.SourceUnit,
		r.AnimalID,
		r.WeightString(),
	}
}
