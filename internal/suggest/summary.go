package suggest

import (
	"fmt"
	"strings"
	"time"

	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

// Fallback texts sent when there is nothing to describe.
const (
	NoRecentData       = "No recent data."
	NoPreviousSearches = "No previous searches."
)

// SummaryWindow is how far back Summarize looks.
const SummaryWindow = 24 * time.Hour

// Summarize describes ingestion activity in the SummaryWindow before now.
func Summarize(records []models.TelemetryRecord, now time.Time) string {
	since := now.Add(-SummaryWindow)

	var (
		count     int
		total     float64
		devices   = make(map[string]struct{})
		unitCount = make(map[string]int)
	)
	for _, r := range records {
		ts, err := r.Time()
		if err != nil || ts.Before(since) || ts.After(now) {
			continue
		}
		count++
		total += r.AnimalWeight
		devices[r.DeviceID] = struct{}{}
		if r.SourceUnit != "" {
			unitCount[r.SourceUnit]++
		}
	}
	if count == 0 {
		return NoRecentData
	}

	summary := fmt.Sprintf("In the last 24 hours %d readings arrived from %d devices", count, len(devices))
	if unit := busiest(unitCount); unit != "" {
		summary += fmt.Sprintf(", most of them from %s", unit)
	}
	return summary + fmt.Sprintf(". Average animal weight was %.1f kg.", total/float64(count))
}

// busiest returns the unit with the most readings, ties broken by name.
func busiest(unitCount map[string]int) string {
	var best string
	for unit, n := range unitCount {
		if best == "" || n > unitCount[best] || (n == unitCount[best] && unit < best) {
			best = unit
		}
	}
	return best
}

// HistoryText joins terms for the generator prompt.
func HistoryText(terms []string) string {
	if len(terms) == 0 {
		return NoPreviousSearches
	}
	return strings.Join(terms, ", ")
}

// ParseTerms splits a comma-separated reply into trimmed, non-empty terms.
func ParseTerms(reply string) []string {
	terms := make([]string, 0)
	for _, part := range strings.Split(reply, ",") {
		if term := strings.TrimSpace(part); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}
