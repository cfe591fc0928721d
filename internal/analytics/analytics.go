// Package analytics provides read-only computations over stored gauges and
// readings: staleness, trend classification, and metric-group selection. All
// functions are pure; callers supply the data and the clock.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
)

// StaleAfter is how long a gauge may go unrefreshed before its data is
// considered stale.
const StaleAfter = 30 * time.Minute

// relativeChangeThreshold is the minimum |latest-earliest|/|earliest| ratio
// for a window to classify as rising or falling rather than stable.
const relativeChangeThreshold = 0.05

// Direction classifies the movement of readings over a window.
type Direction string

const (
	DirectionRising           Direction = "rising"
	DirectionFalling          Direction = "falling"
	DirectionStable           Direction = "stable"
	DirectionInsufficientData Direction = "insufficient_data"
)

// IsStale reports whether the gauge's readings have gone unrefreshed for
// longer than the staleness boundary at the given instant.
func IsStale(gauge gauges.Gauge, now time.Time) bool {
	return now.Sub(gauge.UpdatedAt) > StaleAfter
}

// Trend classifies the direction of the readings whose metric matches the
// candidate set within the window ending at now. Direction is decided by
// comparing the earliest against the latest value in the window; fewer than
// two points yields DirectionInsufficientData.
func Trend(readings []gauges.Reading, candidateMetrics []string, window time.Duration, now time.Time) Direction {
	cutoff := now.Add(-window)

	matched := make([]gauges.Reading, 0, len(readings))
	for _, reading := range readings {
		if !matchesMetric(reading.Metric, candidateMetrics) {
			continue
		}
		if reading.CreatedAt.Before(cutoff) || reading.CreatedAt.After(now) {
			continue
		}
		matched = append(matched, reading)
	}

	if len(matched) < 2 {
		return DirectionInsufficientData
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	earliest := matched[0].Value
	latest := matched[len(matched)-1].Value

	delta := latest - earliest
	base := earliest
	if base < 0 {
		base = -base
	}
	if base == 0 {
		if delta == 0 {
			return DirectionStable
		}
		if delta > 0 {
			return DirectionRising
		}
		return DirectionFalling
	}

	ratio := delta / base
	switch {
	case ratio > relativeChangeThreshold:
		return DirectionRising
	case ratio < -relativeChangeThreshold:
		return DirectionFalling
	default:
		return DirectionStable
	}
}

// LatestByMetricGroup returns the most recent reading whose metric matches
// any of the candidate labels, case-insensitively, or nil when none match.
// Callers use this to pick a discharge or stage reading regardless of which
// unit variant the source reported.
func LatestByMetricGroup(readings []gauges.Reading, candidateMetrics []string) *gauges.Reading {
	var latest *gauges.Reading
	for i := range readings {
		reading := &readings[i]
		if !matchesMetric(reading.Metric, candidateMetrics) {
			continue
		}
		if latest == nil || reading.CreatedAt.After(latest.CreatedAt) {
			latest = reading
		}
	}
	if latest == nil {
		return nil
	}
	copied := *latest
	return &copied
}

// FilterInBox narrows an in-memory candidate set to gauges inside the box.
// The store performs the same rectangular pre-filter in SQL; exact distance
// ranking stays with the caller.
func FilterInBox(candidates []gauges.Gauge, box gauges.Box) []gauges.Gauge {
	result := make([]gauges.Gauge, 0, len(candidates))
	for _, gauge := range candidates {
		if box.Contains(gauge.Latitude, gauge.Longitude) {
			result = append(result, gauge)
		}
	}
	return result
}

func matchesMetric(metric string, candidates []string) bool {
	for _, candidate := range candidates {
		if strings.EqualFold(metric, candidate) {
			return true
		}
	}
	return false
}
