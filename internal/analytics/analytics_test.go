package analytics

import (
	"testing"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
)

func TestIsStaleBoundary(t *testing.T) {
	refreshedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	gauge := gauges.Gauge{UpdatedAt: refreshedAt}

	if IsStale(gauge, refreshedAt.Add(29*time.Minute)) {
		t.Fatalf("gauge must not be stale 29 minutes after refresh")
	}
	if IsStale(gauge, refreshedAt.Add(30*time.Minute)) {
		t.Fatalf("gauge must not be stale exactly at the boundary")
	}
	if !IsStale(gauge, refreshedAt.Add(31*time.Minute)) {
		t.Fatalf("gauge must be stale 31 minutes after refresh")
	}
}

func readingsAt(base time.Time, metric string, values ...float64) []gauges.Reading {
	result := make([]gauges.Reading, 0, len(values))
	for i, value := range values {
		result = append(result, gauges.Reading{
			Metric:    metric,
			Value:     value,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return result
}

func TestTrendClassification(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(6 * time.Hour)

	tests := []struct {
		name     string
		readings []gauges.Reading
		expected Direction
	}{
		{
			name:     "strictly increasing is rising",
			readings: readingsAt(base, gauges.MetricCFS, 100, 120, 150, 200),
			expected: DirectionRising,
		},
		{
			name:     "strictly decreasing is falling",
			readings: readingsAt(base, gauges.MetricCFS, 200, 150, 120, 100),
			expected: DirectionFalling,
		},
		{
			name:     "all equal is stable",
			readings: readingsAt(base, gauges.MetricCFS, 150, 150, 150),
			expected: DirectionStable,
		},
		{
			name:     "change below threshold is stable",
			readings: readingsAt(base, gauges.MetricCFS, 100, 103),
			expected: DirectionStable,
		},
		{
			name:     "single point is insufficient",
			readings: readingsAt(base, gauges.MetricCFS, 100),
			expected: DirectionInsufficientData,
		},
		{
			name:     "no points is insufficient",
			readings: nil,
			expected: DirectionInsufficientData,
		},
		{
			name:     "other metric group ignored",
			readings: readingsAt(base, gauges.MetricFeet, 1, 2, 3),
			expected: DirectionInsufficientData,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			direction := Trend(tc.readings, gauges.DischargeMetrics, 24*time.Hour, now)
			if direction != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, direction)
			}
		})
	}
}

func TestTrendExcludesReadingsOutsideWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(48 * time.Hour)

	// Both readings fall before the 24h window; direction must not classify.
	readings := readingsAt(base, gauges.MetricCFS, 100, 500)
	direction := Trend(readings, gauges.DischargeMetrics, 24*time.Hour, now)
	if direction != DirectionInsufficientData {
		t.Fatalf("expected insufficient data for out-of-window readings, got %s", direction)
	}
}

func TestLatestByMetricGroupMatchesCaseInsensitively(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	readings := []gauges.Reading{
		{Metric: "CFS", Value: 100, CreatedAt: base},
		{Metric: "cfs", Value: 200, CreatedAt: base.Add(2 * time.Hour)},
		{Metric: "ft", Value: 3.5, CreatedAt: base.Add(3 * time.Hour)},
	}

	latest := LatestByMetricGroup(readings, gauges.DischargeMetrics)
	if latest == nil {
		t.Fatalf("expected a discharge reading")
	}
	if latest.Value != 200 {
		t.Fatalf("expected most recent discharge value 200, got %v", latest.Value)
	}

	if LatestByMetricGroup(readings[2:], gauges.DischargeMetrics) != nil {
		t.Fatalf("expected no match when only stage readings remain")
	}
}

func TestFilterInBox(t *testing.T) {
	box := gauges.Box{MinLatitude: 38, MaxLatitude: 40, MinLongitude: -78, MaxLongitude: -76}
	inBox := []gauges.Gauge{
		{ID: 1, Latitude: 38.95, Longitude: -77.13},
		{ID: 2, Latitude: 39.5, Longitude: -76.5},
		{ID: 3, Latitude: 38.0, Longitude: -78.0},
	}
	outOfBox := []gauges.Gauge{
		{ID: 4, Latitude: 45.0, Longitude: -77.0},
		{ID: 5, Latitude: 39.0, Longitude: -122.0},
		{ID: 6, Latitude: -38.9, Longitude: -77.1},
	}

	result := FilterInBox(append(inBox, outOfBox...), box)
	if len(result) != len(inBox) {
		t.Fatalf("expected %d gauges in box, got %d", len(inBox), len(result))
	}
	for _, gauge := range result {
		if !box.Contains(gauge.Latitude, gauge.Longitude) {
			t.Fatalf("gauge %d outside box leaked through filter", gauge.ID)
		}
	}
}
