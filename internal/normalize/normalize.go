// Package normalize maps raw provider records into the canonical gauge and
// reading shapes. The mapping is pure: values are never converted between
// units, only the unit-label vocabulary is standardized so downstream logic
// can group readings by physical quantity independent of source.
package normalize

import (
	"fmt"
	"strings"

	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/flowmark/flowmark/internal/sources"
)

// unitLabels maps the provider-native unit spellings seen across the four
// sources onto the canonical label vocabulary.
var unitLabels = map[string]string{
	"cfs":                   gauges.MetricCFS,
	"ft3/s":                 gauges.MetricCFS,
	"ft^3/s":                gauges.MetricCFS,
	"cubic feet per second": gauges.MetricCFS,
	"cms":                   gauges.MetricCMS,
	"m3/s":                  gauges.MetricCMS,
	"m^3/s":                 gauges.MetricCMS,
	"m³/s":                  gauges.MetricCMS,
	"cumecs":                gauges.MetricCMS,
	"ft":                    gauges.MetricFeet,
	"feet":                  gauges.MetricFeet,
	"m":                     gauges.MetricMeters,
	"metres":                gauges.MetricMeters,
	"meters":                gauges.MetricMeters,
}

// CanonicalUnit standardizes a provider unit label. Unknown labels pass
// through lowercased rather than failing, so a new provider unit degrades to
// an ungrouped metric instead of dropped data.
func CanonicalUnit(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if label, ok := unitLabels[trimmed]; ok {
		return label
	}
	return trimmed
}

// Gauge maps one raw station record into the canonical shape, minus the
// surrogate id assigned at seed time. Records with no resolvable source or no
// coordinate pair are rejected rather than defaulted.
func Gauge(raw sources.RawGauge) (gauges.Gauge, error) {
	if raw.Source == "" {
		return gauges.Gauge{}, fmt.Errorf("%w: gauge %q has no source", sources.ErrMalformedRecord, raw.SiteID)
	}
	if _, ok := gauges.ParseSource(string(raw.Source)); !ok {
		return gauges.Gauge{}, fmt.Errorf("%w: gauge %q has unknown source %q", sources.ErrMalformedRecord, raw.SiteID, raw.Source)
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return gauges.Gauge{}, fmt.Errorf("%w: gauge %q has no coordinates", sources.ErrMalformedRecord, raw.SiteID)
	}
	if strings.TrimSpace(raw.SiteID) == "" {
		return gauges.Gauge{}, fmt.Errorf("%w: gauge with empty site id", sources.ErrMalformedRecord)
	}

	return gauges.Gauge{
		Name:      strings.TrimSpace(raw.Name),
		SiteID:    strings.TrimSpace(raw.SiteID),
		Metric:    CanonicalUnit(raw.Unit),
		Country:   strings.TrimSpace(raw.Country),
		State:     strings.TrimSpace(raw.State),
		Zone:      strings.TrimSpace(raw.Zone),
		Source:    raw.Source,
		Latitude:  *raw.Latitude,
		Longitude: *raw.Longitude,
		Status:    gauges.StatusUnknown,
	}, nil
}

// Reading maps one raw observation into the canonical shape, minus the owning
// gauge id, which the sync coordinator assigns.
func Reading(raw sources.RawReading) (gauges.Reading, error) {
	if raw.Source == "" {
		return gauges.Reading{}, fmt.Errorf("%w: reading for %q has no source", sources.ErrMalformedRecord, raw.SiteID)
	}
	if strings.TrimSpace(raw.SiteID) == "" {
		return gauges.Reading{}, fmt.Errorf("%w: reading with empty site id", sources.ErrMalformedRecord)
	}
	if raw.Timestamp.IsZero() {
		return gauges.Reading{}, fmt.Errorf("%w: reading for %q has no timestamp", sources.ErrMalformedRecord, raw.SiteID)
	}

	status := raw.Status
	if status == "" {
		status = gauges.StatusUnknown
	}

	return gauges.Reading{
		SiteID:    strings.TrimSpace(raw.SiteID),
		Value:     raw.Value,
		Metric:    CanonicalUnit(raw.Unit),
		CreatedAt: raw.Timestamp.UTC(),
		Status:    status,
	}, nil
}

// Gauges maps a raw batch, dropping and counting malformed records. A bad
// record is never fatal to the batch.
func Gauges(raw []sources.RawGauge) ([]gauges.Gauge, int) {
	result := make([]gauges.Gauge, 0, len(raw))
	dropped := 0
	for _, record := range raw {
		gauge, err := Gauge(record)
		if err != nil {
			dropped++
			continue
		}
		result = append(result, gauge)
	}
	return result, dropped
}

// Readings maps a raw batch, dropping and counting malformed records.
func Readings(raw []sources.RawReading) ([]gauges.Reading, int) {
	result := make([]gauges.Reading, 0, len(raw))
	dropped := 0
	for _, record := range raw {
		reading, err := Reading(record)
		if err != nil {
			dropped++
			continue
		}
		result = append(result, reading)
	}
	return result, dropped
}
