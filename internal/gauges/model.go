package gauges

import (
	"strings"
	"time"
)

// Source identifies the upstream provider a gauge was ingested from.
type Source string

const (
	SourceUSGS              Source = "usgs"
	SourceEnvironmentCanada Source = "environment_canada"
	SourceLAWA              Source = "lawa"
	SourceDWR               Source = "dwr"
)

// ParseSource resolves a raw provider tag into a known Source.
func ParseSource(raw string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(raw))) {
	case SourceUSGS:
		return SourceUSGS, true
	case SourceEnvironmentCanada:
		return SourceEnvironmentCanada, true
	case SourceLAWA:
		return SourceLAWA, true
	case SourceDWR:
		return SourceDWR, true
	}
	return "", false
}

// Status records the outcome of the most recent fetch for a gauge or reading.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Canonical measurement-unit labels. Values are never converted between units;
// only the label vocabulary is standardized so callers can group readings by
// physical quantity regardless of which provider reported them.
const (
	MetricCFS    = "cfs"
	MetricCMS    = "cms"
	MetricFeet   = "ft"
	MetricMeters = "m"
)

// DischargeMetrics and StageMetrics are the candidate label sets for the two
// metric groups the engine understands.
var (
	DischargeMetrics = []string{MetricCFS, MetricCMS}
	StageMetrics     = []string{MetricFeet, MetricMeters}
)

// MetricGroup returns the candidate label set containing the given label, or
// nil when the label belongs to neither group.
func MetricGroup(metric string) []string {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case MetricCFS, MetricCMS:
		return DischargeMetrics
	case MetricFeet, MetricMeters:
		return StageMetrics
	}
	return nil
}

// Gauge is the canonical station record. Rows are created once during seeding
// and afterwards mutated only by the sync coordinator, except for the
// user-controlled favorite and primary flags.
//
// SiteID is the provider-native identifier and is unique only within a Source;
// cross-source collisions are expected and must never be merged.
// TODO: revisit a UNIQUE(source, site_id) constraint before re-seeding is
// allowed more than once per database lifetime.
type Gauge struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:190;not null" json:"name"`
	SiteID    string    `gorm:"column:site_id;size:64;not null;index" json:"siteId"`
	Metric    string    `gorm:"column:metric;size:32;not null" json:"metric"`
	Country   string    `gorm:"column:country;size:64;not null" json:"country"`
	State     string    `gorm:"column:state;size:64;not null" json:"state"`
	Zone      string    `gorm:"column:zone;size:96;not null;default:''" json:"zone"`
	Source    Source    `gorm:"column:source;size:32;not null" json:"source"`
	Favorite  bool      `gorm:"column:favorite;not null;default:false" json:"favorite"`
	Primary   bool      `gorm:"column:primary;not null;default:false" json:"primary"`
	Latitude  float64   `gorm:"column:latitude;not null;index;index:idx_gauges_lat_lon,priority:1" json:"latitude"`
	Longitude float64   `gorm:"column:longitude;not null;index;index:idx_gauges_lat_lon,priority:2" json:"longitude"`
	// UpdatedAt is the refresh watermark, advanced only by CommitRefresh.
	// Auto-update tracking is disabled so flag toggles and status marks
	// cannot move it.
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updatedAt"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	Status    Status    `gorm:"column:status;size:16;not null;default:unknown" json:"status"`
}

// TableName provides the explicit table binding for GORM.
func (Gauge) TableName() string {
	return "gauges"
}

// Reading is one observed value at one instant for one gauge. CreatedAt is the
// observation timestamp as reported by the source, not ingestion time. Rows
// are never mutated and are removed only by cascade when the owning gauge is
// deleted. The (gauge_id, site_id, created_at, metric) unique index is the
// dedup key that makes repeated ingestion idempotent.
type Reading struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SiteID    string    `gorm:"column:site_id;size:64;not null;uniqueIndex:idx_readings_dedupe,priority:2" json:"siteId"`
	Value     float64   `gorm:"column:value;not null" json:"value"`
	Metric    string    `gorm:"column:metric;size:32;not null;uniqueIndex:idx_readings_dedupe,priority:4" json:"metric"`
	GaugeID   int64     `gorm:"column:gauge_id;not null;index;index:idx_readings_gauge_time,priority:1;uniqueIndex:idx_readings_dedupe,priority:1" json:"gaugeId"`
	Gauge     *Gauge    `gorm:"foreignKey:GaugeID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_readings_gauge_time,priority:2;uniqueIndex:idx_readings_dedupe,priority:3" json:"createdAt"`
	Status    Status    `gorm:"column:status;size:16;not null;default:unknown" json:"status"`
}

// TableName provides the explicit table binding for GORM.
func (Reading) TableName() string {
	return "gauge_readings"
}

// StoreMeta persists process-lifetime flags as key-value pairs, such as the
// one-time seeding gate.
type StoreMeta struct {
	Key       string    `gorm:"column:key;primaryKey;size:100;not null"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StoreMeta) TableName() string {
	return "store_meta"
}

// Meta keys used by the store.
const (
	MetaGaugesSeeded = "gauges_seeded"
)

// Box is a latitude/longitude bounding rectangle used for spatial pre-filter
// queries. Exact distance ranking is left to the caller.
type Box struct {
	MinLatitude  float64 `json:"minLatitude"`
	MaxLatitude  float64 `json:"maxLatitude"`
	MinLongitude float64 `json:"minLongitude"`
	MaxLongitude float64 `json:"maxLongitude"`
}

// Contains reports whether the coordinate pair falls inside the box, edges
// inclusive.
func (b Box) Contains(latitude, longitude float64) bool {
	return latitude >= b.MinLatitude && latitude <= b.MaxLatitude &&
		longitude >= b.MinLongitude && longitude <= b.MaxLongitude
}
