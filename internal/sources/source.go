// Package sources contains the provider adapters that fetch raw gauge
// metadata and readings from the upstream hydrological services. Each adapter
// hides its provider's pagination and region partitioning behind a single
// flat-sequence contract and performs network I/O only; persistence is the
// sync coordinator's job.
package sources

import (
	"context"
	"errors"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
)

var (
	// ErrSourceUnavailable marks a network or provider outage. Callers may
	// retry; the coordinator surfaces it without retrying automatically.
	ErrSourceUnavailable = errors.New("sources: provider unavailable")
	// ErrMalformedRecord marks structurally bad provider data. Such records
	// are dropped and counted, never fatal to a batch.
	ErrMalformedRecord = errors.New("sources: malformed record")
)

// RawGauge is a provider record for one station before normalization.
// Coordinates are pointers so the normalizer can distinguish an absent pair
// from a genuine 0,0 and reject the former.
type RawGauge struct {
	SiteID    string
	Name      string
	Unit      string
	Country   string
	State     string
	Zone      string
	Latitude  *float64
	Longitude *float64
	Source    gauges.Source
}

// RawReading is one provider observation before normalization. Status is the
// provider's quality code already mapped into the canonical vocabulary; that
// mapping is an adapter responsibility because the codes are provider-native.
type RawReading struct {
	SiteID    string
	Value     float64
	Unit      string
	Timestamp time.Time
	Status    gauges.Status
	Source    gauges.Source
}

// Adapter is the capability contract every provider variant satisfies.
// Provider-specific configuration (province codes, region lists, base URLs)
// lives on the variant's struct, not in a type hierarchy.
type Adapter interface {
	// Source tags which provider this adapter serves.
	Source() gauges.Source
	// FetchMetadata loads every station the provider exposes as one flat
	// sequence, walking all partitions and pages internally.
	FetchMetadata(ctx context.Context) ([]RawGauge, error)
	// FetchReadings loads observations for one station since the watermark.
	FetchReadings(ctx context.Context, siteID string, since time.Time) ([]RawReading, error)
}

// PartitionedAdapter is implemented by providers whose station catalog is
// split into sub-regions (Environment Canada provinces, LAWA regions) and
// exposes a per-partition entry point alongside the flat sequence.
type PartitionedAdapter interface {
	Adapter
	// Partitions lists the provider's sub-region identifiers.
	Partitions() []string
	// FetchPartition loads the stations of a single sub-region.
	FetchPartition(ctx context.Context, partition string) ([]RawGauge, error)
}
