package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// LAWAConfig carries the variant configuration for the New Zealand regional
// service, whose catalog is partitioned by regional council.
type LAWAConfig struct {
	BaseURL string
	Regions []string
	HTTP    HTTPClientConfig
	Logger  *zap.Logger
}

// LAWAAdapter fetches monitored river sites and flow/level observations from
// a LAWA-style regional API.
type LAWAAdapter struct {
	baseURL string
	regions []string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewLAWAAdapter constructs the LAWA variant.
func NewLAWAAdapter(cfg LAWAConfig) *LAWAAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{"auckland", "canterbury", "otago", "waikato", "wellington"}
	}
	return &LAWAAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		regions: regions,
		httpCfg: cfg.HTTP,
		circuit: newBreaker("lawa"),
		logger:  logger,
	}
}

// Source implements Adapter.
func (a *LAWAAdapter) Source() gauges.Source {
	return gauges.SourceLAWA
}

// Partitions implements PartitionedAdapter.
func (a *LAWAAdapter) Partitions() []string {
	return a.regions
}

type lawaSite struct {
	SiteID    string   `json:"siteId"`
	SiteName  string   `json:"siteName"`
	Region    string   `json:"region"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"long"`
	Unit      string   `json:"unit"`
}

type lawaObservation struct {
	SiteID  string  `json:"siteId"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Time    string  `json:"observedAt"`
	Quality string  `json:"qualityCode"`
}

// FetchMetadata flattens every configured region into one site sequence.
func (a *LAWAAdapter) FetchMetadata(ctx context.Context) ([]RawGauge, error) {
	var result []RawGauge
	for _, region := range a.regions {
		sites, err := a.FetchPartition(ctx, region)
		if err != nil {
			return nil, err
		}
		result = append(result, sites...)
	}
	a.logger.Debug("lawa metadata fetched", zap.Int("sites", len(result)))
	return result, nil
}

// FetchPartition loads the monitored sites of one regional council.
func (a *LAWAAdapter) FetchPartition(ctx context.Context, region string) ([]RawGauge, error) {
	query := url.Values{}
	query.Set("region", region)

	var sites []lawaSite
	endpoint := fmt.Sprintf("%s/sites?%s", a.baseURL, query.Encode())
	if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &sites); err != nil {
		return nil, fmt.Errorf("lawa sites for %s: %w", region, err)
	}

	result := make([]RawGauge, 0, len(sites))
	for _, site := range sites {
		if site.SiteID == "" {
			continue
		}
		unit := site.Unit
		if unit == "" {
			unit = "m3/s"
		}
		result = append(result, RawGauge{
			SiteID:    site.SiteID,
			Name:      site.SiteName,
			Unit:      unit,
			Country:   "NZ",
			State:     site.Region,
			Zone:      site.Region,
			Latitude:  site.Latitude,
			Longitude: site.Longitude,
			Source:    gauges.SourceLAWA,
		})
	}
	return result, nil
}

// FetchReadings loads observations for one site since the watermark.
func (a *LAWAAdapter) FetchReadings(ctx context.Context, siteID string, since time.Time) ([]RawReading, error) {
	query := url.Values{}
	query.Set("siteId", siteID)
	if !since.IsZero() {
		query.Set("from", since.UTC().Format(time.RFC3339))
	}

	var observations []lawaObservation
	endpoint := fmt.Sprintf("%s/observations?%s", a.baseURL, query.Encode())
	if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &observations); err != nil {
		return nil, fmt.Errorf("lawa observations for %s: %w", siteID, err)
	}

	var readings []RawReading
	for _, obs := range observations {
		timestamp, err := time.Parse(time.RFC3339, obs.Time)
		if err != nil {
			continue
		}
		readings = append(readings, RawReading{
			SiteID:    siteID,
			Value:     obs.Value,
			Unit:      obs.Unit,
			Timestamp: timestamp.UTC(),
			Status:    MapLAWAQuality(obs.Quality),
			Source:    gauges.SourceLAWA,
		})
	}
	return readings, nil
}

// MapLAWAQuality translates NEMS-style quality codes into the canonical
// status vocabulary. 600-series codes are verified data, 500 is good, 400 is
// fair; 200 marks sensor faults.
func MapLAWAQuality(code string) gauges.Status {
	switch strings.TrimSpace(code) {
	case "600", "500", "400":
		return gauges.StatusOK
	case "200", "100":
		return gauges.StatusError
	case "":
		return gauges.StatusUnknown
	default:
		return gauges.StatusUnknown
	}
}
