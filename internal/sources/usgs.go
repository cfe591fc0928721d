package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const usgsTimeLayout = "2006-01-02T15:04:05.000-07:00"

// USGSConfig carries the variant configuration for the federal USGS service.
// The catalog is fetched per state code but exposed as one flat sequence;
// USGS has no sub-region concept, so Zone is always empty.
type USGSConfig struct {
	BaseURL    string
	StateCodes []string
	HTTP       HTTPClientConfig
	Logger     *zap.Logger
}

// USGSAdapter fetches station metadata and instantaneous values from a
// USGS-style water services endpoint.
type USGSAdapter struct {
	baseURL    string
	stateCodes []string
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewUSGSAdapter constructs the USGS variant.
func NewUSGSAdapter(cfg USGSConfig) *USGSAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	states := cfg.StateCodes
	if len(states) == 0 {
		states = []string{"co", "wa", "or", "ca", "id", "mt", "ut", "wy", "nm", "az"}
	}
	return &USGSAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		stateCodes: states,
		httpCfg:    cfg.HTTP,
		circuit:    newBreaker("usgs"),
		logger:     logger,
	}
}

// Source implements Adapter.
func (a *USGSAdapter) Source() gauges.Source {
	return gauges.SourceUSGS
}

// usgsResponse mirrors the WaterML-JSON layout shared by the site and
// instantaneous-value queries.
type usgsResponse struct {
	Value struct {
		TimeSeries []usgsTimeSeries `json:"timeSeries"`
	} `json:"value"`
}

type usgsTimeSeries struct {
	SourceInfo struct {
		SiteName string `json:"siteName"`
		SiteCode []struct {
			Value string `json:"value"`
		} `json:"siteCode"`
		GeoLocation struct {
			GeogLocation struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"geogLocation"`
		} `json:"geoLocation"`
	} `json:"sourceInfo"`
	Variable struct {
		Unit struct {
			UnitCode string `json:"unitCode"`
		} `json:"unit"`
	} `json:"variable"`
	Values []struct {
		Value []struct {
			Value      string   `json:"value"`
			Qualifiers []string `json:"qualifiers"`
			DateTime   string   `json:"dateTime"`
		} `json:"value"`
	} `json:"values"`
}

// FetchMetadata walks the configured state codes and flattens the catalog.
func (a *USGSAdapter) FetchMetadata(ctx context.Context) ([]RawGauge, error) {
	var result []RawGauge
	seen := make(map[string]bool)

	for _, state := range a.stateCodes {
		query := url.Values{}
		query.Set("format", "json")
		query.Set("stateCd", state)
		query.Set("parameterCd", "00060,00065")
		query.Set("siteStatus", "active")

		var payload usgsResponse
		endpoint := fmt.Sprintf("%s/nwis/iv/?%s", a.baseURL, query.Encode())
		if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &payload); err != nil {
			return nil, fmt.Errorf("usgs metadata for %s: %w", state, err)
		}

		for _, series := range payload.Value.TimeSeries {
			if len(series.SourceInfo.SiteCode) == 0 {
				continue
			}
			siteID := series.SourceInfo.SiteCode[0].Value
			if siteID == "" || seen[siteID] {
				continue
			}
			seen[siteID] = true

			lat := series.SourceInfo.GeoLocation.GeogLocation.Latitude
			lon := series.SourceInfo.GeoLocation.GeogLocation.Longitude
			result = append(result, RawGauge{
				SiteID:    siteID,
				Name:      series.SourceInfo.SiteName,
				Unit:      series.Variable.Unit.UnitCode,
				Country:   "US",
				State:     strings.ToUpper(state),
				Latitude:  &lat,
				Longitude: &lon,
				Source:    gauges.SourceUSGS,
			})
		}
	}

	a.logger.Debug("usgs metadata fetched", zap.Int("stations", len(result)))
	return result, nil
}

// FetchReadings loads instantaneous values for one station since the
// watermark. Sentinel no-data values are skipped.
func (a *USGSAdapter) FetchReadings(ctx context.Context, siteID string, since time.Time) ([]RawReading, error) {
	query := url.Values{}
	query.Set("format", "json")
	query.Set("sites", siteID)
	query.Set("parameterCd", "00060,00065")
	if !since.IsZero() {
		query.Set("startDT", since.UTC().Format(time.RFC3339))
	}

	var payload usgsResponse
	endpoint := fmt.Sprintf("%s/nwis/iv/?%s", a.baseURL, query.Encode())
	if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("usgs readings for %s: %w", siteID, err)
	}

	var readings []RawReading
	for _, series := range payload.Value.TimeSeries {
		unit := series.Variable.Unit.UnitCode
		for _, block := range series.Values {
			for _, point := range block.Value {
				if point.Value == "" || point.Value == "-999999" {
					continue
				}
				value, err := strconv.ParseFloat(point.Value, 64)
				if err != nil {
					continue
				}
				timestamp, err := parseUSGSTime(point.DateTime)
				if err != nil {
					continue
				}
				quality := ""
				if len(point.Qualifiers) > 0 {
					quality = point.Qualifiers[0]
				}
				readings = append(readings, RawReading{
					SiteID:    siteID,
					Value:     value,
					Unit:      unit,
					Timestamp: timestamp,
					Status:    MapUSGSQuality(quality),
					Source:    gauges.SourceUSGS,
				})
			}
		}
	}
	return readings, nil
}

func parseUSGSTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(usgsTimeLayout, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// MapUSGSQuality translates NWIS qualifier codes into the canonical status
// vocabulary. Approved, provisional, and estimated values are all usable.
func MapUSGSQuality(code string) gauges.Status {
	switch strings.TrimSpace(code) {
	case "A", "P", "e", "E":
		return gauges.StatusOK
	case "Eqp", "Mnt", "Dis", "Ice", "***":
		return gauges.StatusError
	default:
		return gauges.StatusUnknown
	}
}
