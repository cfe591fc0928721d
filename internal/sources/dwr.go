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

const (
	dwrPageSize   = 1000
	dwrTimeLayout = "2006-01-02T15:04:05"
)

// DWRConfig carries the variant configuration for the Colorado Division of
// Water Resources service.
type DWRConfig struct {
	BaseURL string
	HTTP    HTTPClientConfig
	Logger  *zap.Logger
}

// DWRAdapter fetches surface-water stations and telemetry from a DWR-style
// REST endpoint, walking its pageIndex pagination internally.
type DWRAdapter struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewDWRAdapter constructs the DWR variant.
func NewDWRAdapter(cfg DWRConfig) *DWRAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DWRAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpCfg: cfg.HTTP,
		circuit: newBreaker("dwr"),
		logger:  logger,
	}
}

// Source implements Adapter.
func (a *DWRAdapter) Source() gauges.Source {
	return gauges.SourceDWR
}

type dwrStationPage struct {
	PageCount  int `json:"PageCount"`
	ResultList []struct {
		Abbrev      string   `json:"abbrev"`
		StationName string   `json:"stationName"`
		Division    int      `json:"division"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		MeasUnit    string   `json:"measUnit"`
	} `json:"ResultList"`
}

type dwrReadingPage struct {
	PageCount  int `json:"PageCount"`
	ResultList []struct {
		MeasDate string  `json:"measDate"`
		Value    float64 `json:"value"`
		MeasUnit string  `json:"measUnit"`
		FlagA    string  `json:"flagA"`
	} `json:"ResultList"`
}

// FetchMetadata pages through the station catalog and flattens it. The water
// division number becomes the gauge zone.
func (a *DWRAdapter) FetchMetadata(ctx context.Context) ([]RawGauge, error) {
	var result []RawGauge
	for pageIndex := 1; ; pageIndex++ {
		query := url.Values{}
		query.Set("format", "json")
		query.Set("pageSize", fmt.Sprint(dwrPageSize))
		query.Set("pageIndex", fmt.Sprint(pageIndex))

		var page dwrStationPage
		endpoint := fmt.Sprintf("%s/surfacewater/surfacewaterstations?%s", a.baseURL, query.Encode())
		if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &page); err != nil {
			return nil, fmt.Errorf("dwr stations page %d: %w", pageIndex, err)
		}

		for _, station := range page.ResultList {
			if station.Abbrev == "" {
				continue
			}
			unit := station.MeasUnit
			if unit == "" {
				unit = "cfs"
			}
			zone := ""
			if station.Division > 0 {
				zone = fmt.Sprintf("division %d", station.Division)
			}
			result = append(result, RawGauge{
				SiteID:    station.Abbrev,
				Name:      station.StationName,
				Unit:      unit,
				Country:   "US",
				State:     "CO",
				Zone:      zone,
				Latitude:  station.Latitude,
				Longitude: station.Longitude,
				Source:    gauges.SourceDWR,
			})
		}

		if pageIndex >= page.PageCount || len(page.ResultList) == 0 {
			break
		}
	}

	a.logger.Debug("dwr metadata fetched", zap.Int("stations", len(result)))
	return result, nil
}

// FetchReadings loads telemetry values for one station since the watermark.
func (a *DWRAdapter) FetchReadings(ctx context.Context, siteID string, since time.Time) ([]RawReading, error) {
	var readings []RawReading
	for pageIndex := 1; ; pageIndex++ {
		query := url.Values{}
		query.Set("format", "json")
		query.Set("abbrev", siteID)
		query.Set("pageSize", fmt.Sprint(dwrPageSize))
		query.Set("pageIndex", fmt.Sprint(pageIndex))
		if !since.IsZero() {
			query.Set("min-measDate", since.UTC().Format(dwrTimeLayout))
		}

		var page dwrReadingPage
		endpoint := fmt.Sprintf("%s/surfacewater/surfacewatertsday?%s", a.baseURL, query.Encode())
		if err := getJSON(ctx, a.httpCfg, a.circuit, endpoint, &page); err != nil {
			return nil, fmt.Errorf("dwr readings for %s: %w", siteID, err)
		}

		for _, row := range page.ResultList {
			timestamp, err := parseDWRTime(row.MeasDate)
			if err != nil {
				continue
			}
			readings = append(readings, RawReading{
				SiteID:    siteID,
				Value:     row.Value,
				Unit:      row.MeasUnit,
				Timestamp: timestamp,
				Status:    MapDWRFlag(row.FlagA),
				Source:    gauges.SourceDWR,
			})
		}

		if pageIndex >= page.PageCount || len(page.ResultList) == 0 {
			break
		}
	}
	return readings, nil
}

func parseDWRTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(dwrTimeLayout, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// MapDWRFlag translates DWR approval flags into the canonical status
// vocabulary. Approved and provisional values are usable; B marks equipment
// problems.
func MapDWRFlag(flag string) gauges.Status {
	switch strings.TrimSpace(flag) {
	case "A", "P", "":
		return gauges.StatusOK
	case "B", "E":
		return gauges.StatusError
	default:
		return gauges.StatusUnknown
	}
}
