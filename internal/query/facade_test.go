package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmark/flowmark/internal/analytics"
	"github.com/flowmark/flowmark/internal/database"
	"github.com/flowmark/flowmark/internal/forecast"
	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/jonboulle/clockwork"
)

type fakeForecaster struct {
	payload forecast.Payload
	err     error

	lastRequest forecast.Request
}

func (f *fakeForecaster) Forecast(ctx context.Context, request forecast.Request) (forecast.Payload, error) {
	f.lastRequest = request
	if f.err != nil {
		return forecast.Payload{}, f.err
	}
	return f.payload, nil
}

func newTestFacade(t *testing.T, clock clockwork.Clock, forecaster Forecaster) (*Facade, *gauges.Store) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "facade.db"), false, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	store, err := gauges.NewStore(gauges.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	facade, err := NewFacade(FacadeConfig{Store: store, Forecaster: forecaster, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct facade: %v", err)
	}
	return facade, store
}

func seedPair(t *testing.T, store *gauges.Store) (usgsID, lawaID int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Seed(ctx, []gauges.Gauge{
		{Name: "Potomac River", SiteID: "01646500", Metric: gauges.MetricCFS, State: "MD", Source: gauges.SourceUSGS, Latitude: 38.95, Longitude: -77.13},
		{Name: "Waimakariri", SiteID: "SQ30323", Metric: gauges.MetricCMS, State: "canterbury", Source: gauges.SourceLAWA, Latitude: -43.38, Longitude: 172.65},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	stored, err := store.Query(ctx, gauges.Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	for _, gauge := range stored {
		switch gauge.Source {
		case gauges.SourceUSGS:
			usgsID = gauge.ID
		case gauges.SourceLAWA:
			lawaID = gauge.ID
		}
	}
	return usgsID, lawaID
}

func TestFavoritesDecoratesStaleness(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)
	facade, store := newTestFacade(t, clock, nil)
	usgsID, _ := seedPair(t, store)

	ctx := context.Background()
	if err := store.SetFavorite(ctx, usgsID, true); err != nil {
		t.Fatalf("set favorite failed: %v", err)
	}
	if _, err := store.CommitRefresh(ctx, usgsID, nil, t0); err != nil {
		t.Fatalf("commit refresh failed: %v", err)
	}

	views, err := facade.Favorites(ctx)
	if err != nil {
		t.Fatalf("favorites failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 favorite, got %d", len(views))
	}
	if views[0].Stale {
		t.Fatalf("freshly refreshed favorite must not be stale")
	}

	clock.Advance(31 * time.Minute)
	views, err = facade.Favorites(ctx)
	if err != nil {
		t.Fatalf("favorites failed: %v", err)
	}
	if !views[0].Stale {
		t.Fatalf("favorite must be stale 31 minutes after refresh")
	}
}

func TestTrendUsesGaugeMetricGroup(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)
	facade, store := newTestFacade(t, clock, nil)
	usgsID, _ := seedPair(t, store)

	ctx := context.Background()
	readings := []gauges.Reading{
		{GaugeID: usgsID, SiteID: "01646500", Metric: gauges.MetricCFS, Value: 100, CreatedAt: t0.Add(-3 * time.Hour), Status: gauges.StatusOK},
		{GaugeID: usgsID, SiteID: "01646500", Metric: gauges.MetricCFS, Value: 200, CreatedAt: t0.Add(-1 * time.Hour), Status: gauges.StatusOK},
		// Stage reading must not leak into the discharge trend.
		{GaugeID: usgsID, SiteID: "01646500", Metric: gauges.MetricFeet, Value: 1, CreatedAt: t0.Add(-2 * time.Hour), Status: gauges.StatusOK},
	}
	if _, err := store.InsertReadingsIgnoringDuplicates(ctx, readings); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	trend, err := facade.Trend(ctx, usgsID)
	if err != nil {
		t.Fatalf("trend failed: %v", err)
	}
	if trend.Direction != analytics.DirectionRising {
		t.Fatalf("expected rising, got %s", trend.Direction)
	}
}

func TestForecastOnlyForUSGS(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	forecaster := &fakeForecaster{payload: forecast.Payload{SiteID: "01646500", Body: []byte(`{"flows":[]}`)}}
	facade, store := newTestFacade(t, clockwork.NewFakeClockAt(t0), forecaster)
	usgsID, lawaID := seedPair(t, store)

	ctx := context.Background()
	start := t0
	end := t0.Add(72 * time.Hour)

	payload, err := facade.Forecast(ctx, usgsID, start, end)
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	if payload.SiteID != "01646500" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if forecaster.lastRequest.SiteID != "01646500" {
		t.Fatalf("expected site id pass-through, got %q", forecaster.lastRequest.SiteID)
	}
	if forecaster.lastRequest.ReadingParameter != gauges.MetricCFS {
		t.Fatalf("expected metric pass-through, got %q", forecaster.lastRequest.ReadingParameter)
	}

	if _, err := facade.Forecast(ctx, lawaID, start, end); !errors.Is(err, forecast.ErrForecastUnavailable) {
		t.Fatalf("non-usgs gauge must surface forecast unavailable, got %v", err)
	}
}

func TestReadingsForUnknownGauge(t *testing.T) {
	facade, _ := newTestFacade(t, clockwork.NewRealClock(), nil)
	if _, err := facade.Readings(context.Background(), 42, 10); !errors.Is(err, gauges.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
