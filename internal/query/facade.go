// Package query is the single read surface external collaborators consume.
// It composes the store, the analytics computations, and the forecast
// pass-through; it never writes.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowmark/flowmark/internal/analytics"
	"github.com/flowmark/flowmark/internal/forecast"
	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// trendWindow is how far back the trend classification looks.
const trendWindow = 24 * time.Hour

// trendSampleLimit caps how many recent readings feed trend classification.
const trendSampleLimit = 200

var errMissingStore = errors.New("gauge store is required")

// Forecaster is the forecast-provider contract the facade delegates to.
type Forecaster interface {
	Forecast(ctx context.Context, request forecast.Request) (forecast.Payload, error)
}

// GaugeView decorates a stored gauge with derived read-model fields.
type GaugeView struct {
	gauges.Gauge
	Stale bool `json:"stale"`
}

// TrendView reports the classified direction for a gauge's metric group.
type TrendView struct {
	GaugeID   int64               `json:"gaugeId"`
	Metric    string              `json:"metric"`
	Direction analytics.Direction `json:"direction"`
}

// FacadeConfig carries the dependencies for a Facade.
type FacadeConfig struct {
	Store      *gauges.Store
	Forecaster Forecaster
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Facade is the query surface consumed by the UI, assistant glue, and
// forecast callers.
type Facade struct {
	store      *gauges.Store
	forecaster Forecaster
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewFacade validates the configuration and returns a Facade.
func NewFacade(cfg FacadeConfig) (*Facade, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		store:      cfg.Store,
		forecaster: cfg.Forecaster,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Favorites lists the user's favorite gauges with staleness computed at call
// time.
func (f *Facade) Favorites(ctx context.Context) ([]GaugeView, error) {
	found, err := f.store.Query(ctx, gauges.Filter{FavoritesOnly: true})
	if err != nil {
		return nil, err
	}
	return f.decorate(found), nil
}

// SearchByName matches gauges by free-text name or state.
func (f *Facade) SearchByName(ctx context.Context, text string) ([]GaugeView, error) {
	found, err := f.store.Query(ctx, gauges.Filter{Text: text})
	if err != nil {
		return nil, err
	}
	return f.decorate(found), nil
}

// SearchByRegion returns gauges inside the bounding box. This is the cheap
// rectangular pre-filter; exact distance ranking belongs to the caller.
func (f *Facade) SearchByRegion(ctx context.Context, box gauges.Box) ([]GaugeView, error) {
	found, err := f.store.Query(ctx, gauges.Filter{Box: &box})
	if err != nil {
		return nil, err
	}
	return f.decorate(found), nil
}

// Readings lists the most recent readings for a gauge, newest first.
func (f *Facade) Readings(ctx context.Context, gaugeID int64, limit int) ([]gauges.Reading, error) {
	if _, err := f.store.GaugeByID(ctx, gaugeID); err != nil {
		return nil, err
	}
	return f.store.ReadingsForGauge(ctx, gaugeID, limit)
}

// Trend classifies the direction of a gauge's recent readings within its
// metric group.
func (f *Facade) Trend(ctx context.Context, gaugeID int64) (TrendView, error) {
	gauge, err := f.store.GaugeByID(ctx, gaugeID)
	if err != nil {
		return TrendView{}, err
	}

	readings, err := f.store.ReadingsForGauge(ctx, gaugeID, trendSampleLimit)
	if err != nil {
		return TrendView{}, err
	}

	candidates := gauges.MetricGroup(gauge.Metric)
	if candidates == nil {
		candidates = []string{gauge.Metric}
	}

	direction := analytics.Trend(readings, candidates, trendWindow, f.clock.Now().UTC())
	return TrendView{GaugeID: gaugeID, Metric: gauge.Metric, Direction: direction}, nil
}

// Forecast delegates to the external provider, passing the gauge's site id
// and date range through. Only USGS gauges are forecastable; everything else
// surfaces as not available rather than an error path.
func (f *Facade) Forecast(ctx context.Context, gaugeID int64, start, end time.Time) (forecast.Payload, error) {
	gauge, err := f.store.GaugeByID(ctx, gaugeID)
	if err != nil {
		return forecast.Payload{}, err
	}
	if gauge.Source != gauges.SourceUSGS {
		return forecast.Payload{}, fmt.Errorf("%w: source %s", forecast.ErrForecastUnavailable, gauge.Source)
	}
	if f.forecaster == nil {
		return forecast.Payload{}, fmt.Errorf("%w: no provider configured", forecast.ErrForecastUnavailable)
	}

	return f.forecaster.Forecast(ctx, forecast.Request{
		SiteID:           gauge.SiteID,
		ReadingParameter: gauge.Metric,
		StartDate:        start,
		EndDate:          end,
	})
}

func (f *Facade) decorate(found []gauges.Gauge) []GaugeView {
	now := f.clock.Now().UTC()
	views := make([]GaugeView, 0, len(found))
	for _, gauge := range found {
		views = append(views, GaugeView{Gauge: gauge, Stale: analytics.IsStale(gauge, now)})
	}
	return views
}
