// Package syncer contains the sync coordinator, the only component that
// drives both the write path (adapters → normalizer → store) and the per-gauge
// refresh lifecycle. Seeding runs at most once per database lifetime behind a
// persisted flag; refreshes are deduplicated so at most one fetch per gauge is
// ever in flight.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/flowmark/flowmark/internal/normalize"
	"github.com/flowmark/flowmark/internal/observability"
	"github.com/flowmark/flowmark/internal/sources"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	errMissingStore    = errors.New("gauge store is required")
	errMissingAdapters = errors.New("at least one source adapter is required")
)

const (
	opCoordinatorNew = "syncer.coordinator.new"
	opSeed           = "syncer.seed"
	opRefresh        = "syncer.refresh"

	defaultSeedConcurrency    = 4
	defaultRefreshConcurrency = 8
)

// ServiceError wraps coordinator failures with a stable operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config carries the dependencies for a Coordinator.
type Config struct {
	Store    *gauges.Store
	Adapters []sources.Adapter
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	// SeedConcurrency bounds concurrent metadata fetches during seeding.
	SeedConcurrency int
	// RefreshConcurrency bounds concurrent gauge refreshes in bulk cycles.
	RefreshConcurrency int
}

// SeedResult summarizes a completed seed run.
type SeedResult struct {
	RunID   string `json:"runId"`
	Seeded  int    `json:"seeded"`
	Dropped int    `json:"dropped"`
}

// RefreshResult summarizes a completed per-gauge refresh.
type RefreshResult struct {
	GaugeID  int64 `json:"gaugeId"`
	Inserted int   `json:"inserted"`
	Ignored  int   `json:"ignored"`
	Dropped  int   `json:"dropped"`
}

type refreshCall struct {
	done   chan struct{}
	result RefreshResult
	err    error
}

// Coordinator orchestrates one-time seeding and per-gauge reading refresh.
type Coordinator struct {
	store    *gauges.Store
	adapters map[gauges.Source]sources.Adapter
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *observability.Metrics

	seedConcurrency    int
	refreshConcurrency int

	mu       sync.Mutex
	inflight map[int64]*refreshCall
}

// NewCoordinator validates the configuration and returns a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opCoordinatorNew, "missing_store", errMissingStore)
	}
	if len(cfg.Adapters) == 0 {
		return nil, newServiceError(opCoordinatorNew, "missing_adapters", errMissingAdapters)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	adapters := make(map[gauges.Source]sources.Adapter, len(cfg.Adapters))
	for _, adapter := range cfg.Adapters {
		adapters[adapter.Source()] = adapter
	}

	seedConcurrency := cfg.SeedConcurrency
	if seedConcurrency <= 0 {
		seedConcurrency = defaultSeedConcurrency
	}
	refreshConcurrency := cfg.RefreshConcurrency
	if refreshConcurrency <= 0 {
		refreshConcurrency = defaultRefreshConcurrency
	}

	return &Coordinator{
		store:              cfg.Store,
		adapters:           adapters,
		clock:              clock,
		logger:             logger,
		metrics:            metrics,
		seedConcurrency:    seedConcurrency,
		refreshConcurrency: refreshConcurrency,
		inflight:           make(map[int64]*refreshCall),
	}, nil
}

// Seeded reports whether the one-time seed has completed.
func (c *Coordinator) Seeded(ctx context.Context) (bool, error) {
	return c.store.Seeded(ctx)
}

// Seed fetches metadata from every adapter, normalizes it, and bulk-inserts
// the result in one transaction, flipping the persisted seeded flag. Seeding
// is all-or-nothing: if any adapter fails, nothing is written and the flag
// stays unset so the next launch retries from scratch.
func (c *Coordinator) Seed(ctx context.Context) (SeedResult, error) {
	seeded, err := c.store.Seeded(ctx)
	if err != nil {
		return SeedResult{}, newServiceError(opSeed, "check_flag", err)
	}
	if seeded {
		return SeedResult{}, gauges.ErrAlreadySeeded
	}

	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID))
	logger.Info("seeding gauge metadata", zap.Int("adapters", len(c.adapters)))

	raw, err := c.fetchAllMetadata(ctx)
	if err != nil {
		logger.Error("seed aborted", zap.Error(err))
		return SeedResult{}, newServiceError(opSeed, "fetch_metadata", err)
	}

	records, dropped := normalize.Gauges(raw)
	if dropped > 0 {
		c.metrics.MalformedDropped.Add(float64(dropped))
		logger.Warn("malformed gauge records dropped", zap.Int("dropped", dropped))
	}

	now := c.clock.Now().UTC()
	for i := range records {
		records[i].CreatedAt = now
	}

	seededCount, err := c.store.Seed(ctx, records)
	if err != nil {
		return SeedResult{}, newServiceError(opSeed, "persist", err)
	}

	c.metrics.GaugesSeeded.Set(float64(seededCount))
	logger.Info("seed complete", zap.Int("gauges", seededCount), zap.Int("dropped", dropped))
	return SeedResult{RunID: runID, Seeded: seededCount, Dropped: dropped}, nil
}

// fetchAllMetadata runs every adapter's catalog fetch concurrently, bounded
// by the seed concurrency limit. The first failure fails the whole batch.
func (c *Coordinator) fetchAllMetadata(ctx context.Context) ([]sources.RawGauge, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		all      []sources.RawGauge
		firstErr error
	)
	semaphore := make(chan struct{}, c.seedConcurrency)

	for _, adapter := range c.adapters {
		adapter := adapter
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			raw, err := adapter.FetchMetadata(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.metrics.FetchFailures.WithLabelValues(string(adapter.Source())).Inc()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", adapter.Source(), err)
				}
				return
			}
			all = append(all, raw...)
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// Refresh fetches new readings for one gauge since its last refresh and
// commits them idempotently. A second caller for the same gauge while a fetch
// is outstanding joins the existing call instead of issuing a duplicate
// network request.
func (c *Coordinator) Refresh(ctx context.Context, gaugeID int64) (RefreshResult, error) {
	c.mu.Lock()
	if call, ok := c.inflight[gaugeID]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return RefreshResult{}, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight[gaugeID] = call
	c.mu.Unlock()

	call.result, call.err = c.refresh(ctx, gaugeID)

	c.mu.Lock()
	delete(c.inflight, gaugeID)
	c.mu.Unlock()
	close(call.done)

	return call.result, call.err
}

func (c *Coordinator) refresh(ctx context.Context, gaugeID int64) (RefreshResult, error) {
	started := c.clock.Now()
	defer func() {
		c.metrics.RefreshDuration.Observe(c.clock.Since(started).Seconds())
	}()

	gauge, err := c.store.GaugeByID(ctx, gaugeID)
	if err != nil {
		return RefreshResult{}, newServiceError(opRefresh, "load_gauge", err)
	}

	adapter, ok := c.adapters[gauge.Source]
	if !ok {
		return RefreshResult{}, newServiceError(opRefresh, "unknown_source",
			fmt.Errorf("no adapter for source %q", gauge.Source))
	}

	raw, err := adapter.FetchReadings(ctx, gauge.SiteID, gauge.UpdatedAt)
	if err != nil {
		c.metrics.FetchFailures.WithLabelValues(string(gauge.Source)).Inc()
		// Cancellation is not a provider failure; a cancelled refresh
		// commits nothing and leaves the gauge status untouched.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			if markErr := c.store.MarkRefreshFailed(context.WithoutCancel(ctx), gaugeID); markErr != nil {
				c.logger.Warn("failed to mark gauge status",
					zap.Int64("gauge_id", gaugeID), zap.Error(markErr))
			}
		}
		return RefreshResult{}, newServiceError(opRefresh, "fetch_readings", err)
	}

	readings, dropped := normalize.Readings(raw)
	if dropped > 0 {
		c.metrics.MalformedDropped.Add(float64(dropped))
	}
	for i := range readings {
		readings[i].GaugeID = gaugeID
	}

	result, err := c.store.CommitRefresh(ctx, gaugeID, readings, c.clock.Now().UTC())
	if err != nil {
		return RefreshResult{}, newServiceError(opRefresh, "persist", err)
	}

	c.metrics.ReadingsInserted.Add(float64(result.Inserted))
	c.metrics.DuplicatesIgnored.Add(float64(result.Ignored))
	c.logger.Debug("gauge refreshed",
		zap.Int64("gauge_id", gaugeID),
		zap.Int("inserted", result.Inserted),
		zap.Int("ignored", result.Ignored),
		zap.Int("dropped", dropped))

	return RefreshResult{
		GaugeID:  gaugeID,
		Inserted: result.Inserted,
		Ignored:  result.Ignored,
		Dropped:  dropped,
	}, nil
}

// RefreshFavorites refreshes every favorite gauge, bounded by the refresh
// concurrency limit. Individual failures are logged and counted; they never
// abort the cycle or touch other gauges.
func (c *Coordinator) RefreshFavorites(ctx context.Context) (int, error) {
	favorites, err := c.store.Query(ctx, gauges.Filter{FavoritesOnly: true})
	if err != nil {
		return 0, newServiceError(opRefresh, "load_favorites", err)
	}

	var (
		wg        sync.WaitGroup
		failed    int
		mu        sync.Mutex
		semaphore = make(chan struct{}, c.refreshConcurrency)
	)
	for _, favorite := range favorites {
		favorite := favorite
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if _, err := c.Refresh(ctx, favorite.ID); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				c.logger.Warn("favorite refresh failed",
					zap.Int64("gauge_id", favorite.ID), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	if failed > 0 {
		return failed, nil
	}
	return 0, nil
}
