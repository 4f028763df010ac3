package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-record-service/internal/cache"
	"github.com/kjstillabower/weather-record-service/internal/models"
	"github.com/kjstillabower/weather-record-service/internal/observability"
	"github.com/kjstillabower/weather-record-service/internal/stats"
	"github.com/kjstillabower/weather-record-service/internal/store"
)

// WeatherService is the business layer over the record store. Temperature
// stats are served cache-aside; any mutation invalidates the stats cache.
type WeatherService struct {
	store     store.Store
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer // nil if disabled

	// generation is bumped on every mutation so a stats request arriving
	// after a local write never joins a computation that began before it.
	generation atomic.Uint64
}

// NewWeatherService creates a WeatherService. ttl is the stats cache
// expiration; coalesceTimeout bounds a shared stats computation and
// disables coalescing when 0.
func NewWeatherService(st store.Store, c cache.Cache, ttl time.Duration, coalesceTimeout time.Duration) *WeatherService {
	if c == nil {
		c = cache.NoopCache{}
	}
	var coalescer *requestCoalescer
	if coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &WeatherService{
		store:     st,
		cache:     c,
		ttl:       ttl,
		coalescer: coalescer,
	}
}

// Create stores rec. A record whose ID already exists yields store.ErrDuplicateKey.
func (s *WeatherService) Create(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error) {
	start := time.Now()
	created, err := s.store.Insert(ctx, rec)
	observeStore("insert", start, err)
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("create record %d: %w", rec.ID, err)
	}
	s.invalidate(ctx)
	observability.LoggerFromContext(ctx).Debug("record created",
		zap.Int64("id", created.ID),
		zap.String("location", created.Location.Name),
		zap.Stringer("dateRecorded", created.DateRecorded),
	)
	return created, nil
}

// EraseAll removes every record.
func (s *WeatherService) EraseAll(ctx context.Context) error {
	start := time.Now()
	err := s.store.DeleteAll(ctx)
	observeStore("delete_all", start, err)
	if err != nil {
		return fmt.Errorf("erase all records: %w", err)
	}
	s.invalidate(ctx)
	return nil
}

// Erase removes records selected by f. An empty filter erases everything.
func (s *WeatherService) Erase(ctx context.Context, f store.Filter) error {
	if f.IsEmpty() {
		return s.EraseAll(ctx)
	}
	start := time.Now()
	err := s.store.DeleteByRangeAndLocation(ctx, f)
	observeStore("delete_filtered", start, err)
	if err != nil {
		return fmt.Errorf("erase records: %w", err)
	}
	s.invalidate(ctx)
	return nil
}

// List returns all records, or those at coords when it is non-nil. A
// coordinate filter with no matches yields store.ErrNotFound.
func (s *WeatherService) List(ctx context.Context, coords *store.Coordinates) ([]models.WeatherRecord, error) {
	start := time.Now()
	if coords == nil {
		records, err := s.store.FindAll(ctx)
		observeStore("find_all", start, err)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		return records, nil
	}
	records, err := s.store.FindByLocation(ctx, coords.Latitude, coords.Longitude)
	observeStore("find_by_location", start, err)
	if err != nil {
		return nil, fmt.Errorf("list records at %g,%g: %w", coords.Latitude, coords.Longitude, err)
	}
	return records, nil
}

// TemperatureStats aggregates temperatures of records dated within r,
// one result per distinct location.
func (s *WeatherService) TemperatureStats(ctx context.Context, r store.DateRange) ([]models.WeatherStatsResult, error) {
	logger := observability.LoggerFromContext(ctx)
	key := statsKey(r)

	localGen := s.generation.Load()

	// The cache generation is read before the store so an entry written
	// under it never predates a mutation that has already invalidated it.
	cacheGen, err := s.cache.Generation(ctx)
	cacheable := err == nil
	if err != nil {
		observability.StatsCacheErrorsTotal.WithLabelValues("generation").Inc()
		logger.Warn("stats cache generation failed", zap.String("key", key), zap.Error(err))
	} else {
		cached, ok, err := s.cache.Get(ctx, cacheGen, key)
		if err != nil {
			observability.StatsCacheErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("stats cache get failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			observability.StatsCacheLookupsTotal.WithLabelValues("hit").Inc()
			logger.Debug("stats cache hit", zap.String("key", key))
			recordResultKinds(cached)
			return cached, nil
		}
	}
	observability.StatsCacheLookupsTotal.WithLabelValues("miss").Inc()

	compute := func(ctx context.Context) ([]models.WeatherStatsResult, error) {
		start := time.Now()
		records, err := s.store.FindByDateRange(ctx, r.Start, r.End)
		observeStore("find_by_date_range", start, err)
		if err != nil {
			return nil, err
		}
		return stats.ComputeStats(records), nil
	}

	var results []models.WeatherStatsResult
	if s.coalescer != nil {
		var shared bool
		results, shared, err = s.coalescer.Do(ctx, coalesceKey(localGen, cacheGen, cacheable, key), compute)
		if shared && err == nil {
			observability.StatsRequestsCoalescedTotal.Inc()
		}
	} else {
		results, err = compute(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("temperature stats %s: %w", key, err)
	}

	if cacheable {
		if err := s.cache.Set(ctx, cacheGen, key, results, s.ttl); err != nil {
			observability.StatsCacheErrorsTotal.WithLabelValues("set").Inc()
			logger.Warn("stats cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	recordResultKinds(results)
	logger.Debug("temperature stats computed", zap.String("key", key), zap.Int("locations", len(results)))
	return results, nil
}

// coalesceKey groups identical stats requests that observed the same local
// and cache generations. Requests without a cache generation only share with
// each other.
func coalesceKey(localGen, cacheGen uint64, cacheable bool, key string) string {
	if !cacheable {
		return fmt.Sprintf("%d:-:%s", localGen, key)
	}
	return fmt.Sprintf("%d:%d:%s", localGen, cacheGen, key)
}

func (s *WeatherService) invalidate(ctx context.Context) {
	s.generation.Add(1)
	if err := s.cache.Invalidate(ctx); err != nil {
		observability.StatsCacheErrorsTotal.WithLabelValues("invalidate").Inc()
		observability.LoggerFromContext(ctx).Warn("stats cache invalidate failed", zap.Error(err))
	}
}

func statsKey(r store.DateRange) string {
	return r.Start.String() + "|" + r.End.String()
}

func recordResultKinds(results []models.WeatherStatsResult) {
	for _, res := range results {
		if res.IsNoData() {
			observability.TemperatureResultsTotal.WithLabelValues("no_data").Inc()
		} else {
			observability.TemperatureResultsTotal.WithLabelValues("stats").Inc()
		}
	}
}

func observeStore(op string, start time.Time, err error) {
	observability.ObserveStoreOperation(op, storeStatus(err), time.Since(start))
}

// storeStatus maps a store error to its metric label.
func storeStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, store.ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
