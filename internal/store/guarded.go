package store

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-record-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-record-service/internal/models"
)

// GuardedStore routes every call through a circuit breaker so a failing
// database is answered with ErrUnavailable instead of piling up timeouts.
// Duplicate and not-found results never trip the breaker.
type GuardedStore struct {
	inner Store
	cb    *circuitbreaker.CircuitBreaker
}

// NewGuardedStore wraps inner. cb should be built with IsExcluded set to
// IsBreakerNeutral (Open does this).
func NewGuardedStore(inner Store, cb *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{inner: inner, cb: cb}
}

// IsBreakerNeutral reports errors that must not count as backend failures.
func IsBreakerNeutral(err error) bool {
	return isDomainError(err)
}

// State exposes the breaker state for health checks.
func (g *GuardedStore) State() circuitbreaker.State {
	return g.cb.State()
}

func (g *GuardedStore) call(ctx context.Context, fn func() error) error {
	err := g.cb.Call(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrUnavailable
	}
	return err
}

func (g *GuardedStore) Insert(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error) {
	var out models.WeatherRecord
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.Insert(ctx, rec)
		return err
	})
	return out, err
}

func (g *GuardedStore) DeleteAll(ctx context.Context) error {
	return g.call(ctx, func() error { return g.inner.DeleteAll(ctx) })
}

func (g *GuardedStore) DeleteByRangeAndLocation(ctx context.Context, f Filter) error {
	return g.call(ctx, func() error { return g.inner.DeleteByRangeAndLocation(ctx, f) })
}

func (g *GuardedStore) FindAll(ctx context.Context) ([]models.WeatherRecord, error) {
	var out []models.WeatherRecord
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.FindAll(ctx)
		return err
	})
	return out, err
}

func (g *GuardedStore) FindByLocation(ctx context.Context, lat, lon float64) ([]models.WeatherRecord, error) {
	var out []models.WeatherRecord
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.FindByLocation(ctx, lat, lon)
		return err
	})
	return out, err
}

func (g *GuardedStore) FindByDateRange(ctx context.Context, start, end models.Date) ([]models.WeatherRecord, error) {
	var out []models.WeatherRecord
	err := g.call(ctx, func() error {
		var err error
		out, err = g.inner.FindByDateRange(ctx, start, end)
		return err
	})
	return out, err
}

// Ping bypasses the breaker so health checks observe the real backend.
func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.inner.Ping(ctx)
}

func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

// Migrate forwards to the wrapped store when it has a schema.
func (g *GuardedStore) Migrate(ctx context.Context) error {
	if m, ok := g.inner.(Migrator); ok {
		return m.Migrate(ctx)
	}
	return nil
}
