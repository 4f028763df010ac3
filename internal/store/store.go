// Package store persists weather records. Backends: in-memory, SQLite and
// PostgreSQL, all satisfying Store.
package store

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

var (
	// ErrDuplicateKey is returned by Insert when a record with the same ID exists.
	ErrDuplicateKey = errors.New("weather record already exists")

	// ErrNotFound is returned by FindByLocation when nothing matches.
	ErrNotFound = errors.New("no weather records for location")

	// ErrUnavailable is returned when the backend is guarded and its circuit is open.
	ErrUnavailable = errors.New("record store unavailable")
)

// Store holds weather records. Find results are ordered by ID ascending.
type Store interface {
	Insert(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error)
	DeleteAll(ctx context.Context) error
	DeleteByRangeAndLocation(ctx context.Context, f Filter) error
	FindAll(ctx context.Context) ([]models.WeatherRecord, error)
	FindByLocation(ctx context.Context, lat, lon float64) ([]models.WeatherRecord, error)
	FindByDateRange(ctx context.Context, start, end models.Date) ([]models.WeatherRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Migrator is implemented by backends with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// DateRange is inclusive on both ends.
type DateRange struct {
	Start models.Date
	End   models.Date
}

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Filter selects records for deletion. Nil fields are not applied; when both
// are set a record must satisfy both. An empty Filter matches every record.
type Filter struct {
	Range  *DateRange
	Coords *Coordinates
}

func (f Filter) IsEmpty() bool {
	return f.Range == nil && f.Coords == nil
}

// Matches reports whether rec is selected by f.
func (f Filter) Matches(rec models.WeatherRecord) bool {
	if f.Range != nil && !rec.DateRecorded.Within(f.Range.Start, f.Range.End) {
		return false
	}
	if f.Coords != nil && (rec.Location.Latitude != f.Coords.Latitude || rec.Location.Longitude != f.Coords.Longitude) {
		return false
	}
	return true
}

// isDomainError reports errors that describe the request rather than backend health.
func isDomainError(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound)
}
