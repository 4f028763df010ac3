package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS weather_records (
	id            BIGINT PRIMARY KEY,
	date_recorded DATE             NOT NULL,
	name          TEXT             NOT NULL,
	region        TEXT             NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	temperature   TEXT             NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_records_date ON weather_records(date_recorded);
CREATE INDEX IF NOT EXISTS idx_weather_records_coords ON weather_records(latitude, longitude);`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection. maxConns <= 0 keeps the pgxpool default.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the table and indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO weather_records(id, date_recorded, name, region, latitude, longitude, temperature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.DateRecorded.Time(), rec.Location.Name, rec.Location.Region,
		rec.Location.Latitude, rec.Location.Longitude, rec.Temperature)
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("insert record %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.WeatherRecord{}, ErrDuplicateKey
	}
	return rec, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM weather_records`); err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByRangeAndLocation(ctx context.Context, f Filter) error {
	where, args := whereClause(f, dollar, postgresDateArgs)
	if _, err := s.pool.Exec(ctx, `DELETE FROM weather_records`+where, args...); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]models.WeatherRecord, error) {
	return s.query(ctx, selectColumns+` ORDER BY id`)
}

func (s *PostgresStore) FindByLocation(ctx context.Context, lat, lon float64) ([]models.WeatherRecord, error) {
	where, args := whereClause(Filter{Coords: &Coordinates{Latitude: lat, Longitude: lon}}, dollar, postgresDateArgs)
	out, err := s.query(ctx, selectColumns+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresStore) FindByDateRange(ctx context.Context, start, end models.Date) ([]models.WeatherRecord, error) {
	where, args := whereClause(Filter{Range: &DateRange{Start: start, End: end}}, dollar, postgresDateArgs)
	return s.query(ctx, selectColumns+where+` ORDER BY id`, args...)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]models.WeatherRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WeatherRecord, error) {
		var rec models.WeatherRecord
		var date time.Time
		err := row.Scan(&rec.ID, &date, &rec.Location.Name, &rec.Location.Region,
			&rec.Location.Latitude, &rec.Location.Longitude, &rec.Temperature)
		rec.DateRecorded = models.DateOf(date)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if out == nil {
		out = make([]models.WeatherRecord, 0)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func postgresDateArgs(r DateRange) (any, any) {
	return r.Start.Time(), r.End.Time()
}
