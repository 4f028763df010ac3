package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS weather_records (
	id            INTEGER PRIMARY KEY,
	date_recorded TEXT    NOT NULL,
	name          TEXT    NOT NULL,
	region        TEXT    NOT NULL,
	latitude      REAL    NOT NULL,
	longitude     REAL    NOT NULL,
	temperature   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_weather_records_date ON weather_records(date_recorded);
CREATE INDEX IF NOT EXISTS idx_weather_records_coords ON weather_records(latitude, longitude);`

// SQLiteStore implements Store on a single SQLite file (pure Go driver
// modernc.org/sqlite). Dates are stored as DateLayout text, which sorts and
// compares in calendar order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. The schema is not
// applied; call Migrate.
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// PRAGMAs below are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil && logger != nil {
		logger.Warn("sqlite: could not enable WAL", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil && logger != nil {
		logger.Warn("sqlite: could not set busy timeout", zap.Error(err))
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the table and indexes if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO weather_records(id, date_recorded, name, region, latitude, longitude, temperature)
		 VALUES(?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.DateRecorded.String(), rec.Location.Name, rec.Location.Region,
		rec.Location.Latitude, rec.Location.Longitude, rec.Temperature)
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("insert record %d: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("insert record %d: %w", rec.ID, err)
	}
	if n == 0 {
		return models.WeatherRecord{}, ErrDuplicateKey
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM weather_records`); err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteByRangeAndLocation(ctx context.Context, f Filter) error {
	where, args := whereClause(f, questionMark, sqliteDateArgs)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM weather_records`+where, args...); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]models.WeatherRecord, error) {
	return s.query(ctx, selectColumns+` ORDER BY id`)
}

func (s *SQLiteStore) FindByLocation(ctx context.Context, lat, lon float64) ([]models.WeatherRecord, error) {
	where, args := whereClause(Filter{Coords: &Coordinates{Latitude: lat, Longitude: lon}}, questionMark, sqliteDateArgs)
	out, err := s.query(ctx, selectColumns+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *SQLiteStore) FindByDateRange(ctx context.Context, start, end models.Date) ([]models.WeatherRecord, error) {
	where, args := whereClause(Filter{Range: &DateRange{Start: start, End: end}}, questionMark, sqliteDateArgs)
	return s.query(ctx, selectColumns+where+` ORDER BY id`, args...)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]models.WeatherRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]models.WeatherRecord, 0)
	for rows.Next() {
		var rec models.WeatherRecord
		var date string
		if err := rows.Scan(&rec.ID, &date, &rec.Location.Name, &rec.Location.Region,
			&rec.Location.Latitude, &rec.Location.Longitude, &rec.Temperature); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.DateRecorded, err = models.ParseDate(date); err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteDateArgs(r DateRange) (any, any) {
	return r.Start.String(), r.End.String()
}
