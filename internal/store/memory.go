package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]models.WeatherRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]models.WeatherRecord)}
}

// Insert stores rec unless its ID is already taken.
func (s *MemoryStore) Insert(ctx context.Context, rec models.WeatherRecord) (models.WeatherRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return models.WeatherRecord{}, ErrDuplicateKey
	}
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[int64]models.WeatherRecord)
	return nil
}

func (s *MemoryStore) DeleteByRangeAndLocation(ctx context.Context, f Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.records {
		if f.Matches(rec) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]models.WeatherRecord, error) {
	return s.find(ctx, func(models.WeatherRecord) bool { return true })
}

// FindByLocation returns ErrNotFound when no record sits at lat/lon.
func (s *MemoryStore) FindByLocation(ctx context.Context, lat, lon float64) ([]models.WeatherRecord, error) {
	out, err := s.find(ctx, func(rec models.WeatherRecord) bool {
		return rec.Location.Latitude == lat && rec.Location.Longitude == lon
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *MemoryStore) FindByDateRange(ctx context.Context, start, end models.Date) ([]models.WeatherRecord, error) {
	return s.find(ctx, func(rec models.WeatherRecord) bool {
		return rec.DateRecorded.Within(start, end)
	})
}

func (s *MemoryStore) find(ctx context.Context, keep func(models.WeatherRecord) bool) ([]models.WeatherRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.WeatherRecord, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
