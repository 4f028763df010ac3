package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-record-service/internal/circuitbreaker"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and tunes a backend.
type Config struct {
	Backend          string
	SQLitePath       string
	PostgresDSN      string
	PostgresMaxConns int32
	AutoMigrate      bool

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration
	// OnBreakerStateChange is optional, for metrics.
	OnBreakerStateChange func(component string, from, to circuitbreaker.State)
}

// Open builds the configured backend. SQL backends get their schema applied
// when AutoMigrate is set and are wrapped in a GuardedStore when
// BreakerEnabled is set.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	var s Store
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		sq, err := NewSQLiteStore(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		s = sq
	case BackendPostgres:
		pg, err := NewPostgresStore(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		s = pg
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if m, ok := s.(Migrator); ok && cfg.AutoMigrate {
		if err := m.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	if !cfg.BreakerEnabled {
		return s, nil
	}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        "store_" + cfg.Backend,
		IsExcluded:       IsBreakerNeutral,
		OnStateChange:    cfg.OnBreakerStateChange,
	})
	if logger != nil {
		logger.Info("store circuit breaker enabled",
			zap.String("backend", cfg.Backend),
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}
	return NewGuardedStore(s, cb), nil
}
