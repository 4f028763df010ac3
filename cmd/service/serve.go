package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-record-service/internal/cache"
	"github.com/kjstillabower/weather-record-service/internal/config"
	httphandler "github.com/kjstillabower/weather-record-service/internal/http"
	"github.com/kjstillabower/weather-record-service/internal/lifecycle"
	"github.com/kjstillabower/weather-record-service/internal/observability"
	"github.com/kjstillabower/weather-record-service/internal/service"
	"github.com/kjstillabower/weather-record-service/internal/store"
)

// serve runs the HTTP API until ctx is cancelled, then drains and closes.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	lifecycle.MarkStarted(time.Now())

	st, err := store.Open(ctx, storeConfig(cfg, logger), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close", zap.Error(err))
		}
	}()
	if cfg.StoreBackend != store.BackendMemory && cfg.CircuitBreakerEnabled {
		observability.StoreCircuitBreakerState.WithLabelValues("store_" + cfg.StoreBackend).Set(0)
	}
	logger.Info("store backend: "+cfg.StoreBackend, zap.Bool("circuit_breaker", cfg.CircuitBreakerEnabled))

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "none":
		cacheSvc = cache.NoopCache{}
		logger.Info("cache backend: none")
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	defer func() {
		if memcacheCloser != nil {
			if err := memcacheCloser.Close(); err != nil {
				logger.Error("memcached close", zap.Error(err))
			}
		}
	}()

	weatherService := service.NewWeatherService(st, cacheSvc, cfg.CacheTTL, cfg.CoalesceTimeout)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StorePing:            st.Ping,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if remaining, err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", remaining))
	}

	logger.Info("shutdown complete")
	return nil
}
