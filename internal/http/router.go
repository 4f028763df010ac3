package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-record-service/internal/observability"
)

// RouterConfig controls the middleware applied to the record API.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires the record API, /health and /metrics. Every route gets
// correlation ids and request metrics; the record API is additionally rate
// limited, traffic tracked and bounded by RequestTimeout.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	api.Use(TrafficMiddleware)
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/weather", h.CreateWeather).Methods(http.MethodPost)
	api.HandleFunc("/weather", h.ListWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/temperature", h.GetTemperatureStats).Methods(http.MethodGet)
	api.HandleFunc("/erase", h.Erase).Methods(http.MethodDelete)
	return router
}
