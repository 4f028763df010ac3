package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-record-service/internal/lifecycle"
	"github.com/kjstillabower/weather-record-service/internal/models"
	"github.com/kjstillabower/weather-record-service/internal/observability"
	"github.com/kjstillabower/weather-record-service/internal/service"
	"github.com/kjstillabower/weather-record-service/internal/store"
	"github.com/kjstillabower/weather-record-service/internal/traffic"
	"github.com/kjstillabower/weather-record-service/internal/validation"
)

// maxRecordBytes bounds a POST /weather body.
const maxRecordBytes = 1 << 20

// statusClientClosedRequest is reported when the client went away before
// the response was ready.
const statusClientClosedRequest = 499

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// StorePing, when set, checks the record store. A failure reports degraded.
	StorePing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// CreateWeather handles POST /weather.
func (h *Handler) CreateWeather(w http.ResponseWriter, r *http.Request) {
	var rec models.WeatherRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes)).Decode(&rec); err != nil {
		observability.LoggerFromContext(r.Context()).Debug("malformed record body", zap.Error(err))
		writeStatus(w, http.StatusBadRequest)
		return
	}
	if err := validation.ValidateRecord(rec); err != nil {
		writeServiceError(w, r, err)
		return
	}
	created, err := h.weatherService.Create(r.Context(), rec)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// Erase handles DELETE /erase. With no query parameters every record is removed;
// start/end and lat/lon narrow the deletion and must each be given as a pair.
func (h *Handler) Erase(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dateRange, err := validation.ParseDateRange(q.Get("start"), q.Get("end"), false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.weatherService.Erase(r.Context(), store.Filter{Range: dateRange, Coords: coords}); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeStatus(w, http.StatusOK)
}

// ListWeather handles GET /weather with optional lat/lon.
func (h *Handler) ListWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coords, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	records, err := h.weatherService.List(r.Context(), coords)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []models.WeatherRecord{}
	}
	writeJSON(w, r, http.StatusOK, records)
}

// GetTemperatureStats handles GET /weather/temperature?start=&end=.
func (h *Handler) GetTemperatureStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dateRange, err := validation.ParseDateRange(q.Get("start"), q.Get("end"), true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	results, err := h.weatherService.TemperatureStats(r.Context(), *dateRange)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, results)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "store_unreachable" {
		checks["store"] = "unhealthy"
	} else {
		checks["store"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, r, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-record-service",
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.StorePing != nil {
		if err := h.healthConfig.StorePing(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
		}
	}
	// Overloaded when denials exceed the configured share of window capacity.
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code. The
// body is encoded before the header is sent so an encoding failure becomes
// a 500 instead of a truncated success.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("encode response failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeStatus writes a response with no body.
func writeStatus(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// statusForError maps service errors onto response codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrDuplicateKey),
		errors.Is(err, validation.ErrInvalidRecord),
		errors.Is(err, validation.ErrInvalidDate),
		errors.Is(err, validation.ErrIncompleteRange),
		errors.Is(err, validation.ErrRangeOrder),
		errors.Is(err, validation.ErrIncompleteCoordinates),
		errors.Is(err, validation.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes the status for err with an empty body. Unexpected
// errors are logged at ERROR, everything else at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	logger := observability.LoggerFromContext(r.Context())
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeStatus(w, status)
}
