package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-record-service/internal/cache"
	"github.com/kjstillabower/weather-record-service/internal/lifecycle"
	"github.com/kjstillabower/weather-record-service/internal/models"
	"github.com/kjstillabower/weather-record-service/internal/observability"
	"github.com/kjstillabower/weather-record-service/internal/service"
	"github.com/kjstillabower/weather-record-service/internal/store"
	"github.com/kjstillabower/weather-record-service/internal/traffic"
)

const wolfsburgJSON = `{"id":1,"dateRecorded":"2018-02-11","location":{"name":"wolfsburg","region":"lower saxony","latitude":10,"longitude":10},"temperature":"11, 12"}`

func newTestRouter(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	svc := service.NewWeatherService(st, cache.NewInMemoryCache(), time.Minute, time.Second)
	handler := NewHandler(svc, nil, zap.NewNop())
	return NewRouter(handler, zap.NewNop(), RouterConfig{RequestTimeout: 5 * time.Second})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seedRecord(t *testing.T, st store.Store, id int64, day int, loc models.Location, temps string) {
	t.Helper()
	_, err := st.Insert(context.Background(), models.WeatherRecord{
		ID:           id,
		DateRecorded: models.NewDate(2018, time.February, day),
		Location:     loc,
		Temperature:  temps,
	})
	if err != nil {
		t.Fatalf("seed Insert(%d) error = %v", id, err)
	}
}

var (
	wolfsburg = models.Location{Name: "wolfsburg", Region: "lower saxony", Latitude: 10, Longitude: 10}
	hanover   = models.Location{Name: "hanover", Region: "lower saxony", Latitude: 52.37, Longitude: 9.73}
)

// TestHandler_CreateWeather_Success verifies POST /weather stores the record
// and echoes it with 201.
func TestHandler_CreateWeather_Success(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodPost, "/weather", wolfsburgJSON)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var got models.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 1 || got.Location != wolfsburg || got.Temperature != "11, 12" || got.DateRecorded.String() != "2018-02-11" {
		t.Errorf("response = %+v", got)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
	all, _ := st.FindAll(context.Background())
	if len(all) != 1 {
		t.Errorf("store holds %d records, want 1", len(all))
	}
}

// TestHandler_CreateWeather_Duplicate verifies a repeated id is rejected with
// 400 and an empty body, leaving the original untouched.
func TestHandler_CreateWeather_Duplicate(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st)
	_ = do(t, router, http.MethodPost, "/weather", wolfsburgJSON)

	w := do(t, router, http.MethodPost, "/weather", strings.Replace(wolfsburgJSON, "wolfsburg", "hanover", 1))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	all, _ := st.FindAll(context.Background())
	if len(all) != 1 || all[0].Location.Name != "wolfsburg" {
		t.Errorf("store = %+v, want original record only", all)
	}
}

func TestHandler_CreateWeather_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id":`},
		{"bad date", strings.Replace(wolfsburgJSON, "2018-02-11", "11/02/2018", 1)},
		{"missing id", strings.Replace(wolfsburgJSON, `"id":1,`, "", 1)},
		{"missing location name", strings.Replace(wolfsburgJSON, `"name":"wolfsburg",`, "", 1)},
		{"latitude out of range", strings.Replace(wolfsburgJSON, `"latitude":10`, `"latitude":91`, 1)},
		{"missing date", strings.Replace(wolfsburgJSON, `"dateRecorded":"2018-02-11",`, "", 1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, store.NewMemoryStore())
			w := do(t, router, http.MethodPost, "/weather", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("body = %q, want empty", w.Body.String())
			}
		})
	}
}

// TestHandler_ListWeather verifies GET /weather returns every record, and an
// empty array rather than 404 when the store is empty.
func TestHandler_ListWeather(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodGet, "/weather", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty list status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}

	seedRecord(t, st, 2, 12, hanover, "3")
	seedRecord(t, st, 1, 11, wolfsburg, "11")
	w = do(t, router, http.MethodGet, "/weather", "")
	var got []models.WeatherRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("list = %+v, want ids 1,2", got)
	}
}

// TestHandler_ListWeather_ByLocation verifies coordinate filtering and 404
// with an empty body when nothing matches.
func TestHandler_ListWeather_ByLocation(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, 1, 11, wolfsburg, "11")
	seedRecord(t, st, 2, 12, hanover, "3")
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodGet, "/weather?lat=52.37&lon=9.73", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []models.WeatherRecord
	_ = json.NewDecoder(w.Body).Decode(&got)
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("list = %+v, want record 2", got)
	}

	w = do(t, router, http.MethodGet, "/weather?lat=1&lon=1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("no match status = %d, want 404", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("no match body = %q, want empty", w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/weather?lat=1", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("lat only status = %d, want 400", w.Code)
	}
}

// TestHandler_Erase verifies DELETE /erase with no parameters, with a date
// range plus location, and rejects unpaired or inverted parameters.
func TestHandler_Erase(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, 1, 11, wolfsburg, "11")
	seedRecord(t, st, 2, 12, wolfsburg, "12")
	seedRecord(t, st, 3, 12, hanover, "3")
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodDelete, "/erase?start=2018-02-12&end=2018-02-12&lat=10&lon=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("filtered erase status = %d, want 200", w.Code)
	}
	all, _ := st.FindAll(context.Background())
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 3 {
		t.Errorf("after filtered erase = %+v, want ids 1,3", all)
	}

	for _, target := range []string{
		"/erase?start=2018-02-12",
		"/erase?lon=10",
		"/erase?start=2018-02-13&end=2018-02-12",
		"/erase?start=yesterday&end=2018-02-12",
	} {
		if w := do(t, router, http.MethodDelete, target, ""); w.Code != http.StatusBadRequest {
			t.Errorf("DELETE %s status = %d, want 400", target, w.Code)
		}
	}

	w = do(t, router, http.MethodDelete, "/erase", "")
	if w.Code != http.StatusOK {
		t.Fatalf("erase all status = %d, want 200", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("erase body = %q, want empty", w.Body.String())
	}
	all, _ = st.FindAll(context.Background())
	if len(all) != 0 {
		t.Errorf("after erase all = %+v, want empty", all)
	}
}

// TestHandler_GetTemperatureStats verifies the per-location response shapes
// for a location with readings and one without.
func TestHandler_GetTemperatureStats(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, 1, 11, wolfsburg, "11, 12")
	seedRecord(t, st, 2, 12, wolfsburg, "20")
	seedRecord(t, st, 3, 12, hanover, "")
	seedRecord(t, st, 4, 20, hanover, "30")
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodGet, "/weather/temperature?start=2018-02-11&end=2018-02-12", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	var st0 models.Stats
	if err := json.Unmarshal(got[0]["stats"], &st0); err != nil {
		t.Fatalf("result[0].stats: %v", err)
	}
	if st0.Count != 3 || st0.Min != 11 || st0.Max != 20 || st0.Sum != 43 {
		t.Errorf("wolfsburg stats = %+v", st0)
	}
	var msg string
	if err := json.Unmarshal(got[1]["message"], &msg); err != nil || msg != models.NoDataMessage {
		t.Errorf("hanover message = %q (%v), want %q", msg, err, models.NoDataMessage)
	}
	if _, ok := got[1]["stats"]; ok {
		t.Error("no-data result must not carry stats")
	}
}

// TestHandler_GetTemperatureStats_ExtremeReadings verifies readings that round
// or overflow when summed still produce a decodable 200 response with the
// average inside [min, max].
func TestHandler_GetTemperatureStats_ExtremeReadings(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, 1, 11, wolfsburg, "1e308, 1e308")
	seedRecord(t, st, 2, 11, hanover, "0.1, 0.1, 0.1")
	router := newTestRouter(t, st)

	w := do(t, router, http.MethodGet, "/weather/temperature?start=2018-02-11&end=2018-02-12", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []models.WeatherStatsResult
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	for _, r := range got {
		s, ok := r.Stats()
		if !ok {
			t.Fatalf("%s: no stats", r.Location.Name)
		}
		if s.Min > s.Average || s.Average > s.Max {
			t.Errorf("%s: average %v outside [%v, %v]", r.Location.Name, s.Average, s.Min, s.Max)
		}
	}
}

// TestWriteJSON_EncodeFailure verifies an unencodable body becomes an empty
// 500 rather than a 200 with no content.
func TestWriteJSON_EncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	req := httptest.NewRequest(http.MethodGet, "/weather/temperature", nil)
	req = req.WithContext(observability.ContextWithLogger(req.Context(), zap.New(core)))
	w := httptest.NewRecorder()

	writeJSON(w, req, http.StatusOK, map[string]float64{"average": math.Inf(1)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
	if logs.FilterMessage("encode response failed").Len() != 1 {
		t.Error("want one encode failure log")
	}
}

// TestHandler_ClientGone verifies a request whose client disconnected gets
// 499 and is not logged as a server error.
func TestHandler_ClientGone(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	svc := service.NewWeatherService(store.NewMemoryStore(), nil, time.Minute, 0)
	router := NewRouter(NewHandler(svc, nil, logger), logger, RouterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/weather", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != statusClientClosedRequest {
		t.Fatalf("status = %d, want %d", w.Code, statusClientClosedRequest)
	}
	if n := logs.FilterLevelExact(zap.ErrorLevel).Len(); n != 0 {
		t.Errorf("error logs = %d, want 0", n)
	}
}

func TestHandler_GetTemperatureStats_BadRequest(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore())
	for _, target := range []string{
		"/weather/temperature",
		"/weather/temperature?start=2018-02-11",
		"/weather/temperature?start=2018-02-11&end=2018-13-01",
		"/weather/temperature?start=2018-02-12&end=2018-02-11",
	} {
		w := do(t, router, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("GET %s body = %q, want empty", target, w.Body.String())
		}
	}
}

func TestHandler_GetTemperatureStats_EmptyRange(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore())
	w := do(t, router, http.MethodGet, "/weather/temperature?start=2018-02-11&end=2018-02-12", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrDuplicateKey, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{context.Canceled, statusClientClosedRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// TestHandler_GetHealth verifies a healthy response carries status and checks.
func TestHandler_GetHealth(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	traffic.Reset()
	healthConfig := &HealthConfig{
		StorePing: func(context.Context) error { return nil },
		CachePing: func() error { return nil },
	}
	handler := NewHandler(nil, healthConfig, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Checks["store"] != "healthy" || resp.Checks["cache"] != "healthy" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	handler := NewHandler(nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "shutting-down") {
		t.Errorf("body = %s, want shutting-down", w.Body.String())
	}
}

// TestHandler_GetHealth_StoreUnreachable verifies a failing store ping
// reports degraded with checks.store unhealthy.
func TestHandler_GetHealth_StoreUnreachable(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	handler := NewHandler(nil, &HealthConfig{
		StorePing: func(context.Context) error { return store.ErrUnavailable },
		CachePing: func() error { return errors.New("no memcached") },
	}, zap.NewNop())

	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.Checks["store"] != "unhealthy" || resp.Checks["cache"] != "unhealthy" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHandler_GetHealth_Overloaded(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	traffic.Reset()
	defer traffic.Reset()
	handler := NewHandler(nil, &HealthConfig{
		OverloadWindow:       time.Second,
		OverloadThresholdPct: 50,
		RateLimitRPS:         4,
	}, zap.NewNop())

	// threshold = 4 rps * 1s * 50% = 2 denials
	for i := 0; i < 3; i++ {
		traffic.RecordDenied()
	}
	w := httptest.NewRecorder()
	handler.GetHealth(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "overloaded") {
		t.Errorf("status = %d body = %s, want 503 overloaded", w.Code, w.Body.String())
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a status change is logged
// once with previous and current status and the reason.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	traffic.Reset()
	defer traffic.Reset()
	core, logs := observer.New(zap.DebugLevel)
	handler := NewHandler(nil, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
	}, zap.New(core))
	req := httptest.NewRequest("GET", "/health", nil)

	traffic.RecordStatus(http.StatusOK)
	traffic.RecordStatus(http.StatusOK)
	w := httptest.NewRecorder()
	handler.GetHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first GetHealth status = %d, want 200", w.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("first call should not log transition; got %d logs", logs.Len())
	}

	// 2 of 4 requests failed: 50% breaches the threshold.
	traffic.RecordStatus(http.StatusInternalServerError)
	traffic.RecordStatus(http.StatusServiceUnavailable)
	w = httptest.NewRecorder()
	handler.GetHealth(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", fields)
	}

	handler.GetHealth(httptest.NewRecorder(), req)
	if logs.Len() != 1 {
		t.Errorf("unchanged status should not log; total logs = %d, want 1", logs.Len())
	}
}

// TestHandler_ServiceError_LogsWithCorrelationID verifies unexpected store
// errors produce 500 and an ERROR log carrying the request's correlation id.
func TestHandler_ServiceError_LogsWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	svc := service.NewWeatherService(failingStore{store.NewMemoryStore()}, nil, time.Minute, 0)
	router := NewRouter(NewHandler(svc, nil, logger), logger, RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/weather", nil)
	req.Header.Set("X-Correlation-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	entries := logs.FilterMessage("request failed").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 error log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "req-42" {
		t.Errorf("correlation_id = %v, want req-42", got)
	}
}

type failingStore struct{ store.Store }

func (failingStore) FindAll(context.Context) ([]models.WeatherRecord, error) {
	return nil, errors.New("disk on fire")
}
