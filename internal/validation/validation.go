// Package validation checks request bodies and query parameters before they
// reach the service layer. Every error maps to a 400 response.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-record-service/internal/models"
	"github.com/kjstillabower/weather-record-service/internal/store"
)

var (
	// ErrInvalidRecord is returned when a record body fails field rules.
	ErrInvalidRecord = errors.New("invalid weather record")

	// ErrInvalidDate is returned when a date is missing or not in models.DateLayout.
	ErrInvalidDate = errors.New("invalid date")

	// ErrIncompleteRange is returned when only one of start/end is supplied.
	ErrIncompleteRange = errors.New("start and end must be given together")

	// ErrRangeOrder is returned when start is after end.
	ErrRangeOrder = errors.New("start must not be after end")

	// ErrIncompleteCoordinates is returned when only one of lat/lon is supplied.
	ErrIncompleteCoordinates = errors.New("lat and lon must be given together")

	// ErrInvalidCoordinate is returned when lat/lon is not a finite number in range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

var validate = validator.New()

// ValidateRecord enforces a positive id, a location name, coordinates in
// range and a recorded date. Temperature content is not checked here;
// unparsable readings are tolerated by aggregation.
func ValidateRecord(rec models.WeatherRecord) error {
	if err := validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.DateRecorded.IsZero() {
		return fmt.Errorf("%w: dateRecorded is required", ErrInvalidRecord)
	}
	return nil
}

// ParseDateRange parses start and end. When both are empty it returns nil,
// or ErrIncompleteRange if required is set.
func ParseDateRange(start, end string, required bool) (*store.DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		if required {
			return nil, ErrIncompleteRange
		}
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, ErrIncompleteRange
	}
	s, err := models.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidDate, err)
	}
	e, err := models.ParseDate(end)
	if err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrInvalidDate, err)
	}
	if s.After(e) {
		return nil, ErrRangeOrder
	}
	return &store.DateRange{Start: s, End: e}, nil
}

// ParseCoordinates parses lat and lon. Both empty returns nil.
func ParseCoordinates(lat, lon string) (*store.Coordinates, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, ErrIncompleteCoordinates
	}
	la, err := parseCoordinate(lat, 90)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	lo, err := parseCoordinate(lon, 180)
	if err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}
	return &store.Coordinates{Latitude: la, Longitude: lo}, nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	return v, nil
}
