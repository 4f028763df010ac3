package models

import (
	"encoding/json"
	"errors"
)

// NoDataMessage is reported for a location whose records held no usable temperature readings.
const NoDataMessage = "There is no weather data in the given date range"

// Stats summarizes the temperature readings of one location. Average always
// lies within [Min, Max]; Sum saturates at ±math.MaxFloat64 rather than
// overflowing.
type Stats struct {
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Sum     float64 `json:"sum"`
}

// WeatherStatsResult is either Stats or the no-data marker for a location.
// Use NewStatsResult or NewNoDataResult; the zero value is a no-data result.
type WeatherStatsResult struct {
	Location Location
	stats    *Stats
}

func NewStatsResult(loc Location, s Stats) WeatherStatsResult {
	return WeatherStatsResult{Location: loc, stats: &s}
}

func NewNoDataResult(loc Location) WeatherStatsResult {
	return WeatherStatsResult{Location: loc}
}

// Stats returns the summary and true, or false for a no-data result.
func (r WeatherStatsResult) Stats() (Stats, bool) {
	if r.stats == nil {
		return Stats{}, false
	}
	return *r.stats, true
}

func (r WeatherStatsResult) IsNoData() bool {
	return r.stats == nil
}

type statsResultJSON struct {
	Location Location `json:"location"`
	Stats    *Stats   `json:"stats,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func (r WeatherStatsResult) MarshalJSON() ([]byte, error) {
	out := statsResultJSON{Location: r.Location, Stats: r.stats}
	if r.stats == nil {
		out.Message = NoDataMessage
	}
	return json.Marshal(out)
}

func (r *WeatherStatsResult) UnmarshalJSON(data []byte) error {
	var in statsResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Stats != nil && in.Stats.Count == 0 {
		return errors.New("stats result with zero count")
	}
	r.Location = in.Location
	r.stats = in.Stats
	return nil
}
