// Package stats groups weather records by location and summarizes their
// temperature readings.
package stats

import (
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

// group accumulates readings for one location.
type group struct {
	location models.Location
	count    int
	min      float64
	max      float64
	sum      float64
	mean     float64 // running mean, finite even when sum overflows
}

func (g *group) add(v float64) {
	if g.count == 0 || v < g.min {
		g.min = v
	}
	if g.count == 0 || v > g.max {
		g.max = v
	}
	g.sum += v
	g.count++
	n := float64(g.count)
	g.mean += v/n - g.mean/n
}

func (g *group) result() models.WeatherStatsResult {
	if g.count == 0 {
		return models.NewNoDataResult(g.location)
	}
	avg := g.sum / float64(g.count)
	if math.IsInf(avg, 0) {
		avg = g.mean
	}
	return models.NewStatsResult(g.location, models.Stats{
		Count:   g.count,
		Min:     g.min,
		Max:     g.max,
		Average: math.Min(math.Max(avg, g.min), g.max),
		Sum:     saturate(g.sum),
	})
}

// saturate clamps an overflowed sum to the largest finite float of its sign.
func saturate(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	default:
		return v
	}
}

// ComputeStats returns one result per distinct location in records, ordered
// by each location's first appearance. A location whose records contain no
// parsable reading yields a no-data result rather than being dropped.
func ComputeStats(records []models.WeatherRecord) []models.WeatherStatsResult {
	groups := make([]*group, 0)
	index := make(map[models.Location]int)

	for _, rec := range records {
		i, ok := index[rec.Location]
		if !ok {
			i = len(groups)
			index[rec.Location] = i
			groups = append(groups, &group{location: rec.Location})
		}
		for _, v := range ParseTemperatures(rec.Temperature) {
			groups[i].add(v)
		}
	}

	out := make([]models.WeatherStatsResult, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.result())
	}
	return out
}

// ParseTemperatures splits s on commas and returns every token that parses
// as a finite float. Bad tokens are skipped.
func ParseTemperatures(s string) []float64 {
	var out []float64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
