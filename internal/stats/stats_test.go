package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

var (
	locA = models.Location{Name: "wolfsburg", Region: "lower saxony", Latitude: 10, Longitude: 10}
	locB = models.Location{Name: "hanover", Region: "lower saxony", Latitude: 52.37, Longitude: 9.73}
)

func record(id int64, loc models.Location, temp string) models.WeatherRecord {
	return models.WeatherRecord{
		ID:           id,
		DateRecorded: models.NewDate(2018, time.February, 11),
		Location:     loc,
		Temperature:  temp,
	}
}

func TestParseTemperatures(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []float64
	}{
		{"two readings", "11, 12", []float64{11, 12}},
		{"single", "20", []float64{20}},
		{"empty", "", nil},
		{"whitespace only", "  ,  ", nil},
		{"negative and decimal", "-3.5,0,2.25", []float64{-3.5, 0, 2.25}},
		{"bad tokens skipped", "11, abc, 12,,", []float64{11, 12}},
		{"nan and inf skipped", "NaN, Inf, -Inf, 7", []float64{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTemperatures(tt.in))
		})
	}
}

func TestComputeStats_EmptyInput(t *testing.T) {
	got := ComputeStats(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestComputeStats_MergesRecordsOfSameLocation(t *testing.T) {
	got := ComputeStats([]models.WeatherRecord{
		record(1, locA, "11, 12"),
		record(2, locA, "20"),
	})

	require.Len(t, got, 1)
	assert.Equal(t, locA, got[0].Location)
	s, ok := got[0].Stats()
	require.True(t, ok)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 11.0, s.Min)
	assert.Equal(t, 20.0, s.Max)
	assert.InDelta(t, 43.0/3.0, s.Average, 1e-9)
	assert.Equal(t, 43.0, s.Sum)
}

func TestComputeStats_NoParsableValues(t *testing.T) {
	got := ComputeStats([]models.WeatherRecord{record(1, locB, "")})

	require.Len(t, got, 1)
	assert.Equal(t, locB, got[0].Location)
	assert.True(t, got[0].IsNoData())
	_, ok := got[0].Stats()
	assert.False(t, ok)
}

func TestComputeStats_PartiallyUnparsable(t *testing.T) {
	got := ComputeStats([]models.WeatherRecord{record(1, locA, "11, oops, 13")})

	require.Len(t, got, 1)
	s, ok := got[0].Stats()
	require.True(t, ok)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 12.0, s.Average)
}

func TestComputeStats_MalformedRecordDoesNotHideValidOnes(t *testing.T) {
	got := ComputeStats([]models.WeatherRecord{
		record(1, locA, "garbage"),
		record(2, locA, "5"),
	})

	require.Len(t, got, 1)
	s, ok := got[0].Stats()
	require.True(t, ok)
	assert.Equal(t, 1, s.Count)
}

func TestComputeStats_FirstOccurrenceOrder(t *testing.T) {
	got := ComputeStats([]models.WeatherRecord{
		record(1, locB, "1"),
		record(2, locA, "2"),
		record(3, locB, "3"),
	})

	require.Len(t, got, 2)
	assert.Equal(t, locB, got[0].Location)
	assert.Equal(t, locA, got[1].Location)
}

func TestComputeStats_LocationsDifferingInOneFieldStaySeparate(t *testing.T) {
	renamed := locA
	renamed.Region = "niedersachsen"
	shifted := locA
	shifted.Longitude = 10.5

	got := ComputeStats([]models.WeatherRecord{
		record(1, locA, "1"),
		record(2, renamed, "2"),
		record(3, shifted, "3"),
	})
	assert.Len(t, got, 3)
}

// TestComputeStats_ExtremeReadings verifies the average stays within
// [min, max] and every field stays finite for readings whose sum rounds or
// overflows.
func TestComputeStats_ExtremeReadings(t *testing.T) {
	tenth := 0.1
	tests := []struct {
		name    string
		temp    string
		wantAvg float64
		wantSum float64
	}{
		{"repeated tenths", "0.1, 0.1, 0.1", 0.1, tenth + tenth + tenth},
		{"near max", "1e308, 1e308", 1e308, math.MaxFloat64},
		{"near min", "-1e308, -1e308, -1e308", -1e308, -math.MaxFloat64},
		{"overflow then mixed", "1.7e308, 1.7e308, 1", 0, math.MaxFloat64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats([]models.WeatherRecord{record(1, locA, tt.temp)})
			require.Len(t, got, 1)
			s, ok := got[0].Stats()
			require.True(t, ok)

			assert.LessOrEqual(t, s.Min, s.Average)
			assert.LessOrEqual(t, s.Average, s.Max)
			for _, v := range []float64{s.Min, s.Max, s.Average, s.Sum} {
				assert.False(t, math.IsInf(v, 0) || math.IsNaN(v), "non-finite field in %+v", s)
			}
			if tt.wantAvg != 0 {
				assert.Equal(t, tt.wantAvg, s.Average)
			}
			assert.Equal(t, tt.wantSum, s.Sum)

			_, err := json.Marshal(got)
			assert.NoError(t, err)
		})
	}
}

// TestComputeStats_Invariants checks min <= average <= max and that count
// equals the parsed token count across randomized inputs.
func TestComputeStats_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	locs := []models.Location{locA, locB, {Name: "empty"}}

	for iter := 0; iter < 200; iter++ {
		var records []models.WeatherRecord
		expected := make(map[models.Location]int)
		size := rng.Intn(10)
		for i := 0; i < size; i++ {
			loc := locs[rng.Intn(len(locs))]
			temp := ""
			if loc.Name != "empty" {
				n := rng.Intn(4)
				for j := 0; j < n; j++ {
					if j > 0 {
						temp += ", "
					}
					if rng.Intn(3) == 0 {
						temp += "0.1" // repeats of a non-representable value
					} else {
						temp += fmt.Sprintf("%.2f", rng.Float64()*80-40)
					}
				}
				expected[loc] += n
			}
			records = append(records, record(int64(i+1), loc, temp))
		}

		for _, r := range ComputeStats(records) {
			s, ok := r.Stats()
			if expected[r.Location] == 0 {
				assert.True(t, r.IsNoData(), "location %v with no readings must be no-data", r.Location)
				continue
			}
			require.True(t, ok)
			assert.Equal(t, expected[r.Location], s.Count)
			assert.LessOrEqual(t, s.Min, s.Average)
			assert.LessOrEqual(t, s.Average, s.Max)
		}
	}
}
