// Package models defines the weather record, its location and calendar date,
// and the per-location temperature summary returned by the stats endpoint.
// All types carry their wire JSON form.
package models

// Location identifies where a reading was taken. Two locations are the same
// aggregation group only when all four fields match.
type Location struct {
	Name      string  `json:"name" validate:"required"`
	Region    string  `json:"region"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// WeatherRecord is a single observation. ID is client-assigned and unique
// across the store. Temperature holds one or more comma-separated readings,
// e.g. "11, 12"; malformed readings are kept as sent and skipped when
// aggregating.
type WeatherRecord struct {
	ID           int64    `json:"id" validate:"gt=0"`
	DateRecorded Date     `json:"dateRecorded"`
	Location     Location `json:"location"`
	Temperature  string   `json:"temperature"`
}
