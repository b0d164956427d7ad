// Package telemetry is the append-only store for raw tag readings.
//
// Readings are never updated or deleted through this package; retention
// is handled out of band. SQLite is the system of record, with an
// optional InfluxDB mirror written by the ingestion pipeline.
package telemetry

import (
	"errors"
	"time"
)

// Metric names accepted by the ingestion pipeline.
const (
	MetricRSSI    = "rssi"
	MetricBattery = "battery"
	MetricTemp    = "temp"
	MetricWeight  = "weight"
	MetricGPS     = "gps"
)

// ErrUnknownMetric indicates a reading carried a metric name outside the
// accepted set.
var ErrUnknownMetric = errors.New("telemetry: unknown metric")

// defaultUnits maps each metric to the unit assumed when a reading omits
// one.
var defaultUnits = map[string]string{
	MetricRSSI:    "dBm",
	MetricBattery: "%",
	MetricTemp:    "C",
	MetricWeight:  "g",
	MetricGPS:     "deg",
}

// KnownMetric reports whether the metric name is in the accepted set.
func KnownMetric(metric string) bool {
	_, ok := defaultUnits[metric]
	return ok
}

// UnitFor returns the default unit for a metric, or empty for unknown
// metrics.
func UnitFor(metric string) string {
	return defaultUnits[metric]
}

// Reading is one telemetry sample from a gateway about a tag.
type Reading struct {
	// ID is the storage rowid, assigned on append.
	ID int64 `json:"id"`

	Timestamp time.Time `json:"ts"`
	StoreID   string    `json:"store_id"`
	GatewayID string    `json:"gateway_id"`
	TagID     string    `json:"tag_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`

	// Attrs carries optional reader-specific metadata, e.g. antenna port
	// or channel.
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Normalise validates the metric and fills in defaults for timestamp and
// unit. Called before append.
func (r *Reading) Normalise(now time.Time) error {
	if !KnownMetric(r.Metric) {
		return ErrUnknownMetric
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.Unit == "" {
		r.Unit = UnitFor(r.Metric)
	}
	return nil
}
