// Package influxdb provides InfluxDB connectivity for TagTrace Core.
//
// It wraps the official influxdb-client-go v2 library with TagTrace-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package mirrors accepted telemetry readings into a time-series
// store for dashboarding:
//   - Tag signal strength (RSSI) per gateway
//   - Tag battery levels
//   - Environmental metrics (temperature, weight, GPS)
//
// SQLite remains the system of record; the mirror is optional and
// non-blocking, so an InfluxDB outage never affects ingestion.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "tagtrace",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Mirror a tag reading
//	client.WriteTagMetric("store-001", "gw-a1b2c3d4", "tag-9f8e7d6c", "rssi", -54.2, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
