package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTagMetric mirrors a single tag reading to InfluxDB.
//
// This is the primary method used by the ingestion pipeline. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - storeID: Store the reading belongs to
//   - gatewayID: Gateway that reported the reading
//   - tagID: Tag the reading is about
//   - metric: The metric name (e.g., "rssi", "battery")
//   - value: The numeric value to record
//   - timestamp: The reading's timestamp
//
// Example:
//
//	client.WriteTagMetric("store-001", "gw-a1b2c3d4", "tag-9f8e7d6c", "rssi", -54.2, reading.Timestamp)
func (c *Client) WriteTagMetric(storeID, gatewayID, tagID, metric string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"tag_metrics",
		map[string]string{
			"store_id":   storeID,
			"gateway_id": gatewayID,
			"tag_id":     tagID,
			"metric":     metric,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteGatewayStatus records a gateway status transition.
//
// Used for tracking gateway availability over time.
//
// Parameters:
//   - storeID: Store the gateway belongs to
//   - gatewayID: Gateway identifier
//   - online: Whether the gateway is online
func (c *Client) WriteGatewayStatus(storeID, gatewayID string, online bool) {
	if !c.IsConnected() {
		return
	}

	status := 0
	if online {
		status = 1
	}

	point := write.NewPoint(
		"gateway_status",
		map[string]string{
			"store_id":   storeID,
			"gateway_id": gatewayID,
		},
		map[string]interface{}{
			"online": status,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEventCount records an emitted event for alert-rate dashboards.
//
// Parameters:
//   - storeID: Store the event belongs to
//   - eventType: Event type (e.g., "theft_suspect", "battery_low")
//   - severity: Event severity ("info", "warn", "critical")
func (c *Client) WriteEventCount(storeID, eventType, severity string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"events",
		map[string]string{
			"store_id": storeID,
			"type":     eventType,
			"severity": severity,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
