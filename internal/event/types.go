// Package event stores and aggregates the alerts the ingestion and
// calibration engines emit, and serves the store health summary.
package event

import (
	"fmt"
	"time"
)

// Event types emitted by the engines.
const (
	TypeBatteryLow          = "battery_low"
	TypeTheftSuspect        = "theft_suspect"
	TypeCheckoutPass        = "checkout_pass"
	TypePortalPass          = "portal_pass"
	TypeCalibrationComplete = "calibration_complete"
	TypeInventoryUpdate     = "inventory_update"
	TypeGatewayOffline      = "gateway_offline"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// Event is a single alert or notable occurrence. Events are append-only;
// the only mutation is marking one resolved.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	StoreID   string         `json:"store_id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	Resolved  bool           `json:"resolved"`
}

// NewBatteryLow creates a battery warning for a tag that crossed below
// the configured threshold.
func NewBatteryLow(storeID, tagID string, pct, threshold float64) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeBatteryLow,
		Severity: SeverityWarn,
		Context: map[string]any{
			"tag_id":      tagID,
			"battery_pct": pct,
			"threshold":   threshold,
		},
	}
}

// NewTheftSuspect creates a critical alert for a tag seen at a portal
// without a recent checkout.
func NewTheftSuspect(storeID, tagID, gatewayID string, rssi, threshold float64) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeTheftSuspect,
		Severity: SeverityCritical,
		Context: map[string]any{
			"tag_id":     tagID,
			"gateway_id": gatewayID,
			"rssi":       rssi,
			"threshold":  threshold,
			"reason":     "exit_without_checkout",
		},
	}
}

// NewCheckoutPass records a POS checkout for a tag. These events open
// the checkout window the event-history lookup fallback searches, so
// only POS integrations should create them.
func NewCheckoutPass(storeID, tagID, gatewayID string) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeCheckoutPass,
		Severity: SeverityInfo,
		Context: map[string]any{
			"tag_id":     tagID,
			"gateway_id": gatewayID,
		},
	}
}

// NewPortalPass records a tag legitimately leaving through a portal with
// a checkout found in the window. Deliberately a distinct type from
// checkout_pass: a portal_pass must not extend the checkout window.
func NewPortalPass(storeID, tagID, gatewayID string) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypePortalPass,
		Severity: SeverityInfo,
		Context: map[string]any{
			"tag_id":     tagID,
			"gateway_id": gatewayID,
		},
	}
}

// NewCalibrationComplete records a committed gateway calibration.
func NewCalibrationComplete(storeID, gatewayID string, zones int, portalThreshold float64) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeCalibrationComplete,
		Severity: SeverityInfo,
		Context: map[string]any{
			"gateway_id":       gatewayID,
			"zones":            zones,
			"portal_threshold": portalThreshold,
		},
	}
}

// NewInventoryUpdate records a reconciliation scan changing a product's
// counted quantity.
func NewInventoryUpdate(storeID, productID string, previous, counted int) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeInventoryUpdate,
		Severity: SeverityInfo,
		Context: map[string]any{
			"product_id": productID,
			"previous":   previous,
			"counted":    counted,
			"delta":      counted - previous,
		},
	}
}

// NewGatewayOffline records a gateway dropping off, typically via the MQTT
// last will.
func NewGatewayOffline(storeID, gatewayID string) *Event {
	return &Event{
		StoreID:  storeID,
		Type:     TypeGatewayOffline,
		Severity: SeverityWarn,
		Context: map[string]any{
			"gateway_id": gatewayID,
		},
	}
}

// String implements fmt.Stringer for log lines.
func (e *Event) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Type, e.Severity, e.ID)
}
