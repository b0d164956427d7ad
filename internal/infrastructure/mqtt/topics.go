package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the TagTrace MQTT hierarchy.
//
// Store-scoped topics use the scheme:
//
//	tagtrace/stores/{store_id}/gateways/{gateway_id}/telemetry
//	tagtrace/stores/{store_id}/tags/{tag_id}/evt
//	tagtrace/stores/{store_id}/broadcast
const (
	// TopicPrefix is the base for all TagTrace topics.
	TopicPrefix = "tagtrace"

	// TopicPrefixStores is the base for store-scoped topics.
	TopicPrefixStores = "tagtrace/stores"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tagtrace/system"
)

// Topics provides builders for TagTrace MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.GatewayTelemetry("store-001", "gw-a1b2c3d4")
//	// Returns: "tagtrace/stores/store-001/gateways/gw-a1b2c3d4/telemetry"
type Topics struct{}

// =============================================================================
// Store Topics
// =============================================================================

// GatewayTelemetry returns the topic a gateway publishes reading batches to.
//
// Example: tagtrace/stores/store-001/gateways/gw-a1b2c3d4/telemetry
func (Topics) GatewayTelemetry(storeID, gatewayID string) string {
	return fmt.Sprintf("%s/%s/gateways/%s/telemetry", TopicPrefixStores, storeID, gatewayID)
}

// GatewayStatus returns the topic for gateway online/offline status.
// Used as the LWT topic for gateway broker sessions.
//
// Example: tagtrace/stores/store-001/gateways/gw-a1b2c3d4/status
func (Topics) GatewayStatus(storeID, gatewayID string) string {
	return fmt.Sprintf("%s/%s/gateways/%s/status", TopicPrefixStores, storeID, gatewayID)
}

// TagEvent returns the topic events for a specific tag are published to.
//
// Example: tagtrace/stores/store-001/tags/tag-9f8e7d6c/evt
func (Topics) TagEvent(storeID, tagID string) string {
	return fmt.Sprintf("%s/%s/tags/%s/evt", TopicPrefixStores, storeID, tagID)
}

// StoreBroadcast returns the store-wide broadcast topic.
// Batch summaries and store-level notices are published here.
//
// Example: tagtrace/stores/store-001/broadcast
func (Topics) StoreBroadcast(storeID string) string {
	return fmt.Sprintf("%s/%s/broadcast", TopicPrefixStores, storeID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the core service status topic.
// Used as the LWT topic for the core's own broker session.
//
// Example: tagtrace/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemTime returns the time sync topic.
//
// Example: tagtrace/system/time
func (Topics) SystemTime() string {
	return fmt.Sprintf("%s/time", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllGatewayTelemetry returns a pattern matching every gateway telemetry
// topic across all stores. This is the ingestion bridge's subscription.
//
// Pattern: tagtrace/stores/+/gateways/+/telemetry
func (Topics) AllGatewayTelemetry() string {
	return fmt.Sprintf("%s/+/gateways/+/telemetry", TopicPrefixStores)
}

// AllGatewayStatus returns a pattern matching all gateway status topics.
//
// Pattern: tagtrace/stores/+/gateways/+/status
func (Topics) AllGatewayStatus() string {
	return fmt.Sprintf("%s/+/gateways/+/status", TopicPrefixStores)
}

// AllTagEvents returns a pattern matching all tag event topics in a store.
//
// Pattern: tagtrace/stores/store-001/tags/+/evt
func (Topics) AllTagEvents(storeID string) string {
	return fmt.Sprintf("%s/%s/tags/+/evt", TopicPrefixStores, storeID)
}

// AllTopics returns a pattern matching all TagTrace topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tagtrace/#
func (Topics) AllTopics() string {
	return "tagtrace/#"
}

// ParseGatewayStatus extracts the store and gateway IDs from a gateway
// status topic. Returns ok=false if the topic does not match the scheme
// tagtrace/stores/{store}/gateways/{gateway}/status.
func ParseGatewayStatus(topic string) (storeID, gatewayID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 {
		return "", "", false
	}
	if parts[0] != TopicPrefix || parts[1] != "stores" || parts[3] != "gateways" || parts[5] != "status" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}

// ParseGatewayTelemetry extracts the store and gateway IDs from a gateway
// telemetry topic. Returns ok=false if the topic does not match the scheme
// tagtrace/stores/{store}/gateways/{gateway}/telemetry.
func ParseGatewayTelemetry(topic string) (storeID, gatewayID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 {
		return "", "", false
	}
	if parts[0] != TopicPrefix || parts[1] != "stores" || parts[3] != "gateways" || parts[5] != "telemetry" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}
