package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/mqtt"
	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// handlerTimeout bounds processing of one MQTT message.
const handlerTimeout = 30 * time.Second

// telemetryPayload is the JSON body gateways publish on their telemetry
// topic. The bearer secret rides in the payload because MQTT brokers do
// not carry per-message credentials.
type telemetryPayload struct {
	Secret string `json:"secret"`
	Items  []Item `json:"items"`
}

// statusPayload is the JSON body on gateway status topics, set as the
// gateway's broker LWT.
type statusPayload struct {
	Status string `json:"status"`
}

// Bridge connects the MQTT broker to the ingestion pipeline. It consumes
// gateway telemetry and status topics and publishes emitted events back
// out to tag and broadcast topics.
type Bridge struct {
	storeID  string
	pipeline *Pipeline
	client   *mqtt.Client
	registry *registry.Service
	events   event.Repository
	topics   mqtt.Topics
	log      *logging.Logger
}

// NewBridge creates the MQTT ingestion bridge.
func NewBridge(storeID string, pipeline *Pipeline, client *mqtt.Client,
	reg *registry.Service, events event.Repository, log *logging.Logger,
) *Bridge {
	return &Bridge{
		storeID:  storeID,
		pipeline: pipeline,
		client:   client,
		registry: reg,
		events:   events,
		log:      log.With("component", "mqtt-bridge"),
	}
}

// Start subscribes to the gateway topics. Subscriptions are restored by
// the client on reconnect.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.topics.AllGatewayTelemetry(), 1, b.handleTelemetry); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := b.client.Subscribe(b.topics.AllGatewayStatus(), 1, b.handleStatus); err != nil {
		return fmt.Errorf("subscribing to status: %w", err)
	}
	b.log.Info("bridge started")
	return nil
}

// handleTelemetry processes one gateway telemetry message.
func (b *Bridge) handleTelemetry(topic string, payload []byte) error {
	storeID, gatewayID, ok := mqtt.ParseGatewayTelemetry(topic)
	if !ok {
		return fmt.Errorf("unexpected telemetry topic %q", topic)
	}
	if storeID != b.storeID {
		// Another store's traffic on a shared broker; not ours.
		return nil
	}

	var body telemetryPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("parsing telemetry payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	result, err := b.pipeline.Ingest(ctx, body.Secret, body.Items)
	if errors.Is(err, registry.ErrInvalidCredential) || errors.Is(err, registry.ErrGatewayDisabled) {
		b.log.Warn("rejected telemetry batch", "topic_gateway", gatewayID, "error", err)
		return nil // rejection is handled, not a handler failure
	}
	if err != nil {
		return fmt.Errorf("ingesting batch from %s: %w", gatewayID, err)
	}

	if result.GatewayID != gatewayID {
		b.log.Warn("telemetry topic does not match authenticated gateway",
			"topic_gateway", gatewayID, "auth_gateway", result.GatewayID)
	}

	b.publishEvents(result.Events)
	b.publishSummary(result)
	return nil
}

// handleStatus reacts to gateway status messages, marking gateways
// offline when their LWT fires.
func (b *Bridge) handleStatus(topic string, payload []byte) error {
	storeID, gatewayID, ok := mqtt.ParseGatewayStatus(topic)
	if !ok {
		return fmt.Errorf("unexpected status topic %q", topic)
	}
	if storeID != b.storeID {
		return nil
	}

	var body statusPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("parsing status payload: %w", err)
	}
	if body.Status != "offline" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.registry.MarkGatewayOffline(ctx, gatewayID); err != nil {
		if errors.Is(err, registry.ErrGatewayNotFound) {
			return nil
		}
		return fmt.Errorf("marking gateway offline: %w", err)
	}

	evt := event.NewGatewayOffline(b.storeID, gatewayID)
	if err := b.events.Create(ctx, evt); err != nil {
		return fmt.Errorf("recording offline event: %w", err)
	}
	b.publishEvents([]*event.Event{evt})

	b.log.Info("gateway went offline", "gateway_id", gatewayID)
	return nil
}

// publishEvents mirrors persisted events to their tag topics.
func (b *Bridge) publishEvents(events []*event.Event) {
	for _, evt := range events {
		tagID, _ := evt.Context["tag_id"].(string)
		if tagID == "" {
			continue
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			b.log.Warn("failed to marshal event", "event_id", evt.ID, "error", err)
			continue
		}
		if err := b.client.Publish(b.topics.TagEvent(b.storeID, tagID), payload, 1, false); err != nil {
			b.log.Warn("failed to publish event", "event_id", evt.ID, "error", err)
		}
	}
}

// batchSummary is published on the store broadcast topic after each batch.
type batchSummary struct {
	GatewayID string    `json:"gateway_id"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
	Events    int       `json:"events"`
	Timestamp time.Time `json:"ts"`
}

// publishSummary announces batch results store-wide.
func (b *Bridge) publishSummary(result *Result) {
	summary := batchSummary{
		GatewayID: result.GatewayID,
		Accepted:  result.Accepted,
		Rejected:  result.Rejected,
		Events:    len(result.Events),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		b.log.Warn("failed to marshal batch summary", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.StoreBroadcast(b.storeID), payload, 0, false); err != nil {
		b.log.Warn("failed to publish batch summary", "error", err)
	}
}
