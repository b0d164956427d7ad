// Package ingest is the telemetry ingestion pipeline.
//
// A batch arrives with a gateway bearer secret over HTTP or MQTT. The
// whole batch is rejected if the credential is invalid or the gateway is
// disabled; individual bad items are skipped without poisoning the rest.
// Accepted readings land in the telemetry store, update tag health, drive
// theft and battery detection, and are mirrored to InfluxDB when one is
// configured.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tagtrace/tagtrace-core/internal/checkout"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/registry"
	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

// maxBatchItems bounds one ingestion batch.
const maxBatchItems = 500

// ErrBatchTooLarge indicates a batch exceeded maxBatchItems.
var ErrBatchTooLarge = errors.New("ingest: batch too large")

// rssiAlpha is the weight of the newest sample in the rolling average.
const rssiAlpha = 0.2

// Item is one reading in an ingestion batch.
type Item struct {
	TagID     string            `json:"tag_id"`
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"ts,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ItemError records why one item was skipped.
type ItemError struct {
	Index  int    `json:"index"`
	TagID  string `json:"tag_id,omitempty"`
	Reason string `json:"reason"`
}

// Result summarises a processed batch.
type Result struct {
	GatewayID string         `json:"gateway_id"`
	Accepted  int            `json:"accepted"`
	Rejected  int            `json:"rejected"`
	Errors    []ItemError    `json:"errors,omitempty"`
	Events    []*event.Event `json:"events,omitempty"`
}

// MetricMirror receives accepted readings for time-series dashboards.
// Satisfied by the InfluxDB client.
type MetricMirror interface {
	WriteTagMetric(storeID, gatewayID, tagID, metric string, value float64, timestamp time.Time)
}

// Notifier is told about every emitted event, after it is persisted.
// Satisfied by the MQTT publisher and the WebSocket hub.
type Notifier func(evt *event.Event)

// Pipeline processes ingestion batches.
type Pipeline struct {
	storeID   string
	detection config.DetectionConfig
	registry  *registry.Service
	telemetry telemetry.Repository
	events    event.Repository
	checkout  checkout.Lookup
	mirror    MetricMirror
	notify    Notifier
	log       *logging.Logger
}

// NewPipeline creates the ingestion pipeline. mirror and notify may be
// nil; checkoutLookup may be nil to disable the paid-exit check entirely.
func NewPipeline(storeID string, detection config.DetectionConfig, reg *registry.Service,
	tel telemetry.Repository, events event.Repository, checkoutLookup checkout.Lookup,
	log *logging.Logger,
) *Pipeline {
	return &Pipeline{
		storeID:   storeID,
		detection: detection,
		registry:  reg,
		telemetry: tel,
		events:    events,
		checkout:  checkoutLookup,
		log:       log.With("component", "ingest"),
	}
}

// SetMirror attaches a time-series mirror for accepted readings.
func (p *Pipeline) SetMirror(m MetricMirror) { p.mirror = m }

// SetNotifier attaches a callback for persisted events.
func (p *Pipeline) SetNotifier(n Notifier) { p.notify = n }

// Ingest processes one batch authenticated by the gateway bearer secret.
//
// Authentication failures reject the whole batch. Item-level problems
// (unknown tag, unknown metric, disabled tag) skip the item and are
// reported in the result.
func (p *Pipeline) Ingest(ctx context.Context, secret string, items []Item) (*Result, error) {
	gw, err := p.registry.AuthenticateGateway(ctx, secret)
	if err != nil {
		return nil, err
	}
	if len(items) > maxBatchItems {
		return nil, fmt.Errorf("%w: %d items, max %d", ErrBatchTooLarge, len(items), maxBatchItems)
	}

	result := &Result{GatewayID: gw.ID}
	now := time.Now().UTC()

	// Phase one: validate items and resolve tags. Tag records are cached
	// so detection sees consistent pre-batch health values.
	readings := make([]*telemetry.Reading, 0, len(items))
	tagCache := make(map[string]*registry.Tag)
	for i, item := range items {
		reading, tag, reason := p.validateItem(ctx, gw, item, now, tagCache)
		if reason != "" {
			result.Rejected++
			result.Errors = append(result.Errors, ItemError{Index: i, TagID: item.TagID, Reason: reason})
			continue
		}
		tagCache[tag.ID] = tag
		readings = append(readings, reading)
	}

	if err := p.telemetry.AppendBatch(ctx, readings); err != nil {
		return nil, fmt.Errorf("persisting batch: %w", err)
	}
	result.Accepted = len(readings)

	// Phase two: health updates and detection over the accepted readings.
	events := p.applyReadings(ctx, gw, readings, tagCache)

	if err := p.events.CreateBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("persisting events: %w", err)
	}
	result.Events = events

	if err := p.registry.MarkGatewaySeen(ctx, gw.ID, now); err != nil {
		p.log.Warn("failed to mark gateway seen", "gateway_id", gw.ID, "error", err)
	}

	if p.mirror != nil {
		for _, r := range readings {
			p.mirror.WriteTagMetric(r.StoreID, r.GatewayID, r.TagID, r.Metric, r.Value, r.Timestamp)
		}
	}
	if p.notify != nil {
		for _, evt := range events {
			p.notify(evt)
		}
	}

	p.log.Debug("batch processed",
		"gateway_id", gw.ID, "accepted", result.Accepted,
		"rejected", result.Rejected, "events", len(events))
	return result, nil
}

// validateItem normalises one item and resolves its tag. A non-empty
// reason means the item is skipped.
func (p *Pipeline) validateItem(ctx context.Context, gw *registry.Gateway, item Item, now time.Time, tagCache map[string]*registry.Tag) (*telemetry.Reading, *registry.Tag, string) {
	if item.TagID == "" {
		return nil, nil, "missing tag_id"
	}

	tag, ok := tagCache[item.TagID]
	if !ok {
		var err error
		tag, err = p.registry.GetTag(ctx, item.TagID)
		if errors.Is(err, registry.ErrTagNotFound) {
			return nil, nil, "unknown tag"
		}
		if err != nil {
			return nil, nil, fmt.Sprintf("tag lookup failed: %v", err)
		}
	}
	if tag.StoreID != gw.StoreID {
		return nil, nil, "tag belongs to another store"
	}
	if tag.Status == registry.TagDisabled {
		return nil, nil, "tag disabled"
	}

	reading := &telemetry.Reading{
		Timestamp: item.Timestamp,
		StoreID:   p.storeID,
		GatewayID: gw.ID,
		TagID:     tag.ID,
		Metric:    item.Metric,
		Value:     item.Value,
		Unit:      item.Unit,
		Attrs:     item.Attrs,
	}
	if err := reading.Normalise(now); err != nil {
		return nil, nil, fmt.Sprintf("invalid metric %q", item.Metric)
	}
	return reading, tag, ""
}

// applyReadings runs health updates and detection, returning the events
// to persist. Failures here are logged and counted against the tag, not
// propagated, so one tag cannot poison the batch.
func (p *Pipeline) applyReadings(ctx context.Context, gw *registry.Gateway, readings []*telemetry.Reading, tagCache map[string]*registry.Tag) []*event.Event {
	events := []*event.Event{}
	portalChecked := make(map[string]bool)

	for _, r := range readings {
		tag := tagCache[r.TagID]

		if err := p.registry.Tags().TouchLastSeen(ctx, r.TagID, r.Timestamp); err != nil {
			p.log.Warn("failed to touch tag", "tag_id", r.TagID, "error", err)
		}

		switch r.Metric {
		case telemetry.MetricBattery:
			if evt := p.applyBattery(ctx, tag, r.Value); evt != nil {
				events = append(events, evt)
			}
		case telemetry.MetricRSSI:
			p.applyRSSI(ctx, tag, r.Value)
			if portalChecked[tag.ID] {
				continue
			}
			if evt := p.checkPortalCrossing(ctx, gw, tag, r.Value); evt != nil {
				events = append(events, evt)
				portalChecked[tag.ID] = true
			}
		}
	}
	return events
}

// applyBattery updates the stored level and emits battery_low for every
// reading strictly below the threshold. Readings at or above it never
// alert.
func (p *Pipeline) applyBattery(ctx context.Context, tag *registry.Tag, pct float64) *event.Event {
	value := pct
	tag.Health.BatteryPct = &value

	if err := p.registry.Tags().SetBattery(ctx, tag.ID, pct); err != nil {
		p.log.Warn("failed to update battery", "tag_id", tag.ID, "error", err)
		return nil
	}

	threshold := p.detection.BatteryLowThreshold
	if pct >= threshold {
		return nil
	}
	return event.NewBatteryLow(p.storeID, tag.ID, pct, threshold)
}

// applyRSSI folds the new sample into the tag's rolling average.
func (p *Pipeline) applyRSSI(ctx context.Context, tag *registry.Tag, value float64) {
	avg := value
	if tag.Health.RSSIAvg != nil {
		avg = (1-rssiAlpha)**tag.Health.RSSIAvg + rssiAlpha*value
	}
	tag.Health.RSSIAvg = &avg

	if err := p.registry.Tags().SetRSSI(ctx, tag.ID, avg); err != nil {
		p.log.Warn("failed to update rssi", "tag_id", tag.ID, "error", err)
	}
}

// checkPortalCrossing runs theft detection for an RSSI reading seen by a
// portal gateway with a committed calibration. It returns a
// theft_suspect or portal_pass event, or nil when no crossing fired.
// Paid crossings are recorded as portal_pass, not checkout_pass, so the
// event-history checkout fallback only ever matches POS-written passes.
func (p *Pipeline) checkPortalCrossing(ctx context.Context, gw *registry.Gateway, tag *registry.Tag, value float64) *event.Event {
	if gw.Kind != registry.KindPortal {
		return nil
	}
	cal := gw.Calibration
	if cal == nil || cal.CompletedAt == nil {
		return nil
	}

	crossed := false
	if p.detection.UseSmoothing {
		crossed = p.smoothedCrossing(ctx, gw, tag, cal)
	} else {
		// RSSI is negative dBm; stronger than the threshold means closer.
		crossed = value > cal.PortalThreshold
	}
	if !crossed {
		return nil
	}

	if p.checkout == nil {
		return event.NewTheftSuspect(p.storeID, tag.ID, gw.ID, value, cal.PortalThreshold)
	}

	found, err := p.checkout.HasCheckout(ctx, p.storeID, tag.ID)
	if err != nil {
		// No answer from any checkout source: treat the crossing as
		// unpaid so it is never silently dropped.
		p.log.Warn("checkout lookup failed, flagging crossing", "tag_id", tag.ID, "error", err)
		return event.NewTheftSuspect(p.storeID, tag.ID, gw.ID, value, cal.PortalThreshold)
	}
	if found {
		return event.NewPortalPass(p.storeID, tag.ID, gw.ID)
	}
	return event.NewTheftSuspect(p.storeID, tag.ID, gw.ID, value, cal.PortalThreshold)
}

// smoothedCrossing averages the last smoothing-window RSSI samples for
// the tag at this gateway and requires the mean to clear the threshold
// plus the hysteresis band. The current batch is already persisted, so
// the query includes it.
func (p *Pipeline) smoothedCrossing(ctx context.Context, gw *registry.Gateway, tag *registry.Tag, cal *registry.Calibration) bool {
	readings, err := p.telemetry.Query(ctx, telemetry.Filter{
		TagID:     tag.ID,
		GatewayID: gw.ID,
		Metric:    telemetry.MetricRSSI,
		Limit:     cal.SmoothingWindow,
	})
	if err != nil {
		p.log.Warn("smoothing query failed", "tag_id", tag.ID, "error", err)
		return false
	}
	if len(readings) == 0 {
		return false
	}

	var sum float64
	for _, r := range readings {
		sum += r.Value
	}
	mean := sum / float64(len(readings))
	return mean >= cal.PortalThreshold+cal.Hysteresis
}
