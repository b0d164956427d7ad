package event

import (
	"context"
	"fmt"
	"time"

	"github.com/tagtrace/tagtrace-core/internal/registry"
)

// GatewayHealth summarises gateway availability.
type GatewayHealth struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// TagHealth summarises the tag population.
type TagHealth struct {
	Active     int `json:"active"`
	Lost       int `json:"lost"`
	Disabled   int `json:"disabled"`
	LowBattery int `json:"low_battery"`
	Stale      int `json:"stale"`
}

// EventHealth summarises recent alert volume.
type EventHealth struct {
	Today      int `json:"today"`
	Unresolved int `json:"unresolved"`
	Critical   int `json:"critical"`
}

// HealthReport is the store-wide health aggregate served by the API.
type HealthReport struct {
	StoreID     string        `json:"store_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Gateways    GatewayHealth `json:"gateways"`
	Tags        TagHealth     `json:"tags"`
	Events      EventHealth   `json:"events"`
	Recent      []Event       `json:"recent"`
	Issues      []string      `json:"issues"`
}

// recentEventCount is how many recent events the report includes.
const recentEventCount = 10

// HealthEngine assembles the store health report from the registry and
// event stores.
type HealthEngine struct {
	storeID          string
	gateways         registry.GatewayRepository
	tags             registry.TagRepository
	events           Repository
	batteryThreshold float64
	staleAfter       time.Duration
}

// NewHealthEngine creates the health aggregator. batteryThreshold is the
// percentage below which a tag counts as low battery; staleAfter is how
// long a silent tag is tolerated before it counts as stale.
func NewHealthEngine(storeID string, gateways registry.GatewayRepository,
	tags registry.TagRepository, events Repository,
	batteryThreshold float64, staleAfter time.Duration,
) *HealthEngine {
	return &HealthEngine{
		storeID:          storeID,
		gateways:         gateways,
		tags:             tags,
		events:           events,
		batteryThreshold: batteryThreshold,
		staleAfter:       staleAfter,
	}
}

// Report assembles the current health snapshot. Each section queries live
// state; nothing is cached.
func (h *HealthEngine) Report(ctx context.Context) (*HealthReport, error) {
	now := time.Now().UTC()
	report := &HealthReport{
		StoreID:     h.storeID,
		GeneratedAt: now,
		Issues:      []string{},
	}

	gatewayCounts, err := h.gateways.CountByStatus(ctx, h.storeID)
	if err != nil {
		return nil, fmt.Errorf("gateway counts: %w", err)
	}
	report.Gateways.Online = gatewayCounts[registry.StatusOnline]
	report.Gateways.Offline = gatewayCounts[registry.StatusOffline]
	report.Gateways.Total = report.Gateways.Online + report.Gateways.Offline

	tagCounts, err := h.tags.CountByStatus(ctx, h.storeID)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	report.Tags.Active = tagCounts[registry.TagActive]
	report.Tags.Lost = tagCounts[registry.TagLost]
	report.Tags.Disabled = tagCounts[registry.TagDisabled]

	if report.Tags.LowBattery, err = h.tags.CountLowBattery(ctx, h.storeID, h.batteryThreshold); err != nil {
		return nil, fmt.Errorf("low battery count: %w", err)
	}
	if report.Tags.Stale, err = h.tags.CountStale(ctx, h.storeID, now.Add(-h.staleAfter)); err != nil {
		return nil, fmt.Errorf("stale tag count: %w", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if report.Events.Today, err = h.events.CountSince(ctx, h.storeID, midnight); err != nil {
		return nil, fmt.Errorf("event count today: %w", err)
	}
	if report.Events.Unresolved, err = h.events.CountUnresolved(ctx, h.storeID, ""); err != nil {
		return nil, fmt.Errorf("unresolved count: %w", err)
	}
	if report.Events.Critical, err = h.events.CountUnresolved(ctx, h.storeID, SeverityCritical); err != nil {
		return nil, fmt.Errorf("critical count: %w", err)
	}

	recent, err := h.events.List(ctx, Filter{StoreID: h.storeID, Limit: recentEventCount})
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	report.Recent = recent.Events

	report.Issues = h.issues(report)
	return report, nil
}

// issues derives human-readable problem lines from the counted state.
func (h *HealthEngine) issues(report *HealthReport) []string {
	issues := []string{}

	if report.Gateways.Offline > 0 {
		issues = append(issues, fmt.Sprintf("%d gateway(s) offline", report.Gateways.Offline))
	}
	if report.Events.Critical > 0 {
		issues = append(issues, fmt.Sprintf("%d unresolved critical event(s)", report.Events.Critical))
	}
	if report.Tags.LowBattery > 0 {
		issues = append(issues, fmt.Sprintf("%d tag(s) below %.0f%% battery", report.Tags.LowBattery, h.batteryThreshold))
	}
	if report.Tags.Stale > 0 {
		issues = append(issues, fmt.Sprintf("%d tag(s) silent for over %s", report.Tags.Stale, h.staleAfter))
	}
	if report.Tags.Lost > 0 {
		issues = append(issues, fmt.Sprintf("%d tag(s) marked lost", report.Tags.Lost))
	}
	return issues
}
