// Package calibration implements the RSSI zone calibration workflow for
// gateways.
//
// Calibration runs in three steps. Start lays out the zone map and the
// detection parameters. Sample fingerprints one zone at a time from the
// rssi readings a source gateway captured for a reference tag held in
// that zone, replacing any previous fingerprint from the same source.
// Commit verifies every zone has been sampled, stamps the completion
// time, and emits a calibration_complete event.
//
// The calibration block lives on the gateway record; this package never
// keeps session state of its own, so an interrupted calibration survives
// a restart.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/registry"
	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

// minSamples is the smallest reading set accepted for a zone fingerprint.
const minSamples = 5

// Trailing-window bounds for the fingerprint query.
const (
	// defaultSampleWindow is how far back Sample looks for reference
	// readings when the request does not say.
	defaultSampleWindow = 2 * time.Minute

	// maxSampleReadings caps one fingerprint query.
	maxSampleReadings = 200
)

// Sentinel errors for calibration operations.
var (
	// ErrInsufficientSamples indicates a zone was sampled with fewer than
	// minSamples readings.
	ErrInsufficientSamples = errors.New("calibration: insufficient samples")

	// ErrNoCalibration indicates Sample or Commit was called before Start.
	ErrNoCalibration = errors.New("calibration: not started")

	// ErrZoneNotFound indicates the sampled zone is not in the layout.
	ErrZoneNotFound = errors.New("calibration: zone not found")

	// ErrIncompleteCalibration indicates Commit was called with unsampled
	// zones. The message names them.
	ErrIncompleteCalibration = errors.New("calibration: incomplete")

	// ErrNoZones indicates Start was called with an empty zone layout.
	ErrNoZones = errors.New("calibration: at least one zone required")

	// ErrNoReferenceTag indicates a Sample request without a reference tag.
	ErrNoReferenceTag = errors.New("calibration: reference tag required")
)

// Quality labels for a zone fingerprint, derived from sample spread.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Placement recommendations derived from average signal strength.
const (
	PlacementOK       = "ok"
	PlacementTooClose = "too_close"
	PlacementTooFar   = "too_far"
)

// Engine drives the calibration workflow against the registry, reading
// zone fingerprints out of the telemetry store.
type Engine struct {
	registry  *registry.Service
	telemetry telemetry.Repository
	events    event.Repository
	log       *logging.Logger
}

// NewEngine creates a calibration engine.
func NewEngine(reg *registry.Service, tel telemetry.Repository, events event.Repository, log *logging.Logger) *Engine {
	return &Engine{registry: reg, telemetry: tel, events: events, log: log}
}

// ZoneSpec names a zone in the Start layout. ID is optional; one is
// generated when absent.
type ZoneSpec struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// StartRequest lays out the zones and detection parameters for a new
// calibration. Zero-valued parameters take the defaults.
type StartRequest struct {
	Zones           []ZoneSpec `json:"zones"`
	PortalThreshold float64    `json:"portal_threshold,omitempty"`
	Hysteresis      float64    `json:"hysteresis,omitempty"`
	SmoothingWindow int        `json:"smoothing_window,omitempty"`
}

// Start begins (or restarts) calibration for a gateway. Any previous
// calibration, committed or not, is replaced.
func (e *Engine) Start(ctx context.Context, actor audit.Actor, gatewayID string, req *StartRequest) (*registry.Calibration, error) {
	if len(req.Zones) == 0 {
		return nil, ErrNoZones
	}

	cal := &registry.Calibration{
		PortalThreshold: req.PortalThreshold,
		Hysteresis:      req.Hysteresis,
		SmoothingWindow: req.SmoothingWindow,
	}
	if cal.PortalThreshold == 0 {
		cal.PortalThreshold = registry.DefaultPortalThreshold
	}
	if cal.Hysteresis == 0 {
		cal.Hysteresis = registry.DefaultHysteresis
	}
	if cal.SmoothingWindow == 0 {
		cal.SmoothingWindow = registry.DefaultSmoothingWindow
	}

	for _, spec := range req.Zones {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, fmt.Errorf("%w: zone name required", ErrNoZones)
		}
		id := spec.ID
		if id == "" {
			id = "zone-" + uuid.NewString()[:8]
		}
		cal.Zones = append(cal.Zones, registry.Zone{ID: id, Name: spec.Name})
	}

	if err := e.registry.SaveCalibration(ctx, actor, gatewayID, cal); err != nil {
		return nil, err
	}

	e.log.Info("calibration started", "gateway_id", gatewayID, "zones", len(cal.Zones))
	return cal, nil
}

// SampleRequest asks for a zone fingerprint computed from the rssi
// readings a source gateway captured for a reference tag held in the
// zone. SourceGatewayID defaults to the gateway being calibrated;
// WindowSeconds defaults to the two-minute trailing window.
type SampleRequest struct {
	ZoneID          string `json:"zone_id"`
	ReferenceTagID  string `json:"reference_tag_id"`
	SourceGatewayID string `json:"source_gateway_id,omitempty"`
	WindowSeconds   int    `json:"window_seconds,omitempty"`
}

// SampleResult reports the computed fingerprint and its quality.
type SampleResult struct {
	Zone      registry.Zone          `json:"zone"`
	Reference registry.ZoneReference `json:"reference"`

	// Quality grades the sample spread: high (std < 4 dB), medium
	// (std <= 8 dB), low otherwise.
	Quality string `json:"quality"`

	// Placement flags reference tags held too close (avg > -40 dBm) or
	// too far (avg < -80 dBm) from the reader.
	Placement string `json:"placement"`
}

// Sample records a zone fingerprint from the telemetry the reference tag
// produced in the trailing window. Re-sampling a zone from the same
// source gateway replaces the previous fingerprint. Sampling a committed
// calibration reopens it.
func (e *Engine) Sample(ctx context.Context, actor audit.Actor, gatewayID string, req *SampleRequest) (*SampleResult, error) {
	if req.ReferenceTagID == "" {
		return nil, ErrNoReferenceTag
	}

	gw, err := e.registry.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	cal := gw.Calibration
	if cal == nil {
		return nil, ErrNoCalibration
	}

	zone := cal.FindZone(req.ZoneID)
	if zone == nil {
		return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, req.ZoneID)
	}

	source := req.SourceGatewayID
	if source == "" {
		source = gatewayID
	}
	window := defaultSampleWindow
	if req.WindowSeconds > 0 {
		window = time.Duration(req.WindowSeconds) * time.Second
	}

	readings, err := e.telemetry.Query(ctx, telemetry.Filter{
		StoreID:   e.registry.StoreID(),
		GatewayID: source,
		TagID:     req.ReferenceTagID,
		Metric:    telemetry.MetricRSSI,
		Since:     time.Now().UTC().Add(-window),
		Limit:     maxSampleReadings,
	})
	if err != nil {
		return nil, fmt.Errorf("querying reference readings: %w", err)
	}
	if len(readings) < minSamples {
		return nil, fmt.Errorf("%w: got %d rssi readings for tag %s in the last %s, need at least %d",
			ErrInsufficientSamples, len(readings), req.ReferenceTagID, window, minSamples)
	}

	samples := make([]float64, len(readings))
	for i, r := range readings {
		samples[i] = r.Value
	}

	avg, std := meanStd(samples)
	ref := registry.ZoneReference{
		SourceGatewayID: source,
		Avg:             avg,
		Std:             std,
		Samples:         len(samples),
	}
	zone.SetReference(ref)

	// A new sample invalidates a previous commit.
	cal.CompletedAt = nil

	if err := e.registry.SaveCalibration(ctx, actor, gatewayID, cal); err != nil {
		return nil, err
	}

	return &SampleResult{
		Zone:      *zone,
		Reference: ref,
		Quality:   qualityLabel(std),
		Placement: placementLabel(avg),
	}, nil
}

// CommitResult reports the committed calibration and any quality warnings.
type CommitResult struct {
	Calibration *registry.Calibration `json:"calibration"`
	Warnings    []string              `json:"warnings"`
}

// Commit finalises a calibration once every zone has been sampled. It
// stamps the completion time, persists the block, and emits a
// calibration_complete event. Warnings flag unstable or overlapping zones
// but do not block the commit.
func (e *Engine) Commit(ctx context.Context, actor audit.Actor, gatewayID string) (*CommitResult, error) {
	gw, err := e.registry.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	cal := gw.Calibration
	if cal == nil {
		return nil, ErrNoCalibration
	}

	if missing := cal.MissingZones(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: unsampled zones: %s", ErrIncompleteCalibration, strings.Join(missing, ", "))
	}

	now := time.Now().UTC()
	cal.CompletedAt = &now

	if err := e.registry.SaveCalibration(ctx, actor, gatewayID, cal); err != nil {
		return nil, err
	}

	evt := event.NewCalibrationComplete(e.registry.StoreID(), gatewayID, len(cal.Zones), cal.PortalThreshold)
	if err := e.events.Create(ctx, evt); err != nil {
		return nil, fmt.Errorf("recording calibration event: %w", err)
	}

	warnings := calibrationWarnings(cal)
	e.log.Info("calibration committed",
		"gateway_id", gatewayID, "zones", len(cal.Zones), "warnings", len(warnings))

	return &CommitResult{Calibration: cal, Warnings: warnings}, nil
}

// meanStd computes the mean and population standard deviation.
func meanStd(samples []float64) (float64, float64) {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}

// qualityLabel grades sample spread.
func qualityLabel(std float64) string {
	switch {
	case std < 4:
		return QualityHigh
	case std <= 8:
		return QualityMedium
	default:
		return QualityLow
	}
}

// placementLabel flags reference tags held at unusable distances.
func placementLabel(avg float64) string {
	switch {
	case avg > -40:
		return PlacementTooClose
	case avg < -80:
		return PlacementTooFar
	default:
		return PlacementOK
	}
}

// calibrationWarnings checks the committed zone map for conditions that
// degrade detection accuracy.
func calibrationWarnings(cal *registry.Calibration) []string {
	warnings := []string{}

	for _, zone := range cal.Zones {
		for _, ref := range zone.References {
			if ref.Std > 8 { //nolint:mnd // matches the low-quality threshold
				warnings = append(warnings,
					fmt.Sprintf("zone %q is unstable (std %.1f dB from %s)", zone.Name, ref.Std, ref.SourceGatewayID))
			}
			if ref.Avg >= cal.PortalThreshold {
				warnings = append(warnings,
					fmt.Sprintf("zone %q average (%.1f dBm) crosses the portal threshold (%.1f dBm)", zone.Name, ref.Avg, cal.PortalThreshold))
			}
		}
	}

	// Pairwise overlap: two zones whose 2-sigma bands intersect for the
	// same source gateway are hard to tell apart.
	for i := 0; i < len(cal.Zones); i++ {
		for j := i + 1; j < len(cal.Zones); j++ {
			if overlaps(cal.Zones[i], cal.Zones[j]) {
				warnings = append(warnings,
					fmt.Sprintf("zones %q and %q have overlapping signal ranges", cal.Zones[i].Name, cal.Zones[j].Name))
			}
		}
	}

	return warnings
}

// overlaps reports whether any shared-source 2-sigma bands of two zones
// intersect.
func overlaps(a, b registry.Zone) bool {
	for _, ra := range a.References {
		for _, rb := range b.References {
			if ra.SourceGatewayID != rb.SourceGatewayID {
				continue
			}
			aLow, aHigh := ra.Avg-2*ra.Std, ra.Avg+2*ra.Std
			bLow, bHigh := rb.Avg-2*rb.Std, rb.Avg+2*rb.Std
			if aLow <= bHigh && bLow <= aHigh {
				return true
			}
		}
	}
	return false
}
