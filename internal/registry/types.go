package registry

import "time"

// GatewayKind classifies how a gateway is deployed in the store.
type GatewayKind string

// Gateway kinds.
const (
	// KindFixed is a ceiling or shelf mounted reader covering a zone.
	KindFixed GatewayKind = "fixed"

	// KindPortal is a door-frame reader at an exit. Portal gateways drive
	// the theft detection comparison.
	KindPortal GatewayKind = "portal"

	// KindMobile is a handheld reader used for inventory scans.
	KindMobile GatewayKind = "mobile"
)

// GatewayStatus is the reported availability of a gateway.
type GatewayStatus string

// Gateway statuses.
const (
	StatusOnline  GatewayStatus = "online"
	StatusOffline GatewayStatus = "offline"
)

// Position locates a gateway on the store floor plan.
type Position struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone string  `json:"zone,omitempty"`
}

// Gateway represents a reader device that reports tag telemetry.
// The secret hash is never serialised; the plaintext secret exists only
// in the provisioning response.
type Gateway struct {
	ID      string      `json:"id"`
	StoreID string      `json:"store_id"`
	Name    string      `json:"name"`
	Kind    GatewayKind `json:"kind"`

	Position Position      `json:"position"`
	Status   GatewayStatus `json:"status"`
	Disabled bool          `json:"disabled"`

	// SecretHash is the SHA-256 hex digest of the gateway's bearer secret.
	SecretHash string `json:"-"`

	// Calibration holds the RSSI zone map. Nil until calibration has been
	// started at least once.
	Calibration *Calibration `json:"calibration,omitempty"`

	Notes      string     `json:"notes,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Calibration is the persisted RSSI zone map for a gateway.
//
// The calibration workflow mutates this block in place: Start resets the
// zones, Sample fills in per-zone signal references, Commit stamps the
// thresholds and completion time. Concurrent sessions are last-write-wins
// per zone.
type Calibration struct {
	Zones []Zone `json:"zones"`

	// PortalThreshold is the RSSI value (dBm) above which a tag is
	// considered to be at the portal. Stronger signals are greater values.
	PortalThreshold float64 `json:"portal_threshold"`

	// Hysteresis is the band (dB) around the threshold used by the
	// smoothed comparison to suppress flapping.
	Hysteresis float64 `json:"hysteresis"`

	// SmoothingWindow is the number of trailing samples the smoothed
	// comparison averages over.
	SmoothingWindow int `json:"smoothing_window"`

	// CompletedAt is set by Commit. Nil while sampling is in progress.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Default calibration parameters applied by Start.
const (
	DefaultPortalThreshold = -60.0
	DefaultHysteresis      = 6.0
	DefaultSmoothingWindow = 5
)

// Zone is a named region of the store with signal-strength references
// collected during calibration.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// References holds one entry per source gateway that sampled this
	// zone. Re-sampling replaces the entry for that gateway.
	References []ZoneReference `json:"references"`
}

// ZoneReference is a sampled signal-strength fingerprint for a zone as
// seen from one gateway.
type ZoneReference struct {
	SourceGatewayID string  `json:"source_gateway_id"`
	Avg             float64 `json:"avg"`
	Std             float64 `json:"std"`
	Samples         int     `json:"samples"`
}

// Complete reports whether every zone has at least one reference.
func (c *Calibration) Complete() bool {
	if c == nil || len(c.Zones) == 0 {
		return false
	}
	for _, z := range c.Zones {
		if len(z.References) == 0 {
			return false
		}
	}
	return true
}

// MissingZones returns the names of zones without any references.
func (c *Calibration) MissingZones() []string {
	if c == nil {
		return nil
	}
	var missing []string
	for _, z := range c.Zones {
		if len(z.References) == 0 {
			missing = append(missing, z.Name)
		}
	}
	return missing
}

// FindZone returns a pointer to the zone with the given ID, or nil.
func (c *Calibration) FindZone(zoneID string) *Zone {
	if c == nil {
		return nil
	}
	for i := range c.Zones {
		if c.Zones[i].ID == zoneID {
			return &c.Zones[i]
		}
	}
	return nil
}

// SetReference replaces the zone's reference for the given source gateway,
// appending if none exists. Last writer wins.
func (z *Zone) SetReference(ref ZoneReference) {
	for i := range z.References {
		if z.References[i].SourceGatewayID == ref.SourceGatewayID {
			z.References[i] = ref
			return
		}
	}
	z.References = append(z.References, ref)
}

// TagTech is the radio technology of a tag.
type TagTech string

// Tag technologies.
const (
	TechBLE  TagTech = "ble"
	TechRFID TagTech = "rfid"
	TechQR   TagTech = "qr"
)

// TagStatus is the lifecycle state of a tag.
type TagStatus string

// Tag statuses.
const (
	TagActive   TagStatus = "active"
	TagLost     TagStatus = "lost"
	TagDisabled TagStatus = "disabled"
)

// TagHealth aggregates the rolling health fields updated by ingestion.
// Fields are pointers because a freshly issued tag has reported nothing.
type TagHealth struct {
	BatteryPct *float64 `json:"battery_pct,omitempty"`
	RSSIAvg    *float64 `json:"rssi_avg,omitempty"`
	ErrorCount int      `json:"error_count"`
}

// RadioConfig holds optional per-tag radio tuning.
type RadioConfig struct {
	TxPower          *int `json:"tx_power,omitempty"`
	BeaconIntervalMs *int `json:"beacon_interval_ms,omitempty"`
}

// Tag represents a physical tag attached to a product.
type Tag struct {
	ID        string  `json:"id"`
	StoreID   string  `json:"store_id"`
	ProductID string  `json:"product_id"`
	Tech      TagTech `json:"tech"`

	// Serial is the hardware serial printed on the tag. Unique system-wide.
	Serial string `json:"serial"`

	// DeepLink is an optional URL encoded on QR tags.
	DeepLink string `json:"deep_link,omitempty"`

	Status TagStatus   `json:"status"`
	Health TagHealth   `json:"health"`
	Radio  RadioConfig `json:"radio,omitempty"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
