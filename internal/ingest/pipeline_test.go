package ingest

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/registry"
	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

var testActor = audit.Actor{ID: "usr-test", Role: "manager"}

// fakeCheckout is a scriptable checkout source.
type fakeCheckout struct {
	checkouts map[string]bool
	err       error
}

func (f *fakeCheckout) HasCheckout(_ context.Context, _, tagID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.checkouts[tagID], nil
}

// fakeMirror records mirrored readings.
type fakeMirror struct {
	points int
}

func (f *fakeMirror) WriteTagMetric(_, _, _, _ string, _ float64, _ time.Time) {
	f.points++
}

type testEnv struct {
	pipeline  *Pipeline
	registry  *registry.Service
	telemetry *telemetry.SQLiteRepository
	events    *event.SQLiteRepository
	checkout  *fakeCheckout
	secret    string
	gatewayID string
}

func testDetection() config.DetectionConfig {
	return config.DetectionConfig{
		BatteryLowThreshold: 20,
		CheckoutWindow:      300,
		CheckoutTimeout:     2,
		UseSmoothing:        false,
		StaleTagHours:       24,
	}
}

// setupPipeline builds a full in-memory stack with one portal gateway and
// one issued tag ("tag" return is its ID).
func setupPipeline(t *testing.T, detection config.DetectionConfig) (*testEnv, string) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE gateways (
			id           TEXT PRIMARY KEY,
			store_id     TEXT NOT NULL,
			name         TEXT NOT NULL,
			kind         TEXT NOT NULL,
			pos_x        REAL NOT NULL DEFAULT 0,
			pos_y        REAL NOT NULL DEFAULT 0,
			zone_hint    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'offline',
			disabled     INTEGER NOT NULL DEFAULT 0,
			secret_hash  TEXT NOT NULL UNIQUE,
			calibration  TEXT,
			notes        TEXT NOT NULL DEFAULT '',
			last_seen_at TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);
		CREATE TABLE tags (
			id              TEXT PRIMARY KEY,
			store_id        TEXT NOT NULL,
			product_id      TEXT NOT NULL,
			tech            TEXT NOT NULL,
			serial          TEXT NOT NULL UNIQUE,
			deep_link       TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'active',
			battery_pct     REAL,
			rssi_avg        REAL,
			error_count     INTEGER NOT NULL DEFAULT 0,
			tx_power        INTEGER,
			beacon_interval INTEGER,
			last_seen_at    TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);
		CREATE TABLE readings (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT NOT NULL,
			store_id   TEXT NOT NULL,
			gateway_id TEXT NOT NULL,
			tag_id     TEXT NOT NULL,
			metric     TEXT NOT NULL,
			value      REAL NOT NULL,
			unit       TEXT NOT NULL DEFAULT '',
			attrs      TEXT
		);
		CREATE TABLE events (
			id       TEXT PRIMARY KEY,
			ts       TEXT NOT NULL,
			store_id TEXT NOT NULL,
			type     TEXT NOT NULL,
			severity TEXT NOT NULL,
			context  TEXT NOT NULL DEFAULT '{}',
			resolved INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			store_id    TEXT NOT NULL,
			actor_id    TEXT NOT NULL,
			actor_role  TEXT NOT NULL DEFAULT '',
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL DEFAULT '',
			before_json TEXT,
			after_json  TEXT,
			note        TEXT NOT NULL DEFAULT '',
			ip_address  TEXT NOT NULL DEFAULT '',
			client      TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create test schema: %v", err)
	}

	log := &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	reg := registry.NewService("store-001",
		registry.NewSQLiteGatewayRepository(db),
		registry.NewSQLiteTagRepository(db),
		nil, audit.NewSQLiteRepository(db), log)
	tel := telemetry.NewSQLiteRepository(db)
	events := event.NewSQLiteRepository(db)
	chk := &fakeCheckout{checkouts: map[string]bool{}}

	pipeline := NewPipeline("store-001", detection, reg, tel, events, chk, log)

	ctx := context.Background()
	provisioned, err := reg.ProvisionGateway(ctx, testActor, &registry.ProvisionGatewayRequest{
		Name: "Exit Portal", Kind: registry.KindPortal,
	})
	if err != nil {
		t.Fatalf("provisioning gateway: %v", err)
	}
	tag, err := reg.IssueTag(ctx, testActor, &registry.IssueTagRequest{
		ProductID: "prod-1", Tech: registry.TechBLE, Serial: "SER-PIPE-1",
	})
	if err != nil {
		t.Fatalf("issuing tag: %v", err)
	}

	return &testEnv{
		pipeline:  pipeline,
		registry:  reg,
		telemetry: tel,
		events:    events,
		checkout:  chk,
		secret:    provisioned.Secret,
		gatewayID: provisioned.Gateway.ID,
	}, tag.ID
}

// commitCalibration gives the portal gateway a committed zone map with a
// -60 dBm threshold.
func commitCalibration(t *testing.T, env *testEnv) {
	t.Helper()
	now := time.Now().UTC()
	cal := &registry.Calibration{
		Zones: []registry.Zone{{
			ID: "zone-floor", Name: "Shop Floor",
			References: []registry.ZoneReference{{SourceGatewayID: env.gatewayID, Avg: -72, Std: 2, Samples: 6}},
		}},
		PortalThreshold: -60,
		Hysteresis:      6,
		SmoothingWindow: 3,
		CompletedAt:     &now,
	}
	if err := env.registry.SaveCalibration(context.Background(), testActor, env.gatewayID, cal); err != nil {
		t.Fatalf("saving calibration: %v", err)
	}
}

func TestPipeline_Ingest_Auth(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()
	items := []Item{{TagID: tagID, Metric: "rssi", Value: -70}}

	t.Run("invalid credential rejects whole batch", func(t *testing.T) {
		_, err := env.pipeline.Ingest(ctx, "wrong-secret", items)
		if !errors.Is(err, registry.ErrInvalidCredential) {
			t.Errorf("error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("disabled gateway rejects whole batch", func(t *testing.T) {
		disabled := true
		if _, err := env.registry.UpdateGateway(ctx, testActor, env.gatewayID, &registry.UpdateGatewayRequest{Disabled: &disabled}); err != nil {
			t.Fatalf("disabling gateway: %v", err)
		}
		defer func() {
			enabled := false
			env.registry.UpdateGateway(ctx, testActor, env.gatewayID, &registry.UpdateGatewayRequest{Disabled: &enabled}) //nolint:errcheck // test cleanup
		}()

		_, err := env.pipeline.Ingest(ctx, env.secret, items)
		if !errors.Is(err, registry.ErrGatewayDisabled) {
			t.Errorf("error = %v, want ErrGatewayDisabled", err)
		}
	})

	t.Run("valid credential accepts", func(t *testing.T) {
		result, err := env.pipeline.Ingest(ctx, env.secret, items)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if result.Accepted != 1 {
			t.Errorf("Accepted = %d, want 1", result.Accepted)
		}
		if result.GatewayID != env.gatewayID {
			t.Errorf("GatewayID = %q, want %q", result.GatewayID, env.gatewayID)
		}
	})
}

func TestPipeline_Ingest_ItemIsolation(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()

	items := []Item{
		{TagID: tagID, Metric: "rssi", Value: -70},
		{TagID: "tag-unknown", Metric: "rssi", Value: -60},
		{TagID: tagID, Metric: "humidity", Value: 40},
		{Metric: "rssi", Value: -60},
		{TagID: tagID, Metric: "battery", Value: 85},
	}

	result, err := env.pipeline.Ingest(ctx, env.secret, items)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Accepted != 2 {
		t.Errorf("Accepted = %d, want 2", result.Accepted)
	}
	if result.Rejected != 3 {
		t.Errorf("Rejected = %d, want 3", result.Rejected)
	}
	if len(result.Errors) != 3 {
		t.Fatalf("len(Errors) = %d, want 3", len(result.Errors))
	}
	if result.Errors[0].Reason != "unknown tag" {
		t.Errorf("Errors[0].Reason = %q", result.Errors[0].Reason)
	}

	// Accepted readings are persisted
	readings, err := env.telemetry.Query(ctx, telemetry.Filter{TagID: tagID})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(readings) != 2 {
		t.Errorf("persisted readings = %d, want 2", len(readings))
	}
}

func TestPipeline_Ingest_DisabledTag(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()

	disabled := registry.TagDisabled
	if _, err := env.registry.UpdateTag(ctx, testActor, tagID, &registry.UpdateTagRequest{Status: &disabled}); err != nil {
		t.Fatalf("disabling tag: %v", err)
	}

	result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -70}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Rejected != 1 || result.Errors[0].Reason != "tag disabled" {
		t.Errorf("result = %+v", result)
	}
}

func TestPipeline_Ingest_CrossStoreTag(t *testing.T) {
	env, _ := setupPipeline(t, testDetection())
	ctx := context.Background()

	now := time.Now().UTC()
	foreign := &registry.Tag{
		ID: "tag-elsewhere", StoreID: "store-002", ProductID: "prod-x",
		Tech: registry.TechBLE, Serial: "SER-ELSEWHERE", Status: registry.TagActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := env.registry.Tags().Create(ctx, foreign); err != nil {
		t.Fatalf("seeding foreign tag: %v", err)
	}

	result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: foreign.ID, Metric: "rssi", Value: -70}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Rejected != 1 || result.Errors[0].Reason != "tag belongs to another store" {
		t.Errorf("result = %+v, want the foreign tag rejected", result)
	}
}

func TestPipeline_BatteryDetection(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()

	ingest := func(pct float64) *Result {
		t.Helper()
		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "battery", Value: pct}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		return result
	}

	// Healthy reading: no alert
	if result := ingest(80); len(result.Events) != 0 {
		t.Errorf("events = %d, want 0 for healthy battery", len(result.Events))
	}

	// Exactly at the threshold is still healthy
	if result := ingest(20); len(result.Events) != 0 {
		t.Errorf("events = %d, want 0 at the threshold boundary", len(result.Events))
	}

	// Below threshold alerts
	result := ingest(15)
	if len(result.Events) != 1 || result.Events[0].Type != event.TypeBatteryLow {
		t.Fatalf("events = %+v, want one battery_low", result.Events)
	}

	// Every low reading alerts, even while the level stays low
	if result := ingest(15); len(result.Events) != 1 {
		t.Errorf("events = %d, want 1 for a repeated low reading", len(result.Events))
	}
	if result := ingest(12); len(result.Events) != 1 {
		t.Errorf("events = %d, want 1 while still low", len(result.Events))
	}

	// Recovery silences, a new low reading alerts again
	ingest(90)
	if result := ingest(10); len(result.Events) != 1 {
		t.Errorf("events = %d, want 1 after recovery", len(result.Events))
	}

	// Stored battery level tracks the latest reading
	tag, err := env.registry.GetTag(ctx, tagID)
	if err != nil {
		t.Fatalf("GetTag() error = %v", err)
	}
	if tag.Health.BatteryPct == nil || *tag.Health.BatteryPct != 10 {
		t.Errorf("BatteryPct = %v, want 10", tag.Health.BatteryPct)
	}
}

func TestPipeline_TheftDetection_Naive(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()
	commitCalibration(t, env)

	t.Run("below threshold does not fire", func(t *testing.T) {
		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -70}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if len(result.Events) != 0 {
			t.Errorf("events = %+v, want none", result.Events)
		}
	})

	t.Run("crossing without checkout flags theft", func(t *testing.T) {
		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -50}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if len(result.Events) != 1 {
			t.Fatalf("events = %d, want 1", len(result.Events))
		}
		evt := result.Events[0]
		if evt.Type != event.TypeTheftSuspect {
			t.Errorf("Type = %q, want theft_suspect", evt.Type)
		}
		if evt.Context["reason"] != "exit_without_checkout" {
			t.Errorf("reason = %v", evt.Context["reason"])
		}
	})

	t.Run("crossing with checkout passes", func(t *testing.T) {
		env.checkout.checkouts[tagID] = true
		defer delete(env.checkout.checkouts, tagID)

		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -50}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if len(result.Events) != 1 || result.Events[0].Type != event.TypePortalPass {
			t.Errorf("events = %+v, want one portal_pass", result.Events)
		}

		// The pass event must not feed the checkout-window fallback
		found, err := env.events.HasRecentCheckout(ctx, "store-001", tagID, time.Hour)
		if err != nil {
			t.Fatalf("HasRecentCheckout() error = %v", err)
		}
		if found {
			t.Error("portal_pass should not count as a recent checkout")
		}
	})

	t.Run("lookup failure degrades to theft flag", func(t *testing.T) {
		env.checkout.err = errors.New("redis down")
		defer func() { env.checkout.err = nil }()

		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -50}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if len(result.Events) != 1 || result.Events[0].Type != event.TypeTheftSuspect {
			t.Errorf("events = %+v, want one theft_suspect", result.Events)
		}
	})
}

func TestPipeline_TheftDetection_RequiresCommittedCalibration(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()

	// No calibration at all: strong signal does not fire
	result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: -40}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("events = %+v, want none without calibration", result.Events)
	}
}

func TestPipeline_TheftDetection_Smoothed(t *testing.T) {
	detection := testDetection()
	detection.UseSmoothing = true
	env, tagID := setupPipeline(t, detection)
	ctx := context.Background()
	commitCalibration(t, env) // threshold -60, hysteresis 6, window 3

	ingest := func(rssi float64) *Result {
		t.Helper()
		result, err := env.pipeline.Ingest(ctx, env.secret, []Item{{TagID: tagID, Metric: "rssi", Value: rssi}})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		return result
	}

	// One strong spike: window mean (-50) still below -54 once older weak
	// readings pull it down.
	ingest(-70)
	ingest(-70)
	if result := ingest(-40); len(result.Events) != 0 {
		t.Errorf("events = %+v, want none for a single spike", result.Events)
	}

	// Sustained strong signal: window mean clears threshold + hysteresis
	ingest(-45)
	if result := ingest(-45); len(result.Events) != 1 {
		t.Errorf("events = %d, want 1 for sustained crossing", len(result.Events))
	}
}

func TestPipeline_SideEffects(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())
	ctx := context.Background()

	mirror := &fakeMirror{}
	env.pipeline.SetMirror(mirror)
	var notified []*event.Event
	env.pipeline.SetNotifier(func(evt *event.Event) { notified = append(notified, evt) })

	_, err := env.pipeline.Ingest(ctx, env.secret, []Item{
		{TagID: tagID, Metric: "rssi", Value: -65},
		{TagID: tagID, Metric: "battery", Value: 5},
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if mirror.points != 2 {
		t.Errorf("mirrored points = %d, want 2", mirror.points)
	}
	if len(notified) != 1 || notified[0].Type != event.TypeBatteryLow {
		t.Errorf("notified = %+v, want one battery_low", notified)
	}

	// Gateway is marked online with a last-seen timestamp
	gw, err := env.registry.GetGateway(ctx, env.gatewayID)
	if err != nil {
		t.Fatalf("GetGateway() error = %v", err)
	}
	if gw.Status != registry.StatusOnline {
		t.Errorf("Status = %q, want online", gw.Status)
	}
	if gw.LastSeenAt == nil {
		t.Error("LastSeenAt should be set")
	}

	// Tag last-seen and rolling rssi updated
	tag, err := env.registry.GetTag(ctx, tagID)
	if err != nil {
		t.Fatalf("GetTag() error = %v", err)
	}
	if tag.LastSeenAt == nil {
		t.Error("tag LastSeenAt should be set")
	}
	if tag.Health.RSSIAvg == nil || *tag.Health.RSSIAvg != -65 {
		t.Errorf("RSSIAvg = %v, want -65 for first sample", tag.Health.RSSIAvg)
	}

	// Events are persisted, not just returned
	listed, err := env.events.List(ctx, event.Filter{StoreID: "store-001", Type: event.TypeBatteryLow})
	if err != nil {
		t.Fatalf("event List() error = %v", err)
	}
	if listed.Total != 1 {
		t.Errorf("persisted battery_low events = %d, want 1", listed.Total)
	}
}

func TestPipeline_BatchTooLarge(t *testing.T) {
	env, tagID := setupPipeline(t, testDetection())

	items := make([]Item, maxBatchItems+1)
	for i := range items {
		items[i] = Item{TagID: tagID, Metric: "rssi", Value: -70}
	}
	_, err := env.pipeline.Ingest(context.Background(), env.secret, items)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("error = %v, want ErrBatchTooLarge", err)
	}
}

func TestPipeline_EmptyBatch(t *testing.T) {
	env, _ := setupPipeline(t, testDetection())

	result, err := env.pipeline.Ingest(context.Background(), env.secret, nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.Accepted != 0 || result.Rejected != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}
