package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
)

// fakeProductChecker answers product existence from a fixed set.
type fakeProductChecker struct {
	products map[string]bool
	err      error
}

func (f *fakeProductChecker) ProductExists(_ context.Context, _, productID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.products[productID], nil
}

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// setupService builds a registry service backed by in-memory SQLite,
// including the audit trail.
func setupService(t *testing.T, products *fakeProductChecker) (*Service, audit.Repository, *sql.DB) {
	t.Helper()

	db := setupTestDB(t)
	auditSchema := `
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
	if _, err := db.Exec(auditSchema); err != nil {
		t.Fatalf("failed to create audit schema: %v", err)
	}

	auditRepo := audit.NewSQLiteRepository(db)
	var checker ProductChecker
	if products != nil {
		checker = products
	}
	svc := NewService("store-001",
		NewSQLiteGatewayRepository(db),
		NewSQLiteTagRepository(db),
		checker, auditRepo, testLogger())
	return svc, auditRepo, db
}

var testActor = audit.Actor{ID: "usr-manager1", Role: "manager"}

func TestService_ProvisionGateway(t *testing.T) {
	svc, auditRepo, _ := setupService(t, nil)
	ctx := context.Background()

	result, err := svc.ProvisionGateway(ctx, testActor, &ProvisionGatewayRequest{
		Name:     "Front Portal",
		Kind:     KindPortal,
		Position: Position{X: 0, Y: 0, Zone: "entrance"},
	})
	if err != nil {
		t.Fatalf("ProvisionGateway() error = %v", err)
	}

	if !strings.HasPrefix(result.Gateway.ID, "gw-") {
		t.Errorf("ID = %q, want gw- prefix", result.Gateway.ID)
	}
	if len(result.Secret) != 64 {
		t.Errorf("len(Secret) = %d, want 64 hex chars", len(result.Secret))
	}
	if result.Gateway.SecretHash != HashSecret(result.Secret) {
		t.Error("stored hash does not match issued secret")
	}
	if result.Gateway.Status != StatusOffline {
		t.Errorf("Status = %q, want offline", result.Gateway.Status)
	}

	// Secret must not appear in the serialised gateway
	if strings.Contains(result.Gateway.Notes, result.Secret) {
		t.Error("secret leaked into gateway fields")
	}

	// Provisioning writes an audit entry
	entries, err := auditRepo.List(ctx, audit.Filter{Action: "gateway.provision"})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if entries.Total != 1 {
		t.Fatalf("audit entries = %d, want 1", entries.Total)
	}
	if entries.Entries[0].EntityID != result.Gateway.ID {
		t.Errorf("audit EntityID = %q, want %q", entries.Entries[0].EntityID, result.Gateway.ID)
	}
}

func TestService_ProvisionGateway_Validation(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *ProvisionGatewayRequest
	}{
		{"missing name", &ProvisionGatewayRequest{Kind: KindFixed}},
		{"bad kind", &ProvisionGatewayRequest{Name: "x", Kind: "drone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ProvisionGateway(ctx, testActor, tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestService_AuthenticateGateway(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	result, err := svc.ProvisionGateway(ctx, testActor, &ProvisionGatewayRequest{
		Name: "Shelf Reader", Kind: KindFixed,
	})
	if err != nil {
		t.Fatalf("ProvisionGateway() error = %v", err)
	}

	t.Run("valid secret", func(t *testing.T) {
		gw, err := svc.AuthenticateGateway(ctx, result.Secret)
		if err != nil {
			t.Fatalf("AuthenticateGateway() error = %v", err)
		}
		if gw.ID != result.Gateway.ID {
			t.Errorf("ID = %q, want %q", gw.ID, result.Gateway.ID)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := svc.AuthenticateGateway(ctx, "not-the-secret")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := svc.AuthenticateGateway(ctx, "")
		if !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("disabled gateway", func(t *testing.T) {
		disabled := true
		if _, err := svc.UpdateGateway(ctx, testActor, result.Gateway.ID, &UpdateGatewayRequest{Disabled: &disabled}); err != nil {
			t.Fatalf("UpdateGateway() error = %v", err)
		}

		_, err := svc.AuthenticateGateway(ctx, result.Secret)
		if !errors.Is(err, ErrGatewayDisabled) {
			t.Errorf("error = %v, want ErrGatewayDisabled", err)
		}
	})
}

func TestService_UpdateGateway(t *testing.T) {
	svc, auditRepo, _ := setupService(t, nil)
	ctx := context.Background()

	result, err := svc.ProvisionGateway(ctx, testActor, &ProvisionGatewayRequest{
		Name: "Aisle 3", Kind: KindFixed, Notes: "original",
	})
	if err != nil {
		t.Fatalf("ProvisionGateway() error = %v", err)
	}

	name := "Aisle 4"
	notes := "relocated"
	gw, err := svc.UpdateGateway(ctx, testActor, result.Gateway.ID, &UpdateGatewayRequest{
		Name: &name, Notes: &notes,
	})
	if err != nil {
		t.Fatalf("UpdateGateway() error = %v", err)
	}
	if gw.Name != "Aisle 4" || gw.Notes != "relocated" {
		t.Errorf("gateway = %+v", gw)
	}

	// Audit entry carries before/after snapshots
	entries, err := auditRepo.List(ctx, audit.Filter{Action: "gateway.update"})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if entries.Total != 1 {
		t.Fatalf("audit entries = %d, want 1", entries.Total)
	}
	entry := entries.Entries[0]
	if entry.Before["name"] != "Aisle 3" || entry.After["name"] != "Aisle 4" {
		t.Errorf("snapshots: before=%v after=%v", entry.Before, entry.After)
	}

	t.Run("empty update rejected", func(t *testing.T) {
		_, err := svc.UpdateGateway(ctx, testActor, result.Gateway.ID, &UpdateGatewayRequest{})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("missing gateway", func(t *testing.T) {
		_, err := svc.UpdateGateway(ctx, testActor, "gw-missing", &UpdateGatewayRequest{Name: &name})
		if !errors.Is(err, ErrGatewayNotFound) {
			t.Errorf("error = %v, want ErrGatewayNotFound", err)
		}
	})
}

func TestService_IssueTag(t *testing.T) {
	checker := &fakeProductChecker{products: map[string]bool{"prod-100": true}}
	svc, auditRepo, _ := setupService(t, checker)
	ctx := context.Background()

	tag, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
		ProductID: "prod-100", Tech: TechBLE, Serial: "SER-0001",
	})
	if err != nil {
		t.Fatalf("IssueTag() error = %v", err)
	}
	if !strings.HasPrefix(tag.ID, "tag-") {
		t.Errorf("ID = %q, want tag- prefix", tag.ID)
	}
	if tag.Status != TagActive {
		t.Errorf("Status = %q, want active", tag.Status)
	}

	entries, err := auditRepo.List(ctx, audit.Filter{Action: "tag.issue"})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if entries.Total != 1 {
		t.Errorf("audit entries = %d, want 1", entries.Total)
	}

	t.Run("unknown product", func(t *testing.T) {
		_, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
			ProductID: "prod-999", Tech: TechBLE, Serial: "SER-0002",
		})
		if !errors.Is(err, ErrProductNotFound) {
			t.Errorf("error = %v, want ErrProductNotFound", err)
		}
	})

	t.Run("duplicate serial", func(t *testing.T) {
		_, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
			ProductID: "prod-100", Tech: TechRFID, Serial: "SER-0001",
		})
		if !errors.Is(err, ErrSerialExists) {
			t.Errorf("error = %v, want ErrSerialExists", err)
		}
	})

	t.Run("qr requires deep link", func(t *testing.T) {
		_, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
			ProductID: "prod-100", Tech: TechQR, Serial: "SER-0003",
		})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})

	t.Run("catalog failure propagates", func(t *testing.T) {
		checker.err = errors.New("catalog unreachable")
		defer func() { checker.err = nil }()

		_, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
			ProductID: "prod-100", Tech: TechBLE, Serial: "SER-0004",
		})
		if err == nil {
			t.Error("IssueTag() should fail when catalog check fails")
		}
	})
}

func TestService_UpdateTag(t *testing.T) {
	checker := &fakeProductChecker{products: map[string]bool{"prod-100": true, "prod-200": true}}
	svc, _, _ := setupService(t, checker)
	ctx := context.Background()

	tag, err := svc.IssueTag(ctx, testActor, &IssueTagRequest{
		ProductID: "prod-100", Tech: TechBLE, Serial: "SER-0001",
	})
	if err != nil {
		t.Fatalf("IssueTag() error = %v", err)
	}

	lost := TagLost
	product := "prod-200"
	updated, err := svc.UpdateTag(ctx, testActor, tag.ID, &UpdateTagRequest{
		Status: &lost, ProductID: &product,
	})
	if err != nil {
		t.Fatalf("UpdateTag() error = %v", err)
	}
	if updated.Status != TagLost {
		t.Errorf("Status = %q, want lost", updated.Status)
	}
	if updated.ProductID != "prod-200" {
		t.Errorf("ProductID = %q, want prod-200", updated.ProductID)
	}

	t.Run("invalid status", func(t *testing.T) {
		bad := TagStatus("vanished")
		_, err := svc.UpdateTag(ctx, testActor, tag.ID, &UpdateTagRequest{Status: &bad})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("error = %v, want ErrValidation", err)
		}
	})
}

func TestService_MarkGatewaySeen(t *testing.T) {
	svc, _, _ := setupService(t, nil)
	ctx := context.Background()

	result, err := svc.ProvisionGateway(ctx, testActor, &ProvisionGatewayRequest{
		Name: "Portal", Kind: KindPortal,
	})
	if err != nil {
		t.Fatalf("ProvisionGateway() error = %v", err)
	}

	if err := svc.MarkGatewaySeen(ctx, result.Gateway.ID, result.Gateway.CreatedAt); err != nil {
		t.Fatalf("MarkGatewaySeen() error = %v", err)
	}

	gw, err := svc.GetGateway(ctx, result.Gateway.ID)
	if err != nil {
		t.Fatalf("GetGateway() error = %v", err)
	}
	if gw.Status != StatusOnline {
		t.Errorf("Status = %q, want online", gw.Status)
	}

	if err := svc.MarkGatewayOffline(ctx, result.Gateway.ID); err != nil {
		t.Fatalf("MarkGatewayOffline() error = %v", err)
	}
	gw, err = svc.GetGateway(ctx, result.Gateway.ID)
	if err != nil {
		t.Fatalf("GetGateway() error = %v", err)
	}
	if gw.Status != StatusOffline {
		t.Errorf("Status = %q, want offline", gw.Status)
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	if a == b {
		t.Error("consecutive secrets should differ")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
}

func TestCalibration_Complete(t *testing.T) {
	var nilCal *Calibration
	if nilCal.Complete() {
		t.Error("nil calibration should not be complete")
	}

	cal := &Calibration{Zones: []Zone{
		{ID: "z1", Name: "Electronics"},
		{ID: "z2", Name: "Clothing", References: []ZoneReference{{SourceGatewayID: "gw-a", Avg: -50}}},
	}}
	if cal.Complete() {
		t.Error("calibration with an unsampled zone should not be complete")
	}
	missing := cal.MissingZones()
	if len(missing) != 1 || missing[0] != "Electronics" {
		t.Errorf("MissingZones() = %v", missing)
	}

	cal.Zones[0].SetReference(ZoneReference{SourceGatewayID: "gw-a", Avg: -70})
	if !cal.Complete() {
		t.Error("calibration with all zones sampled should be complete")
	}

	// Re-sampling replaces rather than appends
	cal.Zones[0].SetReference(ZoneReference{SourceGatewayID: "gw-a", Avg: -65})
	if len(cal.Zones[0].References) != 1 {
		t.Errorf("len(References) = %d, want 1", len(cal.Zones[0].References))
	}
	if cal.Zones[0].References[0].Avg != -65 {
		t.Errorf("Avg = %v, want -65", cal.Zones[0].References[0].Avg)
	}
}
