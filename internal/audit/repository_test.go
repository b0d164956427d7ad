package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the audit_logs table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
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
		CREATE INDEX idx_audit_store_created ON audit_logs(store_id, created_at);
		CREATE INDEX idx_audit_entity ON audit_logs(entity_type, entity_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testEntry(storeID, action string) *Entry {
	return &Entry{
		StoreID:    storeID,
		Actor:      Actor{ID: "usr-operator1", Role: "manager"},
		Action:     action,
		EntityType: "gateway",
		EntityID:   "gw-test0001",
		Note:       "test entry",
		Meta:       RequestMeta{IP: "10.0.0.5", Client: "tagtrace-cli"},
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates entry and generates ID", func(t *testing.T) {
		entry := testEntry("store-001", "provision")

		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if entry.ID == "" {
			t.Error("Create() should generate an ID")
		}
		if entry.CreatedAt.IsZero() {
			t.Error("Create() should set CreatedAt")
		}

		result, err := repo.List(ctx, Filter{StoreID: "store-001"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("Total = %d, want 1", result.Total)
		}
		got := result.Entries[0]
		if got.Actor.ID != "usr-operator1" {
			t.Errorf("Actor.ID = %q, want %q", got.Actor.ID, "usr-operator1")
		}
		if got.Actor.Role != "manager" {
			t.Errorf("Actor.Role = %q, want %q", got.Actor.Role, "manager")
		}
		if got.Meta.IP != "10.0.0.5" {
			t.Errorf("Meta.IP = %q, want %q", got.Meta.IP, "10.0.0.5")
		}
	})

	t.Run("persists before and after snapshots", func(t *testing.T) {
		entry := testEntry("store-002", "update")
		entry.Before = map[string]any{"notes": "old"}
		entry.After = map[string]any{"notes": "new"}

		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		result, err := repo.List(ctx, Filter{StoreID: "store-002"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		got := result.Entries[0]
		if got.Before["notes"] != "old" {
			t.Errorf("Before[notes] = %v, want %q", got.Before["notes"], "old")
		}
		if got.After["notes"] != "new" {
			t.Errorf("After[notes] = %v, want %q", got.After["notes"], "new")
		}
	})

	t.Run("preserves explicit ID and timestamp", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		entry := testEntry("store-003", "provision")
		entry.ID = "aud-fixed001"
		entry.CreatedAt = ts

		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		result, err := repo.List(ctx, Filter{StoreID: "store-003"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		got := result.Entries[0]
		if got.ID != "aud-fixed001" {
			t.Errorf("ID = %q, want %q", got.ID, "aud-fixed001")
		}
		if !got.CreatedAt.Equal(ts) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ts)
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Seed entries across stores and actions
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := testEntry("store-001", "provision")
		entry.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("seeding entry %d: %v", i, err)
		}
	}
	scan := testEntry("store-001", "scan")
	scan.EntityType = "product"
	scan.EntityID = "prod-77"
	scan.Actor = Actor{ID: "usr-clerk2", Role: "associate"}
	if err := repo.Create(ctx, scan); err != nil {
		t.Fatalf("seeding scan entry: %v", err)
	}
	other := testEntry("store-002", "provision")
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("seeding other-store entry: %v", err)
	}

	t.Run("filters by store", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{StoreID: "store-001"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 6 {
			t.Errorf("Total = %d, want 6", result.Total)
		}
	})

	t.Run("filters by action", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{StoreID: "store-001", Action: "scan"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("Total = %d, want 1", result.Total)
		}
		if result.Entries[0].EntityID != "prod-77" {
			t.Errorf("EntityID = %q, want %q", result.Entries[0].EntityID, "prod-77")
		}
	})

	t.Run("filters by actor", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{ActorID: "usr-clerk2"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Errorf("Total = %d, want 1", result.Total)
		}
	})

	t.Run("filters by entity", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{EntityType: "product", EntityID: "prod-77"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Errorf("Total = %d, want 1", result.Total)
		}
	})

	t.Run("orders most recent first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{StoreID: "store-001", Action: "provision"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		for i := 1; i < len(result.Entries); i++ {
			if result.Entries[i].CreatedAt.After(result.Entries[i-1].CreatedAt) {
				t.Errorf("entries not ordered descending at index %d", i)
			}
		}
	})

	t.Run("paginates with limit and offset", func(t *testing.T) {
		first, err := repo.List(ctx, Filter{StoreID: "store-001", Limit: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(first.Entries) != 2 {
			t.Fatalf("len(Entries) = %d, want 2", len(first.Entries))
		}
		if first.Total != 6 {
			t.Errorf("Total = %d, want 6", first.Total)
		}

		second, err := repo.List(ctx, Filter{StoreID: "store-001", Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(second.Entries) != 2 {
			t.Fatalf("len(Entries) = %d, want 2", len(second.Entries))
		}
		if second.Entries[0].ID == first.Entries[0].ID {
			t.Error("offset page should not repeat first page")
		}
	})

	t.Run("clamps oversized limit", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 10000})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Limit != 200 {
			t.Errorf("Limit = %d, want 200", result.Limit)
		}
	})

	t.Run("returns empty slice for no matches", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{StoreID: "store-none"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Entries == nil {
			t.Error("Entries should be an empty slice, not nil")
		}
		if result.Total != 0 {
			t.Errorf("Total = %d, want 0", result.Total)
		}
	})
}

func TestSQLiteRepository_List_ManyEntries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		entry := testEntry("store-bulk", "scan")
		entry.EntityID = fmt.Sprintf("prod-%03d", i)
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("seeding entry %d: %v", i, err)
		}
	}

	// Default limit is 50
	result, err := repo.List(ctx, Filter{StoreID: "store-bulk"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Entries) != 50 {
		t.Errorf("len(Entries) = %d, want 50", len(result.Entries))
	}
	if result.Total != 60 {
		t.Errorf("Total = %d, want 60", result.Total)
	}
}
