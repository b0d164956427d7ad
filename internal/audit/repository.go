// Package audit provides the write-once compliance trail for
// provisioning, calibration, and inventory mutations.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed an audited action.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// RequestMeta carries request-level metadata for an audit entry.
type RequestMeta struct {
	IP     string `json:"ip,omitempty"`
	Client string `json:"client,omitempty"`
}

// Entry represents a single audit trail record. Entries are write-once;
// there is no update or delete path.
type Entry struct {
	ID         string         `json:"id"`
	StoreID    string         `json:"store_id"`
	Actor      Actor          `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Note       string         `json:"note,omitempty"`
	Meta       RequestMeta    `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which audit entries to return.
type Filter struct {
	StoreID    string // optional: filter by store
	ActorID    string // optional: filter by actor
	Action     string // optional: filter by action (provision, issue, calibrate, scan)
	EntityType string // optional: filter by entity type (gateway, tag, product)
	EntityID   string // optional: filter by specific entity ID
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated audit results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository persists audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return fmt.Errorf("marshalling before snapshot: %w", err)
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return fmt.Errorf("marshalling after snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, store_id, actor_id, actor_role, action, entity_type, entity_id,
		                         before_json, after_json, note, ip_address, client, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.StoreID, entry.Actor.ID, entry.Actor.Role,
		entry.Action, entry.EntityType, entry.EntityID,
		beforeJSON, afterJSON, entry.Note,
		entry.Meta.IP, entry.Meta.Client,
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	return nil
}

// marshalSnapshot serialises an optional before/after snapshot.
// Returns nil for absent snapshots so the column stays NULL.
func marshalSnapshot(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil //nolint:nilnil // nil snapshot maps to NULL column
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// List returns audit entries matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, store_id, actor_id, actor_role, action, entity_type, entity_id,
		        before_json, after_json, note, ip_address, client, created_at
		 FROM audit_logs %s ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// scanEntry scans a single audit row.
func scanEntry(rows *sql.Rows) (*Entry, error) {
	var entry Entry
	var beforeJSON, afterJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.Actor.ID, &entry.Actor.Role,
		&entry.Action, &entry.EntityType, &entry.EntityID,
		&beforeJSON, &afterJSON, &entry.Note,
		&entry.Meta.IP, &entry.Meta.Client, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	if beforeJSON.Valid && beforeJSON.String != "" {
		var before map[string]any
		if json.Unmarshal([]byte(beforeJSON.String), &before) == nil {
			entry.Before = before
		}
	}
	if afterJSON.Valid && afterJSON.String != "" {
		var after map[string]any
		if json.Unmarshal([]byte(afterJSON.String), &after) == nil {
			entry.After = after
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t

	return &entry, nil
}
