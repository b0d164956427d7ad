package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for event operations.
var (
	// ErrNotFound indicates no event exists with the given ID.
	ErrNotFound = errors.New("event: not found")

	// ErrAlreadyResolved indicates the event was resolved previously.
	ErrAlreadyResolved = errors.New("event: already resolved")
)

// Filter controls which events List returns. Empty fields match all.
type Filter struct {
	StoreID    string
	Type       string
	Severity   string
	Unresolved bool // only events not yet resolved
	Since      time.Time
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult contains paginated events.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines persistence for events.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	CreateBatch(ctx context.Context, events []*Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Resolve(ctx context.Context, id string) error
	CountSince(ctx context.Context, storeID string, since time.Time) (int, error)
	CountUnresolved(ctx context.Context, storeID, severity string) (int, error)
	HasRecentCheckout(ctx context.Context, storeID, tagID string, window time.Duration) (bool, error)
}

// SQLiteRepository persists events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a single event. ID and timestamp are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *Event) error {
	stampEvent(event)

	contextJSON, err := marshalContext(event.Context)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO events (id, ts, store_id, type, severity, context, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.Format(time.RFC3339), event.StoreID,
		event.Type, event.Severity, contextJSON, boolToInt(event.Resolved),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// CreateBatch inserts events inside one transaction. Used by the
// ingestion pipeline so a batch's alerts land atomically.
func (r *SQLiteRepository) CreateBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting event batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, ts, store_id, type, severity, context, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing event batch: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		stampEvent(event)
		contextJSON, err := marshalContext(event.Context)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			event.ID, event.Timestamp.Format(time.RFC3339), event.StoreID,
			event.Type, event.Severity, contextJSON, boolToInt(event.Resolved),
		); err != nil {
			return fmt.Errorf("inserting batch event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event batch: %w", err)
	}
	return nil
}

// List returns events matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for event queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Unresolved {
		conditions = append(conditions, "resolved = 0")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filter.Since.Format(time.RFC3339))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, ts, store_id, type, severity, context, resolved
		 FROM events %s ORDER BY ts DESC LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Resolve marks an event handled. Resolving twice is an error so operator
// UIs can surface the conflict.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET resolved = 1 WHERE id = ? AND resolved = 0`, id)
	if err != nil {
		return fmt.Errorf("resolving event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking event existence: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

// CountSince returns the number of events for a store at or after a cutoff.
func (r *SQLiteRepository) CountSince(ctx context.Context, storeID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE store_id = ? AND ts >= ?`,
		storeID, since.Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events since: %w", err)
	}
	return n, nil
}

// CountUnresolved returns the number of unresolved events, optionally
// filtered by severity.
func (r *SQLiteRepository) CountUnresolved(ctx context.Context, storeID, severity string) (int, error) {
	query := `SELECT COUNT(*) FROM events WHERE store_id = ? AND resolved = 0`
	args := []any{storeID}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, severity)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting unresolved events: %w", err)
	}
	return n, nil
}

// HasRecentCheckout reports whether a checkout_pass event exists for the
// tag within the window. Used as the local fallback when the POS checkout
// store is unavailable.
func (r *SQLiteRepository) HasRecentCheckout(ctx context.Context, storeID, tagID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)

	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events
		 WHERE store_id = ? AND type = ? AND ts >= ?
		   AND json_extract(context, '$.tag_id') = ?`,
		storeID, TypeCheckoutPass, cutoff.Format(time.RFC3339), tagID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking recent checkout: %w", err)
	}
	return n > 0, nil
}

func stampEvent(event *Event) {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var event Event
	var ts, contextJSON string
	var resolved int

	if err := rows.Scan(&event.ID, &ts, &event.StoreID, &event.Type,
		&event.Severity, &contextJSON, &resolved); err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	event.Resolved = resolved != 0

	if contextJSON != "" && contextJSON != "{}" {
		var c map[string]any
		if json.Unmarshal([]byte(contextJSON), &c) == nil {
			event.Context = c
		}
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil, fmt.Errorf("parsing event timestamp %q: %w", ts, err)
	}
	event.Timestamp = t

	return &event, nil
}

// marshalContext serialises the event context, defaulting to an empty
// object so the column is never NULL.
func marshalContext(c map[string]any) (string, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling event context: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
