package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Filter controls which readings Query returns. Empty fields match all.
type Filter struct {
	StoreID   string
	GatewayID string
	TagID     string
	Metric    string
	Since     time.Time
	Until     time.Time

	// Ascending orders oldest first. Default is newest first.
	Ascending bool

	// Limit defaults to 100 and is capped at 1000.
	Limit int
}

// Repository defines the append-only telemetry store.
type Repository interface {
	Append(ctx context.Context, reading *Reading) error
	AppendBatch(ctx context.Context, readings []*Reading) error
	Query(ctx context.Context, filter Filter) ([]Reading, error)
	Latest(ctx context.Context, tagID, metric string) (*Reading, error)
}

// SQLiteRepository persists readings in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a telemetry repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const readingColumns = `id, ts, store_id, gateway_id, tag_id, metric, value, unit, attrs`

// Append inserts a single reading and assigns its storage ID.
func (r *SQLiteRepository) Append(ctx context.Context, reading *Reading) error {
	attrsJSON, err := marshalAttrs(reading.Attrs)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO readings (ts, store_id, gateway_id, tag_id, metric, value, unit, attrs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.Timestamp.Format(time.RFC3339Nano),
		reading.StoreID, reading.GatewayID, reading.TagID,
		reading.Metric, reading.Value, reading.Unit, attrsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	reading.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	return nil
}

// AppendBatch inserts readings inside one transaction. All-or-nothing at
// the storage level; per-item validation happens upstream in the pipeline.
func (r *SQLiteRepository) AppendBatch(ctx context.Context, readings []*Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO readings (ts, store_id, gateway_id, tag_id, metric, value, unit, attrs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		attrsJSON, err := marshalAttrs(reading.Attrs)
		if err != nil {
			return err
		}
		result, err := stmt.ExecContext(ctx,
			reading.Timestamp.Format(time.RFC3339Nano),
			reading.StoreID, reading.GatewayID, reading.TagID,
			reading.Metric, reading.Value, reading.Unit, attrsJSON,
		)
		if err != nil {
			return fmt.Errorf("inserting batch reading: %w", err)
		}
		if reading.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("reading insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// Query returns readings matching the filter.
func (r *SQLiteRepository) Query(ctx context.Context, filter Filter) ([]Reading, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 { //nolint:mnd // max page size for telemetry queries
		filter.Limit = 1000
	}

	var conditions []string
	var args []any

	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.GatewayID != "" {
		conditions = append(conditions, "gateway_id = ?")
		args = append(args, filter.GatewayID)
	}
	if filter.TagID != "" {
		conditions = append(conditions, "tag_id = ?")
		args = append(args, filter.TagID)
	}
	if filter.Metric != "" {
		conditions = append(conditions, "metric = ?")
		args = append(args, filter.Metric)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filter.Since.Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "ts < ?")
		args = append(args, filter.Until.Format(time.RFC3339Nano))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT %s FROM readings %s ORDER BY ts %s LIMIT ?",
		readingColumns, where, order,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// Latest returns the most recent reading of a metric for a tag, or nil if
// the tag has never reported it.
func (r *SQLiteRepository) Latest(ctx context.Context, tagID, metric string) (*Reading, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM readings WHERE tag_id = ? AND metric = ? ORDER BY ts DESC LIMIT 1", readingColumns),
		tagID, metric)

	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no reading yet is not an error
	}
	if err != nil {
		return nil, err
	}
	return reading, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var reading Reading
	var ts string
	var attrsJSON sql.NullString

	err := row.Scan(&reading.ID, &ts, &reading.StoreID, &reading.GatewayID,
		&reading.TagID, &reading.Metric, &reading.Value, &reading.Unit, &attrsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reading: %w", err)
	}

	if reading.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("parsing reading timestamp %q: %w", ts, err)
	}

	if attrsJSON.Valid && attrsJSON.String != "" {
		var attrs map[string]string
		if json.Unmarshal([]byte(attrsJSON.String), &attrs) == nil {
			reading.Attrs = attrs
		}
	}
	return &reading, nil
}

// marshalAttrs serialises optional reading attributes.
// Returns nil for absent attrs so the column stays NULL.
func marshalAttrs(attrs map[string]string) (any, error) {
	if len(attrs) == 0 {
		return nil, nil //nolint:nilnil // empty attrs maps to NULL column
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshalling reading attrs: %w", err)
	}
	return string(b), nil
}
