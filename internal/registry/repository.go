package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// GatewayRepository defines persistence operations for gateways.
type GatewayRepository interface {
	GetByID(ctx context.Context, id string) (*Gateway, error)
	GetBySecretHash(ctx context.Context, hash string) (*Gateway, error)
	List(ctx context.Context, storeID string) ([]*Gateway, error)
	Create(ctx context.Context, gw *Gateway) error
	Update(ctx context.Context, gw *Gateway) error
	UpdateStatus(ctx context.Context, id string, status GatewayStatus, lastSeen time.Time) error
	SaveCalibration(ctx context.Context, id string, cal *Calibration) error
	CountByStatus(ctx context.Context, storeID string) (map[GatewayStatus]int, error)
}

// TagFilter controls which tags List returns. Empty fields match all.
type TagFilter struct {
	StoreID   string
	ProductID string
	Status    TagStatus
}

// TagRepository defines persistence operations for tags.
type TagRepository interface {
	GetByID(ctx context.Context, id string) (*Tag, error)
	GetBySerial(ctx context.Context, serial string) (*Tag, error)
	List(ctx context.Context, filter TagFilter) ([]*Tag, error)
	Create(ctx context.Context, tag *Tag) error
	Update(ctx context.Context, tag *Tag) error
	TouchLastSeen(ctx context.Context, id string, seen time.Time) error
	SetBattery(ctx context.Context, id string, pct float64) error
	SetRSSI(ctx context.Context, id string, avg float64) error
	IncrementErrors(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, storeID string) (map[TagStatus]int, error)
	CountLowBattery(ctx context.Context, storeID string, threshold float64) (int, error)
	CountStale(ctx context.Context, storeID string, before time.Time) (int, error)
}

// rowScanner abstracts sql.Row and sql.Rows so scan helpers work on both.
type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteGatewayRepository persists gateways in SQLite.
type SQLiteGatewayRepository struct {
	db *sql.DB
}

// NewSQLiteGatewayRepository creates a gateway repository.
func NewSQLiteGatewayRepository(db *sql.DB) *SQLiteGatewayRepository {
	return &SQLiteGatewayRepository{db: db}
}

const gatewayColumns = `id, store_id, name, kind, pos_x, pos_y, zone_hint, status, disabled,
	secret_hash, calibration, notes, last_seen_at, created_at, updated_at`

// GetByID returns the gateway with the given ID.
func (r *SQLiteGatewayRepository) GetByID(ctx context.Context, id string) (*Gateway, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM gateways WHERE id = ?", gatewayColumns), id)

	gw, err := scanGatewayRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGatewayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying gateway %s: %w", id, err)
	}
	return gw, nil
}

// GetBySecretHash returns the gateway whose stored credential hash matches.
// Used by ingestion auth; the hash column carries a unique index.
func (r *SQLiteGatewayRepository) GetBySecretHash(ctx context.Context, hash string) (*Gateway, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM gateways WHERE secret_hash = ?", gatewayColumns), hash)

	gw, err := scanGatewayRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGatewayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying gateway by credential: %w", err)
	}
	return gw, nil
}

// List returns all gateways for a store, ordered by name.
func (r *SQLiteGatewayRepository) List(ctx context.Context, storeID string) ([]*Gateway, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM gateways WHERE store_id = ? ORDER BY name", gatewayColumns),
		storeID)
	if err != nil {
		return nil, fmt.Errorf("listing gateways: %w", err)
	}
	defer rows.Close()

	gateways := []*Gateway{}
	for rows.Next() {
		gw, err := scanGatewayRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning gateway: %w", err)
		}
		gateways = append(gateways, gw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateways: %w", err)
	}
	return gateways, nil
}

// Create inserts a new gateway row.
func (r *SQLiteGatewayRepository) Create(ctx context.Context, gw *Gateway) error {
	calJSON, err := marshalCalibration(gw.Calibration)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO gateways (id, store_id, name, kind, pos_x, pos_y, zone_hint, status, disabled,
		                       secret_hash, calibration, notes, last_seen_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gw.ID, gw.StoreID, gw.Name, string(gw.Kind),
		gw.Position.X, gw.Position.Y, gw.Position.Zone,
		string(gw.Status), boolToInt(gw.Disabled),
		gw.SecretHash, calJSON, gw.Notes,
		nullableTime(gw.LastSeenAt),
		gw.CreatedAt.Format(time.RFC3339), gw.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting gateway: %w", err)
	}
	return nil
}

// Update writes all mutable gateway fields. The secret hash and creation
// timestamp are immutable.
func (r *SQLiteGatewayRepository) Update(ctx context.Context, gw *Gateway) error {
	gw.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE gateways
		 SET name = ?, pos_x = ?, pos_y = ?, zone_hint = ?, status = ?, disabled = ?,
		     notes = ?, updated_at = ?
		 WHERE id = ?`,
		gw.Name, gw.Position.X, gw.Position.Y, gw.Position.Zone,
		string(gw.Status), boolToInt(gw.Disabled), gw.Notes,
		gw.UpdatedAt.Format(time.RFC3339), gw.ID,
	)
	if err != nil {
		return fmt.Errorf("updating gateway: %w", err)
	}
	return requireRow(result, ErrGatewayNotFound)
}

// UpdateStatus sets the availability status and last-seen timestamp.
// Called on every accepted ingestion batch, so it touches nothing else.
func (r *SQLiteGatewayRepository) UpdateStatus(ctx context.Context, id string, status GatewayStatus, lastSeen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE gateways SET status = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
		string(status), lastSeen.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating gateway status: %w", err)
	}
	return requireRow(result, ErrGatewayNotFound)
}

// SaveCalibration replaces the gateway's calibration block.
func (r *SQLiteGatewayRepository) SaveCalibration(ctx context.Context, id string, cal *Calibration) error {
	calJSON, err := marshalCalibration(cal)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE gateways SET calibration = ?, updated_at = ? WHERE id = ?`,
		calJSON, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("saving calibration: %w", err)
	}
	return requireRow(result, ErrGatewayNotFound)
}

// CountByStatus returns gateway counts per status for a store. Disabled
// gateways are excluded; they are administratively out of service.
func (r *SQLiteGatewayRepository) CountByStatus(ctx context.Context, storeID string) (map[GatewayStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM gateways WHERE store_id = ? AND disabled = 0 GROUP BY status`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("counting gateways: %w", err)
	}
	defer rows.Close()

	counts := make(map[GatewayStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning gateway count: %w", err)
		}
		counts[GatewayStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateway counts: %w", err)
	}
	return counts, nil
}

// scanGatewayRow scans a gateway from a row with gatewayColumns ordering.
func scanGatewayRow(row rowScanner) (*Gateway, error) {
	var gw Gateway
	var kind, status, createdAt, updatedAt string
	var disabled int
	var calJSON, lastSeen sql.NullString

	err := row.Scan(&gw.ID, &gw.StoreID, &gw.Name, &kind,
		&gw.Position.X, &gw.Position.Y, &gw.Position.Zone,
		&status, &disabled, &gw.SecretHash, &calJSON, &gw.Notes,
		&lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	gw.Kind = GatewayKind(kind)
	gw.Status = GatewayStatus(status)
	gw.Disabled = disabled != 0

	if calJSON.Valid && calJSON.String != "" {
		var cal Calibration
		if err := json.Unmarshal([]byte(calJSON.String), &cal); err != nil {
			return nil, fmt.Errorf("parsing calibration for gateway %s: %w", gw.ID, err)
		}
		gw.Calibration = &cal
	}

	if gw.LastSeenAt, err = parseNullableTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	if gw.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if gw.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &gw, nil
}

// SQLiteTagRepository persists tags in SQLite.
type SQLiteTagRepository struct {
	db *sql.DB
}

// NewSQLiteTagRepository creates a tag repository.
func NewSQLiteTagRepository(db *sql.DB) *SQLiteTagRepository {
	return &SQLiteTagRepository{db: db}
}

const tagColumns = `id, store_id, product_id, tech, serial, deep_link, status,
	battery_pct, rssi_avg, error_count, tx_power, beacon_interval,
	last_seen_at, created_at, updated_at`

// GetByID returns the tag with the given ID.
func (r *SQLiteTagRepository) GetByID(ctx context.Context, id string) (*Tag, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM tags WHERE id = ?", tagColumns), id)

	tag, err := scanTagRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tag %s: %w", id, err)
	}
	return tag, nil
}

// GetBySerial returns the tag with the given hardware serial.
func (r *SQLiteTagRepository) GetBySerial(ctx context.Context, serial string) (*Tag, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM tags WHERE serial = ?", tagColumns), serial)

	tag, err := scanTagRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tag by serial: %w", err)
	}
	return tag, nil
}

// List returns tags matching the filter, ordered by creation time.
func (r *SQLiteTagRepository) List(ctx context.Context, filter TagFilter) ([]*Tag, error) {
	var conditions []string
	var args []any

	if filter.StoreID != "" {
		conditions = append(conditions, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.ProductID != "" {
		conditions = append(conditions, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s FROM tags %s ORDER BY created_at", tagColumns, where) //nolint:gosec // WHERE built from parameterised conditions, not user input

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	tags := []*Tag{}
	for rows.Next() {
		tag, err := scanTagRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return tags, nil
}

// Create inserts a new tag row. A UNIQUE violation on serial maps to
// ErrSerialExists.
func (r *SQLiteTagRepository) Create(ctx context.Context, tag *Tag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tags (id, store_id, product_id, tech, serial, deep_link, status,
		                   battery_pct, rssi_avg, error_count, tx_power, beacon_interval,
		                   last_seen_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tag.ID, tag.StoreID, tag.ProductID, string(tag.Tech), tag.Serial,
		tag.DeepLink, string(tag.Status),
		nullableFloat(tag.Health.BatteryPct), nullableFloat(tag.Health.RSSIAvg),
		tag.Health.ErrorCount,
		nullableInt(tag.Radio.TxPower), nullableInt(tag.Radio.BeaconIntervalMs),
		nullableTime(tag.LastSeenAt),
		tag.CreatedAt.Format(time.RFC3339), tag.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrSerialExists
		}
		return fmt.Errorf("inserting tag: %w", err)
	}
	return nil
}

// Update writes all mutable tag fields.
func (r *SQLiteTagRepository) Update(ctx context.Context, tag *Tag) error {
	tag.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE tags
		 SET product_id = ?, status = ?, deep_link = ?, tx_power = ?, beacon_interval = ?,
		     updated_at = ?
		 WHERE id = ?`,
		tag.ProductID, string(tag.Status), tag.DeepLink,
		nullableInt(tag.Radio.TxPower), nullableInt(tag.Radio.BeaconIntervalMs),
		tag.UpdatedAt.Format(time.RFC3339), tag.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tag: %w", err)
	}
	return requireRow(result, ErrTagNotFound)
}

// TouchLastSeen updates only the last-seen timestamp. Called per reading.
func (r *SQLiteTagRepository) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tags SET last_seen_at = ?, updated_at = ? WHERE id = ?`,
		seen.Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touching tag: %w", err)
	}
	return requireRow(result, ErrTagNotFound)
}

// SetBattery updates the rolling battery level.
func (r *SQLiteTagRepository) SetBattery(ctx context.Context, id string, pct float64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tags SET battery_pct = ?, updated_at = ? WHERE id = ?`,
		pct, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating tag battery: %w", err)
	}
	return requireRow(result, ErrTagNotFound)
}

// SetRSSI updates the rolling average signal strength.
func (r *SQLiteTagRepository) SetRSSI(ctx context.Context, id string, avg float64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tags SET rssi_avg = ?, updated_at = ? WHERE id = ?`,
		avg, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating tag rssi: %w", err)
	}
	return requireRow(result, ErrTagNotFound)
}

// IncrementErrors bumps the tag's error counter by one.
func (r *SQLiteTagRepository) IncrementErrors(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tags SET error_count = error_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("incrementing tag errors: %w", err)
	}
	return requireRow(result, ErrTagNotFound)
}

// CountByStatus returns tag counts per lifecycle status for a store.
func (r *SQLiteTagRepository) CountByStatus(ctx context.Context, storeID string) (map[TagStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tags WHERE store_id = ? GROUP BY status`,
		storeID)
	if err != nil {
		return nil, fmt.Errorf("counting tags: %w", err)
	}
	defer rows.Close()

	counts := make(map[TagStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning tag count: %w", err)
		}
		counts[TagStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tag counts: %w", err)
	}
	return counts, nil
}

// CountLowBattery returns the number of active tags at or below the
// battery threshold. Tags that have never reported battery are excluded.
func (r *SQLiteTagRepository) CountLowBattery(ctx context.Context, storeID string, threshold float64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tags
		 WHERE store_id = ? AND status = 'active' AND battery_pct IS NOT NULL AND battery_pct <= ?`,
		storeID, threshold).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting low-battery tags: %w", err)
	}
	return n, nil
}

// CountStale returns the number of active tags not seen since the cutoff.
// Tags that have never reported at all count as stale.
func (r *SQLiteTagRepository) CountStale(ctx context.Context, storeID string, before time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tags
		 WHERE store_id = ? AND status = 'active'
		   AND (last_seen_at IS NULL OR last_seen_at < ?)`,
		storeID, before.Format(time.RFC3339)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting stale tags: %w", err)
	}
	return n, nil
}

// scanTagRow scans a tag from a row with tagColumns ordering.
func scanTagRow(row rowScanner) (*Tag, error) {
	var tag Tag
	var tech, status, createdAt, updatedAt string
	var battery, rssi sql.NullFloat64
	var txPower, beaconInterval sql.NullInt64
	var lastSeen sql.NullString

	err := row.Scan(&tag.ID, &tag.StoreID, &tag.ProductID, &tech, &tag.Serial,
		&tag.DeepLink, &status, &battery, &rssi, &tag.Health.ErrorCount,
		&txPower, &beaconInterval, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	tag.Tech = TagTech(tech)
	tag.Status = TagStatus(status)

	if battery.Valid {
		v := battery.Float64
		tag.Health.BatteryPct = &v
	}
	if rssi.Valid {
		v := rssi.Float64
		tag.Health.RSSIAvg = &v
	}
	if txPower.Valid {
		v := int(txPower.Int64)
		tag.Radio.TxPower = &v
	}
	if beaconInterval.Valid {
		v := int(beaconInterval.Int64)
		tag.Radio.BeaconIntervalMs = &v
	}

	if tag.LastSeenAt, err = parseNullableTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	if tag.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if tag.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &tag, nil
}

// requireRow converts a zero-rows-affected update into a not-found error.
func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// marshalCalibration serialises an optional calibration block.
// Returns nil for absent calibration so the column stays NULL.
func marshalCalibration(cal *Calibration) (any, error) {
	if cal == nil {
		return nil, nil //nolint:nilnil // nil calibration maps to NULL column
	}
	b, err := json.Marshal(cal)
	if err != nil {
		return nil, fmt.Errorf("marshalling calibration: %w", err)
	}
	return string(b), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil //nolint:nilnil // NULL column maps to nil timestamp
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
