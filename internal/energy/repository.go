package energy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
)

// Repository defines the persistence interface for energy settings,
// consumers and sources.
type Repository interface {
	GetSettings(ctx context.Context, deploymentID string) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error

	GetConsumer(ctx context.Context, id string) (*Consumer, error)
	ListConsumers(ctx context.Context, deploymentID string) ([]Consumer, error)
	CreateConsumer(ctx context.Context, c *Consumer) error
	UpdateConsumer(ctx context.Context, c *Consumer) error
	SetConsumerActive(ctx context.Context, id string, active bool) error

	GetSource(ctx context.Context, id string) (*Source, error)
	ListSources(ctx context.Context, deploymentID string) ([]Source, error)
	CreateSource(ctx context.Context, s *Source) error
	UpdateSource(ctx context.Context, s *Source) error
	SetSourceConnected(ctx context.Context, id string, connected bool) error
}

const settingsColumns = `deployment_id, battery_max_wh, grid_connect_threshold, shutdown_threshold,
			warning_threshold, grid_disconnect_threshold, critical_priority_threshold,
			battery_entity_id, latitude, longitude, updated_at`

const consumerColumns = `id, deployment_id, name, consumption_w, priority, shutdown_threshold,
			forecast_shutdown_threshold, forecast_buffer_days, action_id, is_active,
			live_entity_id, created_at, updated_at`

const sourceColumns = `id, deployment_id, name, type, production_w, capacity_w, action_id,
			is_connected, live_entity_id, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Settings ───────────────────────────────────────────────────────────────

// GetSettings retrieves the settings of a deployment.
func (r *SQLiteRepository) GetSettings(ctx context.Context, deploymentID string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM energy_settings WHERE deployment_id = ?`, deploymentID)

	var s Settings
	var entity sql.NullString
	var updatedAt string
	err := row.Scan(&s.DeploymentID, &s.BatteryMaxWh, &s.GridConnectThreshold, &s.ShutdownThreshold,
		&s.WarningThreshold, &s.GridDisconnectThreshold, &s.CriticalPriorityThreshold,
		&entity, &s.Latitude, &s.Longitude, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, fmt.Errorf("querying energy settings: %w", err)
	}
	s.BatteryEntityID = stringPtr(entity)
	s.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &s, nil
}

// SaveSettings inserts or replaces the settings of a deployment.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, s *Settings) error {
	s.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO energy_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id) DO UPDATE SET
			battery_max_wh = excluded.battery_max_wh,
			grid_connect_threshold = excluded.grid_connect_threshold,
			shutdown_threshold = excluded.shutdown_threshold,
			warning_threshold = excluded.warning_threshold,
			grid_disconnect_threshold = excluded.grid_disconnect_threshold,
			critical_priority_threshold = excluded.critical_priority_threshold,
			battery_entity_id = excluded.battery_entity_id,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			updated_at = excluded.updated_at`,
		s.DeploymentID, s.BatteryMaxWh, s.GridConnectThreshold, s.ShutdownThreshold,
		s.WarningThreshold, s.GridDisconnectThreshold, s.CriticalPriorityThreshold,
		nullableString(s.BatteryEntityID), s.Latitude, s.Longitude, database.FormatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving energy settings: %w", err)
	}
	return nil
}

// ─── Consumers ──────────────────────────────────────────────────────────────

// GetConsumer retrieves a consumer by ID.
func (r *SQLiteRepository) GetConsumer(ctx context.Context, id string) (*Consumer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consumerColumns+` FROM energy_consumers WHERE id = ?`, id)
	c, err := scanConsumerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConsumerNotFound
		}
		return nil, fmt.Errorf("querying consumer: %w", err)
	}
	return c, nil
}

// ListConsumers returns a deployment's consumers, most critical first.
func (r *SQLiteRepository) ListConsumers(ctx context.Context, deploymentID string) ([]Consumer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+consumerColumns+` FROM energy_consumers
		WHERE deployment_id = ? ORDER BY priority, name, id`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("querying consumers: %w", err)
	}
	defer rows.Close()

	var out []Consumer
	for rows.Next() {
		c, scanErr := scanConsumerRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning consumer: %w", scanErr)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating consumers: %w", err)
	}
	return out, nil
}

// CreateConsumer inserts a consumer.
func (r *SQLiteRepository) CreateConsumer(ctx context.Context, c *Consumer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO energy_consumers (`+consumerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeploymentID, c.Name, c.ConsumptionW, c.Priority,
		nullableFloat(c.ShutdownThreshold), nullableFloat(c.ForecastShutdownThreshold), c.ForecastBufferDays,
		nullableString(c.ActionID), boolToInt(c.IsActive), nullableString(c.LiveEntityID),
		database.FormatTime(c.CreatedAt), database.FormatTime(c.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: action_id does not exist", ErrInvalidConsumer)
		}
		return fmt.Errorf("inserting consumer: %w", err)
	}
	return nil
}

// UpdateConsumer modifies an existing consumer.
func (r *SQLiteRepository) UpdateConsumer(ctx context.Context, c *Consumer) error {
	c.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE energy_consumers SET
			name = ?, consumption_w = ?, priority = ?, shutdown_threshold = ?,
			forecast_shutdown_threshold = ?, forecast_buffer_days = ?, action_id = ?,
			is_active = ?, live_entity_id = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.ConsumptionW, c.Priority, nullableFloat(c.ShutdownThreshold),
		nullableFloat(c.ForecastShutdownThreshold), c.ForecastBufferDays, nullableString(c.ActionID),
		boolToInt(c.IsActive), nullableString(c.LiveEntityID), database.FormatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: action_id does not exist", ErrInvalidConsumer)
		}
		return fmt.Errorf("updating consumer: %w", err)
	}
	return expectOneRow(result, ErrConsumerNotFound)
}

// SetConsumerActive records whether a consumer is powered.
func (r *SQLiteRepository) SetConsumerActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE energy_consumers SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating consumer state: %w", err)
	}
	return expectOneRow(result, ErrConsumerNotFound)
}

// ─── Sources ────────────────────────────────────────────────────────────────

// GetSource retrieves a source by ID.
func (r *SQLiteRepository) GetSource(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM energy_sources WHERE id = ?`, id)
	s, err := scanSourceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("querying source: %w", err)
	}
	return s, nil
}

// ListSources returns a deployment's sources.
func (r *SQLiteRepository) ListSources(ctx context.Context, deploymentID string) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM energy_sources
		WHERE deployment_id = ? ORDER BY type, name, id`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		s, scanErr := scanSourceRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning source: %w", scanErr)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return out, nil
}

// CreateSource inserts a source.
func (r *SQLiteRepository) CreateSource(ctx context.Context, s *Source) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO energy_sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.DeploymentID, s.Name, string(s.Type), s.ProductionW, s.CapacityW,
		nullableString(s.ActionID), boolToInt(s.IsConnected), nullableString(s.LiveEntityID),
		database.FormatTime(s.CreatedAt), database.FormatTime(s.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: action_id does not exist", ErrInvalidSource)
		}
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

// UpdateSource modifies an existing source.
func (r *SQLiteRepository) UpdateSource(ctx context.Context, s *Source) error {
	s.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE energy_sources SET
			name = ?, type = ?, production_w = ?, capacity_w = ?, action_id = ?,
			is_connected = ?, live_entity_id = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, string(s.Type), s.ProductionW, s.CapacityW, nullableString(s.ActionID),
		boolToInt(s.IsConnected), nullableString(s.LiveEntityID), database.FormatTime(s.UpdatedAt),
		s.ID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: action_id does not exist", ErrInvalidSource)
		}
		return fmt.Errorf("updating source: %w", err)
	}
	return expectOneRow(result, ErrSourceNotFound)
}

// SetSourceConnected records the connection state of a source.
func (r *SQLiteRepository) SetSourceConnected(ctx context.Context, id string, connected bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE energy_sources SET is_connected = ?, updated_at = ? WHERE id = ?",
		boolToInt(connected), database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating source state: %w", err)
	}
	return expectOneRow(result, ErrSourceNotFound)
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsumerRow(scanner rowScanner) (*Consumer, error) {
	var c Consumer
	var shutdown, forecastShutdown sql.NullFloat64
	var actionID, liveEntity sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := scanner.Scan(&c.ID, &c.DeploymentID, &c.Name, &c.ConsumptionW, &c.Priority,
		&shutdown, &forecastShutdown, &c.ForecastBufferDays, &actionID, &isActive,
		&liveEntity, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	c.ShutdownThreshold = floatPtr(shutdown)
	c.ForecastShutdownThreshold = floatPtr(forecastShutdown)
	c.ActionID = stringPtr(actionID)
	c.LiveEntityID = stringPtr(liveEntity)
	c.IsActive = isActive != 0
	c.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	c.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &c, nil
}

func scanSourceRow(scanner rowScanner) (*Source, error) {
	var s Source
	var typ string
	var actionID, liveEntity sql.NullString
	var connected int
	var createdAt, updatedAt string

	err := scanner.Scan(&s.ID, &s.DeploymentID, &s.Name, &typ, &s.ProductionW, &s.CapacityW,
		&actionID, &connected, &liveEntity, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Type = SourceType(typ)
	s.ActionID = stringPtr(actionID)
	s.LiveEntityID = stringPtr(liveEntity)
	s.IsConnected = connected != 0
	s.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	s.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &s, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
