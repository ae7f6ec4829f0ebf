package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
)

// Repository defines the persistence interface for hardware, actions and
// triggers.
type Repository interface {
	// Hardware
	GetHardware(ctx context.Context, id string) (*Hardware, error)
	ListHardware(ctx context.Context) ([]Hardware, error)
	CreateHardware(ctx context.Context, h *Hardware) error
	DeleteHardware(ctx context.Context, id string) error

	// Actions
	GetAction(ctx context.Context, id string) (*ControllableAction, error)
	ListActions(ctx context.Context) ([]ControllableAction, error)
	CreateAction(ctx context.Context, a *ControllableAction) error
	UpdateAction(ctx context.Context, a *ControllableAction) error
	DeleteAction(ctx context.Context, id string) error

	// Triggers
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	ListTriggers(ctx context.Context, actionID string) ([]Trigger, error)
	ListActiveTriggersByType(ctx context.Context, t TriggerType) ([]Trigger, error)
	ListActiveSensorTriggers(ctx context.Context, sensorID string) ([]Trigger, error)
	CreateTrigger(ctx context.Context, t *Trigger) error
	UpdateTrigger(ctx context.Context, t *Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	SetTriggerActive(ctx context.Context, id string, active bool) error

	// ClaimTrigger atomically deactivates an active trigger. It reports
	// false when the trigger was already inactive, so exactly one caller
	// wins a one-shot trigger.
	ClaimTrigger(ctx context.Context, id string) (bool, error)
}

const hardwareColumns = `id, name, description, created_at, updated_at`

const actionColumns = `id, deployment_id, name, action_class_id, is_active, is_automated,
			maximum_duration_seconds, additional_information, hardware_id, created_at, updated_at`

const triggerColumns = `id, action_id, type, action_value, trigger_logic, is_active, origin,
			sensor_id, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Hardware ───────────────────────────────────────────────────────────────

// GetHardware retrieves a hardware unit by ID.
func (r *SQLiteRepository) GetHardware(ctx context.Context, id string) (*Hardware, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+hardwareColumns+` FROM hardware WHERE id = ?`, id)
	h, err := scanHardwareRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHardwareNotFound
		}
		return nil, fmt.Errorf("querying hardware: %w", err)
	}
	return h, nil
}

// ListHardware retrieves all hardware units ordered by name.
func (r *SQLiteRepository) ListHardware(ctx context.Context) ([]Hardware, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+hardwareColumns+` FROM hardware ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying hardware: %w", err)
	}
	defer rows.Close()

	var out []Hardware
	for rows.Next() {
		h, scanErr := scanHardwareRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning hardware: %w", scanErr)
		}
		out = append(out, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hardware: %w", err)
	}
	return out, nil
}

// CreateHardware inserts a new hardware unit.
func (r *SQLiteRepository) CreateHardware(ctx context.Context, h *Hardware) error {
	now := time.Now().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hardware (`+hardwareColumns+`) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.Name, nullableString(h.Description),
		database.FormatTime(h.CreatedAt), database.FormatTime(h.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrHardwareExists
		}
		return fmt.Errorf("inserting hardware: %w", err)
	}
	return nil
}

// DeleteHardware removes a hardware unit. Hardware that still owns actions
// cannot be deleted.
func (r *SQLiteRepository) DeleteHardware(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM hardware WHERE id = ?", id)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrHardwareInUse
		}
		return fmt.Errorf("deleting hardware: %w", err)
	}
	return expectOneRow(result, ErrHardwareNotFound)
}

// ─── Actions ────────────────────────────────────────────────────────────────

// GetAction retrieves an action by ID.
func (r *SQLiteRepository) GetAction(ctx context.Context, id string) (*ControllableAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM controllable_actions WHERE id = ?`, id)
	a, err := scanActionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActionNotFound
		}
		return nil, fmt.Errorf("querying action: %w", err)
	}
	return a, nil
}

// ListActions retrieves all actions ordered by name.
func (r *SQLiteRepository) ListActions(ctx context.Context) ([]ControllableAction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+actionColumns+` FROM controllable_actions ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var out []ControllableAction
	for rows.Next() {
		a, scanErr := scanActionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning action: %w", scanErr)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actions: %w", err)
	}
	return out, nil
}

// CreateAction inserts a new action.
func (r *SQLiteRepository) CreateAction(ctx context.Context, a *ControllableAction) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO controllable_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.DeploymentID,
		a.Name,
		a.ClassID,
		boolToInt(a.IsActive),
		boolToInt(a.IsAutomated),
		nullableInt(a.MaximumDurationSeconds),
		jsonOrEmptyObject(a.AdditionalInformation),
		a.HardwareID,
		database.FormatTime(a.CreatedAt),
		database.FormatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrActionExists
		}
		if isForeignKeyError(err) {
			return ErrHardwareNotFound
		}
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// UpdateAction modifies an existing action.
func (r *SQLiteRepository) UpdateAction(ctx context.Context, a *ControllableAction) error {
	a.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE controllable_actions SET
			deployment_id = ?, name = ?, action_class_id = ?, is_active = ?, is_automated = ?,
			maximum_duration_seconds = ?, additional_information = ?, hardware_id = ?, updated_at = ?
		WHERE id = ?`,
		a.DeploymentID,
		a.Name,
		a.ClassID,
		boolToInt(a.IsActive),
		boolToInt(a.IsAutomated),
		nullableInt(a.MaximumDurationSeconds),
		jsonOrEmptyObject(a.AdditionalInformation),
		a.HardwareID,
		database.FormatTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrHardwareNotFound
		}
		return fmt.Errorf("updating action: %w", err)
	}
	return expectOneRow(result, ErrActionNotFound)
}

// DeleteAction removes an action along with its triggers and queue history.
func (r *SQLiteRepository) DeleteAction(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM controllable_actions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting action: %w", err)
	}
	return expectOneRow(result, ErrActionNotFound)
}

// ─── Triggers ───────────────────────────────────────────────────────────────

// GetTrigger retrieves a trigger by ID.
func (r *SQLiteRepository) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM action_triggers WHERE id = ?`, id)
	t, err := scanTriggerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTriggerNotFound
		}
		return nil, fmt.Errorf("querying trigger: %w", err)
	}
	return t, nil
}

// ListTriggers retrieves every trigger of an action, oldest first.
func (r *SQLiteRepository) ListTriggers(ctx context.Context, actionID string) ([]Trigger, error) {
	return r.queryTriggers(ctx,
		`SELECT `+triggerColumns+` FROM action_triggers WHERE action_id = ? ORDER BY created_at, id`,
		actionID)
}

// ListActiveTriggersByType retrieves active triggers of one type.
func (r *SQLiteRepository) ListActiveTriggersByType(ctx context.Context, t TriggerType) ([]Trigger, error) {
	return r.queryTriggers(ctx,
		`SELECT `+triggerColumns+` FROM action_triggers WHERE type = ? AND is_active = 1 ORDER BY created_at, id`,
		string(t))
}

// ListActiveSensorTriggers retrieves active sensorValue triggers bound to a sensor.
func (r *SQLiteRepository) ListActiveSensorTriggers(ctx context.Context, sensorID string) ([]Trigger, error) {
	return r.queryTriggers(ctx,
		`SELECT `+triggerColumns+` FROM action_triggers
		 WHERE sensor_id = ? AND type = ? AND is_active = 1 ORDER BY created_at, id`,
		sensorID, string(TriggerSensorValue))
}

// CreateTrigger inserts a new trigger.
func (r *SQLiteRepository) CreateTrigger(ctx context.Context, t *Trigger) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Origin == "" {
		t.Origin = OriginUser
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO action_triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.ActionID,
		string(t.Type),
		t.ActionValue,
		jsonOrEmptyObject(t.Logic),
		boolToInt(t.IsActive),
		string(t.Origin),
		nullableString(t.SensorID),
		database.FormatTime(t.CreatedAt),
		database.FormatTime(t.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrActionNotFound
		}
		return fmt.Errorf("inserting trigger: %w", err)
	}
	return nil
}

// UpdateTrigger modifies an existing trigger. The owning action cannot change.
func (r *SQLiteRepository) UpdateTrigger(ctx context.Context, t *Trigger) error {
	t.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE action_triggers SET
			type = ?, action_value = ?, trigger_logic = ?, is_active = ?, sensor_id = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Type),
		t.ActionValue,
		jsonOrEmptyObject(t.Logic),
		boolToInt(t.IsActive),
		nullableString(t.SensorID),
		database.FormatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating trigger: %w", err)
	}
	return expectOneRow(result, ErrTriggerNotFound)
}

// DeleteTrigger removes a trigger and its queue history.
func (r *SQLiteRepository) DeleteTrigger(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM action_triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}
	return expectOneRow(result, ErrTriggerNotFound)
}

// SetTriggerActive flips the active flag of a trigger.
func (r *SQLiteRepository) SetTriggerActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE action_triggers SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating trigger state: %w", err)
	}
	return expectOneRow(result, ErrTriggerNotFound)
}

// ClaimTrigger atomically deactivates an active trigger.
func (r *SQLiteRepository) ClaimTrigger(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE action_triggers SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1",
		database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("claiming trigger: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) queryTriggers(ctx context.Context, query string, args ...any) ([]Trigger, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, scanErr := scanTriggerRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning trigger: %w", scanErr)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating triggers: %w", err)
	}
	return out, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanHardwareRow(scanner rowScanner) (*Hardware, error) {
	var h Hardware
	var description sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(&h.ID, &h.Name, &description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		h.Description = &description.String
	}
	h.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	h.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &h, nil
}

func scanActionRow(scanner rowScanner) (*ControllableAction, error) {
	var a ControllableAction
	var isActive, isAutomated int
	var maxDuration sql.NullInt64
	var info string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&a.ID,
		&a.DeploymentID,
		&a.Name,
		&a.ClassID,
		&isActive,
		&isAutomated,
		&maxDuration,
		&info,
		&a.HardwareID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.IsActive = isActive != 0
	a.IsAutomated = isAutomated != 0
	if maxDuration.Valid {
		d := int(maxDuration.Int64)
		a.MaximumDurationSeconds = &d
	}
	a.AdditionalInformation = json.RawMessage(info)
	a.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	a.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &a, nil
}

func scanTriggerRow(scanner rowScanner) (*Trigger, error) {
	var t Trigger
	var typ, logic, origin string
	var isActive int
	var sensorID sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&t.ID,
		&t.ActionID,
		&typ,
		&t.ActionValue,
		&logic,
		&isActive,
		&origin,
		&sensorID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = TriggerType(typ)
	t.Logic = json.RawMessage(logic)
	t.IsActive = isActive != 0
	t.Origin = Origin(origin)
	if sensorID.Valid {
		t.SensorID = &sensorID.String
	}
	t.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	t.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // Format is controlled
	return &t, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
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

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func jsonOrEmptyObject(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
