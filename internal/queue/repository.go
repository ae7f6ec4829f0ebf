package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/infrastructure/database"
)

// Repository defines the persistence interface for queue entries.
type Repository interface {
	// Enqueue inserts e unless its trigger already has an unfinished entry.
	// It returns the stored entry and whether it was created.
	Enqueue(ctx context.Context, e *Entry) (*Entry, bool, error)

	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, f ListFilter) ([]Entry, error)

	// ListPending returns entries that have neither started nor ended,
	// oldest first.
	ListPending(ctx context.Context) ([]Entry, error)

	// HardwareBusy reports whether the hardware unit has a running entry.
	HardwareBusy(ctx context.Context, hardwareID string) (bool, error)

	// OldestUnfinishedManual returns the ID of the oldest unfinished manual
	// entry for the hardware unit, or "" when there is none.
	OldestUnfinishedManual(ctx context.Context, hardwareID string) (string, error)

	// HasUnfinished reports whether the trigger has an unfinished entry.
	HasUnfinished(ctx context.Context, triggerID string) (bool, error)

	// MarkStarted sets StartedAt if the entry is pending and no other entry
	// of the same hardware unit is running. It reports whether it did.
	MarkStarted(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkEnded sets EndedAt and the outcome of an unfinished entry.
	MarkEnded(ctx context.Context, id string, at time.Time, outcome Outcome, errText string) error

	// SupersedePending ends the pending entries of an action whose trigger
	// is not manual. It returns how many were ended.
	SupersedePending(ctx context.Context, actionID string, at time.Time) (int, error)

	// FailRunning ends every running entry as failed. Used on startup for
	// entries interrupted by a restart.
	FailRunning(ctx context.Context, at time.Time, reason string) (int, error)

	// DeleteEndedBefore removes ended entries older than cutoff.
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteSpentTriggers removes inactive energy and forecast triggers
	// last touched before cutoff that no entry references any more.
	DeleteSpentTriggers(ctx context.Context, cutoff time.Time) (int, error)
}

const entrySelect = `
	SELECT q.id, q.action_id, q.trigger_id, q.hardware_id, q.created_at, q.started_at,
	       q.ended_at, q.outcome, q.error, t.type, t.action_value
	FROM action_queue q
	JOIN action_triggers t ON t.id = q.trigger_id`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Enqueue inserts a pending entry. The existence check and the insert share
// a transaction; the partial unique index on unfinished trigger entries
// catches anything that slips past.
func (r *SQLiteRepository) Enqueue(ctx context.Context, e *Entry) (*Entry, bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var existingID string
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM action_queue WHERE trigger_id = ? AND ended_at IS NULL", e.TriggerID,
		).Scan(&existingID)
		switch {
		case err == nil:
			return ErrAlreadyQueued
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("checking unfinished entries: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO action_queue (id, action_id, trigger_id, hardware_id, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.ActionID, e.TriggerID, e.HardwareID, database.FormatTime(e.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyQueued
			}
			if isForeignKeyError(err) {
				return action.ErrTriggerNotFound
			}
			return fmt.Errorf("inserting queue entry: %w", err)
		}
		return nil
	})

	switch {
	case err == nil:
		stored, getErr := r.Get(ctx, e.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return stored, true, nil
	case errors.Is(err, ErrAlreadyQueued):
		if existingID == "" {
			// Lost the race to a concurrent insert.
			return r.unfinishedForTrigger(ctx, e.TriggerID)
		}
		stored, getErr := r.Get(ctx, existingID)
		if getErr != nil {
			return nil, false, getErr
		}
		return stored, false, nil
	default:
		return nil, false, err
	}
}

func (r *SQLiteRepository) unfinishedForTrigger(ctx context.Context, triggerID string) (*Entry, bool, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+` WHERE q.trigger_id = ? AND q.ended_at IS NULL`, triggerID)
	e, err := scanEntryRow(row)
	if err != nil {
		return nil, false, fmt.Errorf("querying unfinished entry: %w", err)
	}
	return e, false, nil
}

// Get retrieves an entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+` WHERE q.id = ?`, id)
	e, err := scanEntryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying queue entry: %w", err)
	}
	return e, nil
}

// List returns entries matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	var where []string
	var args []any
	if f.ActionID != "" {
		where = append(where, "q.action_id = ?")
		args = append(args, f.ActionID)
	}
	if f.HardwareID != "" {
		where = append(where, "q.hardware_id = ?")
		args = append(args, f.HardwareID)
	}
	if f.UnfinishedOnly {
		where = append(where, "q.ended_at IS NULL")
	}

	query := entrySelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY q.created_at DESC, q.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryEntries(ctx, query, args...)
}

// ListPending returns entries that have neither started nor ended.
func (r *SQLiteRepository) ListPending(ctx context.Context) ([]Entry, error) {
	return r.queryEntries(ctx, entrySelect+`
		WHERE q.started_at IS NULL AND q.ended_at IS NULL
		ORDER BY q.created_at, q.id`)
}

// HardwareBusy reports whether the hardware unit has a running entry.
func (r *SQLiteRepository) HardwareBusy(ctx context.Context, hardwareID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM action_queue
		WHERE hardware_id = ? AND started_at IS NOT NULL AND ended_at IS NULL`, hardwareID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking running entries: %w", err)
	}
	return n > 0, nil
}

// OldestUnfinishedManual returns the oldest unfinished manual entry ID for a
// hardware unit.
func (r *SQLiteRepository) OldestUnfinishedManual(ctx context.Context, hardwareID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT q.id FROM action_queue q
		JOIN action_triggers t ON t.id = q.trigger_id
		WHERE q.hardware_id = ? AND q.ended_at IS NULL AND t.type = ?
		ORDER BY q.created_at, q.id
		LIMIT 1`, hardwareID, string(action.TriggerManual),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying manual entries: %w", err)
	}
	return id, nil
}

// HasUnfinished reports whether the trigger has an unfinished entry.
func (r *SQLiteRepository) HasUnfinished(ctx context.Context, triggerID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM action_queue WHERE trigger_id = ? AND ended_at IS NULL", triggerID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking unfinished entries: %w", err)
	}
	return n > 0, nil
}

// MarkStarted atomically admits a pending entry.
func (r *SQLiteRepository) MarkStarted(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE action_queue SET started_at = ?
		WHERE id = ? AND started_at IS NULL AND ended_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM action_queue running
		      WHERE running.hardware_id = action_queue.hardware_id
		        AND running.started_at IS NOT NULL AND running.ended_at IS NULL
		  )`,
		database.FormatTime(at), id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("starting queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkEnded finishes an unfinished entry.
func (r *SQLiteRepository) MarkEnded(ctx context.Context, id string, at time.Time, outcome Outcome, errText string) error {
	var errValue sql.NullString
	if errText != "" {
		errValue = sql.NullString{String: errText, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE action_queue SET ended_at = ?, outcome = ?, error = ?
		WHERE id = ? AND ended_at IS NULL`,
		database.FormatTime(at), string(outcome), errValue, id,
	)
	if err != nil {
		return fmt.Errorf("ending queue entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: entry %s already ended", ErrInvalidTransition, id)
	}
	return nil
}

// SupersedePending ends pending non-manual entries of an action.
func (r *SQLiteRepository) SupersedePending(ctx context.Context, actionID string, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE action_queue SET ended_at = ?, outcome = ?
		WHERE action_id = ? AND started_at IS NULL AND ended_at IS NULL
		  AND trigger_id IN (SELECT id FROM action_triggers WHERE type != ?)`,
		database.FormatTime(at), string(OutcomeSuperseded), actionID, string(action.TriggerManual),
	)
	if err != nil {
		return 0, fmt.Errorf("superseding queue entries: %w", err)
	}
	return rowsAffected(result)
}

// FailRunning ends every running entry as failed.
func (r *SQLiteRepository) FailRunning(ctx context.Context, at time.Time, reason string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE action_queue SET ended_at = ?, outcome = ?, error = ?
		WHERE started_at IS NOT NULL AND ended_at IS NULL`,
		database.FormatTime(at), string(OutcomeFailed), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("failing running entries: %w", err)
	}
	return rowsAffected(result)
}

// DeleteEndedBefore removes ended entries older than cutoff.
func (r *SQLiteRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM action_queue WHERE ended_at IS NOT NULL AND ended_at < ?",
		database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting queue entries: %w", err)
	}
	return rowsAffected(result)
}

// DeleteSpentTriggers removes inactive system-created triggers with no
// queue history left.
func (r *SQLiteRepository) DeleteSpentTriggers(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM action_triggers
		WHERE is_active = 0
		  AND origin IN (?, ?)
		  AND updated_at < ?
		  AND NOT EXISTS (SELECT 1 FROM action_queue q WHERE q.trigger_id = action_triggers.id)`,
		string(action.OriginEnergy), string(action.OriginForecast), database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting spent triggers: %w", err)
	}
	return rowsAffected(result)
}

func (r *SQLiteRepository) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, scanErr := scanEntryRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", scanErr)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue entries: %w", err)
	}
	return out, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(scanner rowScanner) (*Entry, error) {
	var e Entry
	var createdAt string
	var startedAt, endedAt, outcome, errText sql.NullString
	var triggerType string

	err := scanner.Scan(
		&e.ID, &e.ActionID, &e.TriggerID, &e.HardwareID, &createdAt,
		&startedAt, &endedAt, &outcome, &errText, &triggerType, &e.ActionValue,
	)
	if err != nil {
		return nil, err
	}

	e.TriggerType = action.TriggerType(triggerType)
	e.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Format is controlled
	e.StartedAt = parseNullableTime(startedAt)
	e.EndedAt = parseNullableTime(endedAt)
	if outcome.Valid {
		o := Outcome(outcome.String)
		e.Outcome = &o
	}
	if errText.Valid {
		e.Error = &errText.String
	}
	return &e, nil
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := database.ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
