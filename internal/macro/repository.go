package macro

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines script and run-history persistence.
type Repository interface {
	// Script CRUD
	GetByID(ctx context.Context, id string) (*Script, error)
	GetByName(ctx context.Context, name string) (*Script, error)
	List(ctx context.Context) ([]Script, error)
	Create(ctx context.Context, script *Script) error
	Update(ctx context.Context, script *Script) error
	Delete(ctx context.Context, id string) error

	// Run history
	RunStore
	GetRun(ctx context.Context, id string) (*RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]RunResult, error)
}

const scriptColumns = `id, name, version, description, steps, created_at, updated_at`

const runColumns = `id, script_id, script_name, status, reason, failed_step, stats, started_at, ended_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a script by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Script, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = ?`, id)
	s, err := scanScriptRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScriptNotFound
		}
		return nil, fmt.Errorf("querying script by id: %w", err)
	}
	return s, nil
}

// GetByName retrieves a script by its unique name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Script, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE name = ?`, name)
	s, err := scanScriptRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScriptNotFound
		}
		return nil, fmt.Errorf("querying script by name: %w", err)
	}
	return s, nil
}

// List retrieves all scripts ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Script, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying scripts: %w", err)
	}
	defer rows.Close()

	var scripts []Script
	for rows.Next() {
		s, scanErr := scanScriptRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning script: %w", scanErr)
		}
		scripts = append(scripts, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scripts: %w", err)
	}
	return scripts, nil
}

// Create inserts a new script.
func (r *SQLiteRepository) Create(ctx context.Context, s *Script) error {
	stepsJSON, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scripts (`+scriptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.Name,
		s.Version,
		nullableString(s.Description),
		string(stepsJSON),
		s.CreatedAt.Format(time.RFC3339),
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrScriptExists
		}
		return fmt.Errorf("inserting script: %w", err)
	}
	return nil
}

// Update replaces an existing script.
func (r *SQLiteRepository) Update(ctx context.Context, s *Script) error {
	stepsJSON, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE scripts SET
			name = ?, version = ?, description = ?, steps = ?, updated_at = ?
		WHERE id = ?`,
		s.Name,
		s.Version,
		nullableString(s.Description),
		string(stepsJSON),
		s.UpdatedAt.Format(time.RFC3339),
		s.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrScriptExists
		}
		return fmt.Errorf("updating script: %w", err)
	}
	return expectOneRow(result, ErrScriptNotFound)
}

// Delete removes a script by ID. Run history is kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	return expectOneRow(result, ErrScriptNotFound)
}

// CreateRun inserts a run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *RunResult) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshalling stats: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		nullableString(run.ScriptID),
		run.ScriptName,
		string(run.Status),
		nullableString(run.Reason),
		nullableStep(run.FailedStep),
		string(statsJSON),
		run.StartedAt.Format(runTimeLayout),
		nullableTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun records a run's current status.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *RunResult) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshalling stats: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, reason = ?, failed_step = ?, stats = ?, ended_at = ?
		WHERE id = ?`,
		string(run.Status),
		nullableString(run.Reason),
		nullableStep(run.FailedStep),
		string(statsJSON),
		nullableTime(run.EndedAt),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return expectOneRow(result, ErrRunNotFound)
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*RunResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]RunResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunResult
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScriptRow(scanner rowScanner) (*Script, error) {
	var s Script
	var description sql.NullString
	var stepsJSON, createdAt, updatedAt string

	if err := scanner.Scan(&s.ID, &s.Name, &s.Version, &description, &stepsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		s.Description = description.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		s.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	if err := json.Unmarshal([]byte(stepsJSON), &s.Steps); err != nil {
		return nil, fmt.Errorf("unmarshalling steps: %w", err)
	}
	return &s, nil
}

func scanRunRow(scanner rowScanner) (*RunResult, error) {
	var run RunResult
	var scriptID, reason, endedAt sql.NullString
	var failedStep sql.NullInt64
	var status, statsJSON, startedAt string

	err := scanner.Scan(&run.RunID, &scriptID, &run.ScriptName, &status, &reason,
		&failedStep, &statsJSON, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.ScriptID = scriptID.String
	run.Reason = reason.String
	run.FailedStep = -1
	if failedStep.Valid {
		run.FailedStep = int(failedStep.Int64)
		run.Step = run.FailedStep
	}
	if t, parseErr := time.Parse(runTimeLayout, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	if endedAt.Valid {
		if t, parseErr := time.Parse(runTimeLayout, endedAt.String); parseErr == nil {
			run.EndedAt = &t
		}
	}
	if statsJSON != "" {
		if jsonErr := json.Unmarshal([]byte(statsJSON), &run.Stats); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling stats: %w", jsonErr)
		}
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

// runTimeLayout is fixed width so started_at sorts as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableStep(step int) sql.NullInt64 {
	if step < 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(step), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(runTimeLayout), Valid: true}
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

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
