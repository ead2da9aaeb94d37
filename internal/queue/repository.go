package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const queueColumns = `id, policy, status, entries, started_at, ended_at`

// SQLiteStore keeps queue history in the queue_runs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create inserts a queue run.
func (s *SQLiteStore) Create(ctx context.Context, p *Progress) error {
	entries, err := json.Marshal(p.Entries)
	if err != nil {
		return fmt.Errorf("marshalling entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_runs (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Policy, p.Status, string(entries),
		p.StartedAt.Format(timeLayout), nullableTime(p.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting queue run: %w", err)
	}
	return nil
}

// Update records the current progress of a queue run.
func (s *SQLiteStore) Update(ctx context.Context, p *Progress) error {
	entries, err := json.Marshal(p.Entries)
	if err != nil {
		return fmt.Errorf("marshalling entries: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_runs SET status = ?, entries = ?, ended_at = ?
		WHERE id = ?`,
		p.Status, string(entries), nullableTime(p.EndedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating queue run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrQueueNotFound
	}
	return nil
}

// Get retrieves a queue run by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Progress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_runs WHERE id = ?`, id)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, fmt.Errorf("querying queue run: %w", err)
	}
	return p, nil
}

// List returns the most recent queue runs, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Progress, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying queue runs: %w", err)
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		p, scanErr := scanProgress(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning queue run: %w", scanErr)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(scanner rowScanner) (*Progress, error) {
	var p Progress
	var entries, startedAt string
	var endedAt sql.NullString

	if err := scanner.Scan(&p.ID, &p.Policy, &p.Status, &entries, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(entries), &p.Entries); err != nil {
		return nil, fmt.Errorf("unmarshalling entries: %w", err)
	}
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		p.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(timeLayout, endedAt.String); err == nil {
			p.EndedAt = &t
		}
	}
	return &p, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}
