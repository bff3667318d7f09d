package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CoderBotOrg/coderbot/internal/model"

	_ "modernc.org/sqlite"
)

const createProgramsTable = `
CREATE TABLE IF NOT EXISTS programs (
    name       TEXT PRIMARY KEY,
    filename   TEXT NOT NULL,
    is_default INTEGER NOT NULL DEFAULT 0
)`

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    program     TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT,
    log         TEXT,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createRunsProgramIndex = `CREATE INDEX IF NOT EXISTS runs_program ON runs (program, started_at)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite for records and one JSON file per
// program payload.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createProgramsTable, createRunsTable, createRunsProgramIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListPrograms returns every catalog record ordered by name.
func (s *SQLiteStore) ListPrograms(ctx context.Context) ([]model.ProgramRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, filename, is_default FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var recs []model.ProgramRecord
	for rows.Next() {
		var r model.ProgramRecord
		if err := rows.Scan(&r.Name, &r.Filename, &r.Default); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate programs: %w", err)
	}
	return recs, nil
}

// FindProgram retrieves the record with exactly the given name.
func (s *SQLiteStore) FindProgram(ctx context.Context, name string) (*model.ProgramRecord, error) {
	r := &model.ProgramRecord{}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, filename, is_default FROM programs WHERE name = ?", name,
	).Scan(&r.Name, &r.Filename, &r.Default)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find program: %w", err)
	}
	return r, nil
}

// SaveProgram writes the payload file and upserts the record by name. The
// payload is written first so a successful save never leaves the record
// pointing at a missing file.
func (s *SQLiteStore) SaveProgram(ctx context.Context, rec model.ProgramRecord, payload model.ProgramPayload) error {
	if err := writePayload(rec.Filename, payload); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO programs (name, filename, is_default) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET filename = excluded.filename, is_default = excluded.is_default`,
		rec.Name, rec.Filename, rec.Default,
	)
	if err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}
	return nil
}

// DeleteProgram removes the record and its payload file. Deleting an unknown
// name is a no-op.
func (s *SQLiteStore) DeleteProgram(ctx context.Context, name string) error {
	rec, err := s.FindProgram(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := removePayload(rec.Filename); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	return nil
}

// ReadPayload loads the payload file referenced by rec.
func (s *SQLiteStore) ReadPayload(_ context.Context, rec model.ProgramRecord) (*model.ProgramPayload, error) {
	return readPayload(rec.Filename)
}

// insertIfAbsent registers a record discovered on disk unless the name is
// already indexed. It reports whether a row was inserted.
func (s *SQLiteStore) insertIfAbsent(ctx context.Context, rec model.ProgramRecord) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO programs (name, filename, is_default) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING",
		rec.Name, rec.Filename, rec.Default,
	)
	if err != nil {
		return false, fmt.Errorf("insert program: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}

// CreateRun inserts a run history row.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, program, status, error, log, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Program, r.Status, r.Error, r.Log, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run. finished_at defaults to now when unset.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	finished := time.Now().UTC()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, log = ?, finished_at = ? WHERE id = ?",
		r.Status, r.Error, r.Log, finished, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs of program, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, program string, limit int) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, program, status, error, log, started_at, finished_at
		FROM runs WHERE program = ? ORDER BY started_at DESC, id DESC LIMIT ?`, program, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r := &model.Run{}
		var errMsg, logText sql.NullString
		if err := rows.Scan(&r.ID, &r.Program, &r.Status, &errMsg, &logText, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Error = errMsg.String
		r.Log = logText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
