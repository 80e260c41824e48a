// Package store keeps a local catalog of estimation and simulation runs in
// SQLite, so parameter files can be traced back to the run that produced
// them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	source      TEXT    NOT NULL,
	genes       INTEGER NOT NULL,
	cells       INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	params_yaml TEXT    NOT NULL
);
`

// ErrNotFound reports a run id with no record.
var ErrNotFound = errors.New("run not found")

// Run is one estimation or simulation run record. ParamsYAML carries the
// full parameter set, so a record is enough to reproduce its run.
type Run struct {
	ID         int64
	CreatedAt  time.Time
	Kind       string // "estimate" or "simulate"
	Source     string // counts path or params path the run started from
	Genes      int
	Cells      int
	Seed       int64
	ParamsYAML string
}

// Store is a local single-writer run catalog.
type Store struct {
	db *sql.DB
}

// Open opens the catalog at path, creating the file and schema if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("store has schema version %d, this build expects %d", v, schemaVersion)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun inserts a run record and returns its id. A zero CreatedAt is
// filled with the current time.
func (s *Store) SaveRun(ctx context.Context, r Run) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (created_at, kind, source, genes, cells, seed, params_yaml)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.Format(time.RFC3339Nano), r.Kind, r.Source, r.Genes, r.Cells, r.Seed, r.ParamsYAML)
	if err != nil {
		return 0, fmt.Errorf("saving run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// GetRun loads one run by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetRun(ctx context.Context, id int64) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, kind, source, genes, cells, seed, params_yaml
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, kind, source, genes, cells, seed, params_yaml
		 FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var created string
	if err := row.Scan(&r.ID, &created, &r.Kind, &r.Source, &r.Genes, &r.Cells, &r.Seed, &r.ParamsYAML); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("parsing run timestamp: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}
