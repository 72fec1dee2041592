// Package store provides SQLite-backed history of the analyses started
// from the command line and the status changes observed for them.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Analysis is one recorded analysis.
type Analysis struct {
	ID          string
	APIURL      string
	Status      string
	Completed   int
	Total       int
	Cursor      string
	ResultCount int
	TestsDir    string
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// Transition is a status change observed for an analysis.
type Transition struct {
	AnalysisID string
	From       string
	To         string
	At         time.Time
}

// Store wraps a SQLite database holding analysis history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (or creates) a SQLite database at dbPath and ensures
// all required tables exist. Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analyses (
			id           TEXT PRIMARY KEY,
			api_url      TEXT NOT NULL,
			status       TEXT NOT NULL,
			completed    INTEGER NOT NULL DEFAULT 0,
			total        INTEGER NOT NULL DEFAULT 0,
			cursor       TEXT NOT NULL DEFAULT '',
			result_count INTEGER NOT NULL DEFAULT 0,
			tests_dir    TEXT NOT NULL DEFAULT '',
			started_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			at          DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transitions_analysis ON transitions (analysis_id)`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, c := range stmt {
		if c == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}

// SaveAnalysis inserts the analysis or updates its progress. StartedAt is
// set on first save and kept afterwards.
func (s *Store) SaveAnalysis(a Analysis) error {
	now := s.now()
	started := a.StartedAt
	if started.IsZero() {
		started = now
	}
	_, err := s.db.Exec(
		`INSERT INTO analyses (id, api_url, status, completed, total, cursor, result_count, tests_dir, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed = excluded.completed,
			total = excluded.total,
			cursor = excluded.cursor,
			result_count = excluded.result_count,
			tests_dir = CASE WHEN excluded.tests_dir = '' THEN analyses.tests_dir ELSE excluded.tests_dir END,
			updated_at = excluded.updated_at`,
		a.ID, a.APIURL, a.Status, a.Completed, a.Total, a.Cursor, a.ResultCount, a.TestsDir, started, now,
	)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, api_url, status, completed, total, cursor, result_count, tests_dir, started_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (Analysis, error) {
	var a Analysis
	err := row.Scan(&a.ID, &a.APIURL, &a.Status, &a.Completed, &a.Total, &a.Cursor,
		&a.ResultCount, &a.TestsDir, &a.StartedAt, &a.UpdatedAt)
	return a, err
}

// GetAnalysis retrieves an analysis by id. Returns nil if it is not found.
func (s *Store) GetAnalysis(id string) (*Analysis, error) {
	a, err := scanAnalysis(s.db.QueryRow(
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return &a, nil
}

// ListAnalyses returns up to limit analyses, most recently started first.
// A limit of zero or less returns all of them.
func (s *Store) ListAnalyses(limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT `+analysisColumns+` FROM analyses
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnalysis removes an analysis and its transitions.
func (s *Store) DeleteAnalysis(id string) error {
	if _, err := s.db.Exec(`DELETE FROM transitions WHERE analysis_id = ?`, id); err != nil {
		return fmt.Errorf("delete transitions: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM analyses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	return nil
}

// RecordTransition appends a status change for an analysis that has
// already been saved.
func (s *Store) RecordTransition(id, from, to string) error {
	_, err := s.db.Exec(
		`INSERT INTO transitions (analysis_id, from_status, to_status, at) VALUES (?, ?, ?, ?)`,
		id, from, to, s.now(),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ListTransitions returns the status changes of an analysis in the order
// they were recorded.
func (s *Store) ListTransitions(id string) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT analysis_id, from_status, to_status, at FROM transitions
		 WHERE analysis_id = ? ORDER BY rowid`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.AnalysisID, &t.From, &t.To, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
