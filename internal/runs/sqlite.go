package runs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed run ledger
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	// AUTOINCREMENT keeps numbers of deleted rows from being handed out again
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			number INTEGER PRIMARY KEY AUTOINCREMENT,
			owner INTEGER NOT NULL DEFAULT 0,
			mode TEXT NOT NULL,
			keyframes INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			images INTEGER NOT NULL DEFAULT 0,
			video_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Allocate inserts a running row and returns its number
func (s *SQLiteStore) Allocate(run Run) (int64, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO runs (owner, mode, keyframes, summary, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.Owner, run.Mode, run.Keyframes, run.Summary, StatusRunning, run.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("allocate run: %w", err)
	}

	number, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read run number: %w", err)
	}
	return number, nil
}

// Finish records the outcome of a run
func (s *SQLiteStore) Finish(number int64, outcome Outcome) error {
	res, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, images = ?, video_path = ?, error = ?, finished_at = ?
		WHERE number = ?
	`, outcome.Status, outcome.Images, outcome.VideoPath, outcome.Error, time.Now(), number)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %d not found", number)
	}
	return nil
}

// Get retrieves a run by number
func (s *SQLiteStore) Get(number int64) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT number, owner, mode, keyframes, summary, status, images, video_path, error, started_at, finished_at
		FROM runs WHERE number = ?
	`, number)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Recent lists the latest runs of owner
func (s *SQLiteStore) Recent(owner int64, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT number, owner, mode, keyframes, summary, status, images, video_path, error, started_at, finished_at
		FROM runs WHERE owner = ?
		ORDER BY number DESC
		LIMIT ?
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finishedAt sql.NullTime

	err := row.Scan(
		&run.Number,
		&run.Owner,
		&run.Mode,
		&run.Keyframes,
		&run.Summary,
		&run.Status,
		&run.Images,
		&run.VideoPath,
		&run.Error,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
