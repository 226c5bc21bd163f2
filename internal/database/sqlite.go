package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"offsync-go/internal/database/migrations"
	"offsync-go/internal/offsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements offsync.History using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and migrates it to the latest schema.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Run operations

func (s *SQLiteDatabase) CreateRun(runID, operation, parameters string, startedAt time.Time) (*offsync.Run, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (run_id, operation, parameters, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		runID, operation, parameters, startedAt.UTC(), offsync.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return &offsync.Run{
		ID:         id,
		RunID:      runID,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt.UTC(),
		Status:     offsync.RunRunning,
	}, nil
}

func (s *SQLiteDatabase) FinishRun(run *offsync.Run, status string, finishedAt time.Time, rep *offsync.Report) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	defer tx.Rollback()

	finished := finishedAt.UTC()
	run.FinishedAt = &finished
	run.Status = status
	if rep != nil {
		run.Total = rep.Total
		run.Completed = rep.Completed
		run.Skipped = rep.Skipped
		run.Warned = rep.Warned
		run.Errored = rep.Errored
		run.Bytes = rep.Bytes
	}

	_, err = tx.Exec(`UPDATE runs SET finished_at = ?, status = ?, total = ?, completed = ?,
		skipped = ?, warned = ?, errored = ?, bytes = ? WHERE id = ?`,
		finished, status, run.Total, run.Completed, run.Skipped, run.Warned, run.Errored, run.Bytes, run.ID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	if rep != nil && len(rep.Issues) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_records
			(run_id, top_directory, relative_path, update_type, status, message) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("recording issues: %w", err)
		}
		defer stmt.Close()
		for _, is := range rep.Issues {
			if _, err := stmt.Exec(run.ID, is.TopDirectory, is.RelativePath,
				string(is.UpdateType), string(is.Status), is.Message); err != nil {
				return fmt.Errorf("recording issue for %s/%s: %w", is.TopDirectory, is.RelativePath, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all of them.
func (s *SQLiteDatabase) ListRuns(limit int) ([]*offsync.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, run_id, operation, parameters, started_at, finished_at, status,
		total, completed, skipped, warned, errored, bytes FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*offsync.Run
	for rows.Next() {
		var r offsync.Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.RunID, &r.Operation, &r.Parameters, &r.StartedAt, &finished, &r.Status,
			&r.Total, &r.Completed, &r.Skipped, &r.Warned, &r.Errored, &r.Bytes); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if finished.Valid {
			t := finished.Time.UTC()
			r.FinishedAt = &t
		}
		r.StartedAt = r.StartedAt.UTC()
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// RunIssues returns the warnings and errors stored for a run. An unknown runID yields
// no issues.
func (s *SQLiteDatabase) RunIssues(runID string) ([]offsync.Issue, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM runs WHERE run_id = ?`, runID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding run %s: %w", runID, err)
	}

	rows, err := s.db.Query(`SELECT top_directory, relative_path, update_type, status, message
		FROM run_records WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var issues []offsync.Issue
	for rows.Next() {
		var is offsync.Issue
		var updateType, status string
		if err := rows.Scan(&is.TopDirectory, &is.RelativePath, &updateType, &status, &is.Message); err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		is.UpdateType = offsync.UpdateType(updateType)
		is.Status = offsync.Status(status)
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	return issues, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ offsync.History = (*SQLiteDatabase)(nil)
