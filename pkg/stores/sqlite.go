package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/embercast/kindler/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a store for the given database path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database in WAL mode and runs pending migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveReport persists a sealed report inside one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.Report) error {
	if !report.Sealed() {
		return fmt.Errorf("report %s is not sealed", report.RunID)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	summary := report.Summary()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, goal, rollup, started_at, completed_at, duration_ms, total, failed, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		string(report.Goal),
		string(report.Rollup()),
		report.StartedAt,
		report.CompletedAt(),
		report.Duration().Milliseconds(),
		summary.Total,
		summary.Failed,
		summary.Warnings,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_results (id, run_id, host, task, status, changed, message, code, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, res := range report.Results() {
		_, err := stmt.ExecContext(ctx,
			res.ID,
			res.RunID,
			res.Host,
			res.Task,
			string(res.Status),
			res.Changed,
			res.Message,
			res.Code,
			res.StartedAt,
			res.CompletedAt,
			res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s/%s: %w", res.Host, res.Task, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// GetRun retrieves a run header by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal, rollup, started_at, completed_at, duration_ms, total, failed, warnings
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns run headers newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal, rollup, started_at, completed_at, duration_ms, total, failed, warnings
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListResults returns the task results of one run in completion order.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*TaskResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, host, task, status, changed, message, code, started_at, completed_at, duration_ms
		FROM task_results
		WHERE run_id = ?
		ORDER BY completed_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*TaskResultRecord
	for rows.Next() {
		rec := &TaskResultRecord{}
		var durationMS int64
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Host,
			&rec.Task,
			&rec.Status,
			&rec.Changed,
			&rec.Message,
			&rec.Code,
			&rec.StartedAt,
			&rec.CompletedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, rec)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var durationMS int64
	err := row.Scan(
		&run.ID,
		&run.Goal,
		&run.Rollup,
		&run.StartedAt,
		&run.CompletedAt,
		&durationMS,
		&run.Total,
		&run.Failed,
		&run.Warnings,
	)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
