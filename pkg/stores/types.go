// Package stores persists sealed run reports to a local SQLite
// database so past runs remain inspectable via `kindler report`.
package stores

import (
	"context"
	"time"

	"github.com/embercast/kindler/pkg/engine"
)

// Run is the persisted header of one goal execution.
type Run struct {
	ID          string        `json:"id"`
	Goal        string        `json:"goal"`
	Rollup      string        `json:"rollup"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Total       int           `json:"total"`
	Failed      int           `json:"failed"`
	Warnings    int           `json:"warnings"`
}

// TaskResultRecord is one persisted task result row.
type TaskResultRecord struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Host        string        `json:"host"`
	Task        string        `json:"task"`
	Status      string        `json:"status"`
	Changed     bool          `json:"changed"`
	Message     string        `json:"message"`
	Code        string        `json:"code,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Store is the persistence interface for run reports.
type Store interface {
	// Init opens the database and runs pending migrations.
	Init(ctx context.Context) error

	// SaveReport persists a sealed report with all of its results.
	SaveReport(ctx context.Context, report *engine.Report) error

	// GetRun retrieves one run header by id.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns run headers newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// ListResults returns the task results of one run in completion
	// order.
	ListResults(ctx context.Context, runID string) ([]*TaskResultRecord, error)

	// Close releases the database.
	Close() error
}
