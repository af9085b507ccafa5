package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome classification of one task execution on one host.
type Status string

const (
	// StatusOK means the task succeeded with no state change (idempotent
	// convergence).
	StatusOK Status = "OK"

	// StatusChanged means the task performed an action successfully.
	StatusChanged Status = "CHANGED"

	// StatusWarning means the task succeeded with a non-critical issue.
	StatusWarning Status = "WARNING"

	// StatusFailed means the task failed, blocking further steps unless
	// the run continues on error.
	StatusFailed Status = "FAILED"

	// StatusSkipped means the task did not apply to the environment.
	StatusSkipped Status = "SKIPPED"
)

// TaskResult is the structured outcome of one task on one host.
type TaskResult struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	Host    string `json:"host"`
	Task    string `json:"task"`
	Status  Status `json:"status"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`

	// Code carries the error code for FAILED results (timeout, dial,
	// panic...) so callers can distinguish failure kinds.
	Code string `json:"code,omitempty"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Summary counts results by status.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Changed  int `json:"changed"`
	Warnings int `json:"warnings"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Report aggregates every TaskResult produced during one goal execution.
// Worker lanes from the same step's fan-out append concurrently; Append is
// safe under concurrent writers. Seal freezes the report and computes the
// rollup; appends after sealing are dropped.
type Report struct {
	RunID     string
	Goal      Goal
	StartedAt time.Time

	mu          sync.Mutex
	results     []TaskResult
	sealed      bool
	rollup      Status
	completedAt time.Time
}

// NewReport starts an open report for one run.
func NewReport(goal Goal) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Goal:      goal,
		StartedAt: time.Now(),
	}
}

// Append records a completed task result.
func (r *Report) Append(res TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.results = append(r.results, res)
}

// Seal freezes the report and computes the rollup: FAILED if any result
// failed, else WARNING if any warned, else OK. Sealing twice is a no-op.
func (r *Report) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.sealed = true
	r.completedAt = time.Now()

	r.rollup = StatusOK
	for _, res := range r.results {
		switch res.Status {
		case StatusFailed:
			r.rollup = StatusFailed
			return
		case StatusWarning:
			r.rollup = StatusWarning
		}
	}
}

// Sealed reports whether the run has ended.
func (r *Report) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Rollup returns the overall status. Valid once sealed; an open report
// rolls up from what has completed so far.
func (r *Report) Rollup() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return r.rollup
	}
	rollup := StatusOK
	for _, res := range r.results {
		switch res.Status {
		case StatusFailed:
			return StatusFailed
		case StatusWarning:
			rollup = StatusWarning
		}
	}
	return rollup
}

// CompletedAt returns when the report was sealed.
func (r *Report) CompletedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedAt
}

// Duration returns the wall time of the run so far, or the final duration
// once sealed.
func (r *Report) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return r.completedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Results returns a copy of all recorded results in completion order.
func (r *Report) Results() []TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskResult, len(r.results))
	copy(out, r.results)
	return out
}

// Summary tallies results by status.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{Total: len(r.results)}
	for _, res := range r.results {
		switch res.Status {
		case StatusOK:
			s.OK++
		case StatusChanged:
			s.Changed++
		case StatusWarning:
			s.Warnings++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
