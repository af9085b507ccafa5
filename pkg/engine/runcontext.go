package engine

import "sync"

// RunContext is the shared state bag for one goal execution. Tasks use it
// to pass data forward (gathered facts, the worker join command, the path
// of a fetched kubeconfig). Values live only for the run and are never
// copied into the Report, so secrets placed here stay out of persisted
// output.
type RunContext struct {
	RunID string
	Goal  Goal

	mu     sync.RWMutex
	values map[string]string
}

// NewRunContext creates the context for one run.
func NewRunContext(runID string, goal Goal) *RunContext {
	return &RunContext{
		RunID:  runID,
		Goal:   goal,
		values: make(map[string]string),
	}
}

// Set stores a value. Safe for concurrent use by fan-out lanes.
func (rc *RunContext) Set(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Get reads a value.
func (rc *RunContext) Get(key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}

// GetDefault reads a value, falling back when unset.
func (rc *RunContext) GetDefault(key, fallback string) string {
	if v, ok := rc.Get(key); ok {
		return v
	}
	return fallback
}
