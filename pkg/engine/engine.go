package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/telemetry"
)

// defaultMaxParallel bounds the per-task fan-out when the caller does not
// set one.
const defaultMaxParallel = 8

// Options tune one Engine run.
type Options struct {
	// RunID overrides the generated run identifier so callers can
	// correlate events they emit before the run starts. Empty generates
	// one.
	RunID string

	// ContinueOnError keeps the run going past FAILED results instead of
	// aborting before the next task.
	ContinueOnError bool

	// Target restricts execution to a single host id or group tag.
	// Empty means every host in each step's group.
	Target string

	// TaskTimeout bounds each task execution; zero disables the bound.
	// A breach converts to a FAILED result with a timeout code.
	TaskTimeout time.Duration

	// MaxParallel caps the fan-out worker pool for this run.
	MaxParallel int

	// ExpectNoChanges flags a run against a system believed converged;
	// any reported change is downgraded to a WARNING result.
	ExpectNoChanges bool
}

// Config wires an Engine.
type Config struct {
	Registry *Registry
	Local    Backend
	Remote   Backend
	Harness  *Harness
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer

	// MaxParallel is the default fan-out bound, overridable per run.
	MaxParallel int
}

// Engine resolves a goal into a plan and drives it to a sealed Report.
// One engine instance drives one run at a time; the CLI creates a fresh
// engine per invocation.
type Engine struct {
	registry    *Registry
	local       Backend
	remote      Backend
	harness     *Harness
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	maxParallel int
}

// New creates an Engine.
func New(cfg Config) *Engine {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	harness := cfg.Harness
	if harness == nil {
		harness = NewHarness(HarnessConfig{Logger: cfg.Logger})
	}
	return &Engine{
		registry:    cfg.Registry,
		local:       cfg.Local,
		remote:      cfg.Remote,
		harness:     harness,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		maxParallel: maxParallel,
	}
}

// Run executes a goal against the inventory and returns the sealed
// Report. Only configuration errors (unknown goal, empty plan) return a
// non-nil error, before any task has executed; every per-task failure is
// contained into the Report.
//
// Ordering guarantees: steps run strictly in plan order; within a step
// every host completes task n before any host starts task n+1. A FAILED
// result (without ContinueOnError) or a context cancellation sets an
// abort flag that is checked at each barrier; in-flight work finishes,
// nothing new starts.
func (e *Engine) Run(ctx context.Context, goal Goal, inv *inventory.Inventory, opts Options) (*Report, error) {
	steps, err := e.registry.Resolve(goal)
	if err != nil {
		return nil, err
	}

	report := NewReport(goal)
	if opts.RunID != "" {
		report.RunID = opts.RunID
	}
	rc := NewRunContext(report.RunID, goal)

	// Pooled sessions are scoped to the run: release them on every exit
	// path, abort included.
	defer e.closeBackends()

	// The run span parents every task span opened by the harness.
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartRunSpan(ctx, report.RunID, string(goal))
		defer func() {
			span.SetAttributes(
				attribute.String("run.rollup", string(report.Rollup())),
				attribute.Int("run.results", report.Summary().Total),
			)
			span.End()
		}()
	}

	e.logger.Info().
		Str("run_id", report.RunID).
		Str("goal", string(goal)).
		Int("steps", len(steps)).
		Msg("run started")
	if e.metrics != nil {
		e.metrics.RunStarted(string(goal))
	}

	aborted := false
	for _, step := range steps {
		if aborted {
			break
		}
		if !e.runStep(ctx, step, inv, rc, report, opts) {
			aborted = true
		}
	}

	report.Seal()

	e.logger.Info().
		Str("run_id", report.RunID).
		Str("goal", string(goal)).
		Str("rollup", string(report.Rollup())).
		Bool("aborted", aborted).
		Dur("duration", report.Duration()).
		Msg("run completed")
	if e.metrics != nil {
		e.metrics.RunCompleted(string(goal), string(report.Rollup()), report.Duration())
	}

	return report, nil
}

// runStep fans each of the step's tasks out across the group's hosts,
// joining at a barrier between tasks. Returns false once the run must
// abort.
func (e *Engine) runStep(ctx context.Context, step Step, inv *inventory.Inventory, rc *RunContext, report *Report, opts Options) bool {
	hosts := e.selectHosts(step.Group, inv, opts)
	if len(hosts) == 0 {
		// An empty group is legal and produces zero results.
		e.logger.Debug().
			Str("group", string(step.Group)).
			Msg("no hosts in group, skipping step")
		return true
	}

	e.logger.Info().
		Str("run_id", rc.RunID).
		Str("group", string(step.Group)).
		Int("hosts", len(hosts)).
		Int("tasks", len(step.Tasks)).
		Msg("step started")

	// Hosts whose session died during this step; their remaining tasks
	// fail immediately instead of redialing a dead box.
	down := newHostSet()

	for _, task := range step.Tasks {
		results := e.fanOut(ctx, task, hosts, rc, report, down, opts)

		// Barrier passed: inspect the joined results.
		for _, res := range results {
			if res.Status == StatusFailed && !opts.ContinueOnError {
				return false
			}
		}

		// Cooperative cancellation is only honored between tasks, never
		// mid-execution, so remote state is not left half-applied.
		if ctx.Err() != nil {
			e.logger.Warn().
				Str("run_id", rc.RunID).
				Msg("cancellation requested, stopping after current task")
			return false
		}
	}
	return true
}

// fanOut runs one task across all hosts through a bounded worker pool and
// returns after every lane has completed (the barrier). Results are
// appended to the report as they complete, not at the join, so a fast
// failure is visible while slower peers are still running.
func (e *Engine) fanOut(ctx context.Context, task Task, hosts []*inventory.Host, rc *RunContext, report *Report, down *hostSet, opts Options) []TaskResult {
	workers := e.maxParallel
	if opts.MaxParallel > 0 && opts.MaxParallel < workers {
		workers = opts.MaxParallel
	}
	if len(hosts) < workers {
		workers = len(hosts)
	}

	queue := make(chan *inventory.Host, len(hosts))
	for _, h := range hosts {
		queue <- h
	}
	close(queue)

	resCh := make(chan TaskResult, len(hosts))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range queue {
				var res TaskResult
				if down.has(host.ID) {
					res = e.harness.Fail(task, host, rc, ErrCodeDial,
						"session to host unavailable, task not attempted")
				} else {
					res = e.harness.Execute(ctx, e.backendFor(host), task, host, rc, opts)
					if res.Status == StatusFailed && (res.Code == ErrCodeDial || res.Code == ErrCodeAuth) {
						down.add(host.ID)
					}
				}
				report.Append(res)
				resCh <- res
			}
		}()
	}

	wg.Wait()
	close(resCh)

	results := make([]TaskResult, 0, len(hosts))
	for res := range resCh {
		results = append(results, res)
	}
	return results
}

// selectHosts resolves the step's group against the inventory and applies
// the target filter. A filter naming a group selects that whole group; a
// filter naming a host keeps only that host.
func (e *Engine) selectHosts(group HostGroup, inv *inventory.Inventory, opts Options) []*inventory.Host {
	hosts := inv.InGroup(string(group))
	if opts.Target == "" || opts.Target == string(group) {
		return hosts
	}
	filtered := make([]*inventory.Host, 0, len(hosts))
	for _, h := range hosts {
		if h.ID == opts.Target {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// backendFor picks the execution backend: the control machine sentinel
// runs in-process, everything else goes over SSH.
func (e *Engine) backendFor(host *inventory.Host) Backend {
	if host.Local {
		return e.local
	}
	return e.remote
}

// closeBackends releases pooled sessions held by backends that own
// resources.
func (e *Engine) closeBackends() {
	for _, b := range []Backend{e.remote, e.local} {
		if closer, ok := b.(io.Closer); ok && closer != nil {
			if err := closer.Close(); err != nil {
				e.logger.Warn().Err(err).Msg("failed to close backend")
			}
		}
	}
}

// hostSet is a concurrency-safe set of host ids.
type hostSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newHostSet() *hostSet {
	return &hostSet{m: make(map[string]struct{})}
}

func (s *hostSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = struct{}{}
}

func (s *hostSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[id]
	return ok
}
