package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/telemetry"
)

// timeline records task start/end events across all fan-out lanes in
// global completion order.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (t *timeline) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *timeline) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.events))
	copy(out, t.events)
	return out
}

// indexOf returns the position of the first matching event, or -1.
func (t *timeline) indexOf(event string) int {
	for i, e := range t.all() {
		if e == event {
			return i
		}
	}
	return -1
}

// applyBackend executes the task body directly; the conn stays nil
// because engine tests never touch a transport.
type applyBackend struct{}

func (applyBackend) Execute(ctx context.Context, task Task, host *inventory.Host, rc *RunContext) (Outcome, error) {
	return task.Apply(ctx, rc, host, nil)
}

// failDialBackend simulates a dead host: every execution against the
// configured host returns a connection error.
type failDialBackend struct {
	downHost string
}

func (b failDialBackend) Execute(ctx context.Context, task Task, host *inventory.Host, rc *RunContext) (Outcome, error) {
	if host.ID == b.downHost {
		return Outcome{}, NewConnectionError("failed to connect", errors.New("connection refused")).
			WithCode(ErrCodeDial).WithHost(host.ID)
	}
	return task.Apply(ctx, rc, host, nil)
}

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.New(
		inventory.LocalHost(),
		&inventory.Host{ID: "cp-1", Address: "10.0.0.10", User: "ubuntu", Groups: []string{"control-plane"}},
		&inventory.Host{ID: "worker-1", Address: "10.0.0.20", User: "ubuntu", Groups: []string{"workers"}},
		&inventory.Host{ID: "worker-2", Address: "10.0.0.21", User: "ubuntu", Groups: []string{"workers"}},
	)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	return inv
}

// tracked wraps a task body with timeline bookkeeping.
func tracked(tl *timeline, name string, fn func(ctx context.Context, rc *RunContext, host *inventory.Host) (Outcome, error)) Task {
	return TaskFunc{
		TaskName: name,
		Desc:     name,
		Fn: func(ctx context.Context, rc *RunContext, host *inventory.Host, _ Conn) (Outcome, error) {
			tl.record(fmt.Sprintf("start:%s/%s", name, host.ID))
			out, err := fn(ctx, rc, host)
			tl.record(fmt.Sprintf("end:%s/%s", name, host.ID))
			return out, err
		},
	}
}

func okTask(tl *timeline, name string) Task {
	return tracked(tl, name, func(context.Context, *RunContext, *inventory.Host) (Outcome, error) {
		return OK("done"), nil
	})
}

func newTestEngine(reg *Registry, backend Backend) *Engine {
	return New(Config{
		Registry: reg,
		Local:    backend,
		Remote:   backend,
		Logger:   zerolog.Nop(),
	})
}

func TestRunBarrierOrdering(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", GroupWorkers, okTask(tl, "first"), okTask(tl, "second"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(report.Results()); got != 4 {
		t.Fatalf("expected 4 results, got %d", got)
	}

	// Every host must finish "first" before any host starts "second".
	lastFirstEnd := -1
	firstSecondStart := len(tl.all())
	for i, e := range tl.all() {
		switch {
		case e == "end:first/worker-1" || e == "end:first/worker-2":
			if i > lastFirstEnd {
				lastFirstEnd = i
			}
		case e == "start:second/worker-1" || e == "start:second/worker-2":
			if i < firstSecondStart {
				firstSecondStart = i
			}
		}
	}
	if firstSecondStart < lastFirstEnd {
		t.Fatalf("barrier violated: second started at %d before first finished at %d\nevents: %v",
			firstSecondStart, lastFirstEnd, tl.all())
	}
}

func TestRunStepsSequential(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", GroupLocal, okTask(tl, "local-probe")).
		Register("TEST", GroupControlPlane, okTask(tl, "remote-probe"))

	eng := newTestEngine(reg, applyBackend{})
	if _, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	localEnd := tl.indexOf("end:local-probe/local")
	remoteStart := tl.indexOf("start:remote-probe/cp-1")
	if localEnd == -1 || remoteStart == -1 {
		t.Fatalf("missing events: %v", tl.all())
	}
	if remoteStart < localEnd {
		t.Fatalf("remote step started before local step completed: %v", tl.all())
	}
}

func TestRunFailFast(t *testing.T) {
	tl := &timeline{}
	failing := tracked(tl, "boom", func(context.Context, *RunContext, *inventory.Host) (Outcome, error) {
		return Outcome{}, errors.New("exploded")
	})
	reg := NewRegistry().
		Register("TEST", GroupWorkers, failing, okTask(tl, "never")).
		Register("TEST", GroupControlPlane, okTask(tl, "never-either"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run returned error for contained failure: %v", err)
	}

	if report.Rollup() != StatusFailed {
		t.Fatalf("rollup = %s, want FAILED", report.Rollup())
	}
	if !report.Sealed() {
		t.Fatal("report not sealed")
	}
	for _, e := range tl.all() {
		if e == "start:never/worker-1" || e == "start:never/worker-2" || e == "start:never-either/cp-1" {
			t.Fatalf("task started after abort: %s", e)
		}
	}
}

func TestRunContinueOnError(t *testing.T) {
	tl := &timeline{}
	failing := tracked(tl, "boom", func(context.Context, *RunContext, *inventory.Host) (Outcome, error) {
		return Outcome{}, errors.New("exploded")
	})
	reg := NewRegistry().
		Register("TEST", GroupWorkers, failing, okTask(tl, "after"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{ContinueOnError: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(report.Results()); got != 4 {
		t.Fatalf("expected 4 results with continue-on-error, got %d", got)
	}
	if report.Rollup() != StatusFailed {
		t.Fatalf("rollup = %s, want FAILED", report.Rollup())
	}
}

func TestRunUnknownGoal(t *testing.T) {
	eng := newTestEngine(NewRegistry(), applyBackend{})
	_, err := eng.Run(context.Background(), "NOPE", testInventory(t), Options{})
	if err == nil {
		t.Fatal("expected config error for unknown goal")
	}
	if !IsConfig(err) {
		t.Fatalf("expected config error class, got %v", err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeUnknownGoal {
		t.Fatalf("expected code %s, got %v", ErrCodeUnknownGoal, err)
	}
}

func TestRunEmptyGroup(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", HostGroup("ghosts"), okTask(tl, "phantom")).
		Register("TEST", GroupLocal, okTask(tl, "real"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	results := report.Results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result (empty group skipped), got %d", len(results))
	}
	if results[0].Task != "real" {
		t.Fatalf("unexpected task ran: %s", results[0].Task)
	}
	if report.Rollup() != StatusOK {
		t.Fatalf("rollup = %s, want OK", report.Rollup())
	}
}

func TestRunConnectionFailureContained(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", GroupWorkers, okTask(tl, "first"), okTask(tl, "second"))

	eng := newTestEngine(reg, failDialBackend{downHost: "worker-1"})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{ContinueOnError: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	byHostTask := make(map[string]TaskResult)
	for _, res := range report.Results() {
		byHostTask[res.Host+"/"+res.Task] = res
	}

	// The dead host fails both tasks; the second is never attempted.
	if res := byHostTask["worker-1/first"]; res.Status != StatusFailed || res.Code != ErrCodeDial {
		t.Fatalf("worker-1/first = %s/%s, want FAILED/%s", res.Status, res.Code, ErrCodeDial)
	}
	if res := byHostTask["worker-1/second"]; res.Status != StatusFailed || res.Code != ErrCodeDial {
		t.Fatalf("worker-1/second = %s/%s, want FAILED/%s", res.Status, res.Code, ErrCodeDial)
	}
	if tl.indexOf("start:second/worker-1") != -1 {
		t.Fatal("second task was attempted on a host marked down")
	}

	// The healthy peer keeps running.
	if res := byHostTask["worker-2/second"]; res.Status != StatusOK {
		t.Fatalf("worker-2/second = %s, want OK", res.Status)
	}
}

func TestRunFanOutIndependence(t *testing.T) {
	var seenMu sync.Mutex
	var seen []TaskResult
	sink := SinkFunc(func(res TaskResult) {
		seenMu.Lock()
		defer seenMu.Unlock()
		seen = append(seen, res)
	})
	peerFailed := func() bool {
		seenMu.Lock()
		defer seenMu.Unlock()
		for _, res := range seen {
			if res.Host == "worker-1" && res.Status == StatusFailed {
				return true
			}
		}
		return false
	}

	fastFail := TaskFunc{
		TaskName: "race",
		Fn: func(ctx context.Context, rc *RunContext, host *inventory.Host, _ Conn) (Outcome, error) {
			if host.ID == "worker-1" {
				return Outcome{}, errors.New("quick failure")
			}
			// The slow lane waits until the fast failure has already been
			// emitted, proving results surface as lanes complete rather
			// than at the barrier.
			deadline := time.After(2 * time.Second)
			for !peerFailed() {
				select {
				case <-deadline:
					return Outcome{}, errors.New("peer failure never surfaced")
				case <-time.After(5 * time.Millisecond):
				}
			}
			return OK("saw the failure"), nil
		},
	}

	reg := NewRegistry().Register("TEST", GroupWorkers, fastFail)
	harness := NewHarness(HarnessConfig{Logger: zerolog.Nop(), Sinks: []ResultSink{sink}})
	eng := New(Config{
		Registry: reg,
		Local:    applyBackend{},
		Remote:   applyBackend{},
		Harness:  harness,
		Logger:   zerolog.Nop(),
	})

	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{ContinueOnError: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Rollup() != StatusFailed {
		t.Fatalf("rollup = %s, want FAILED", report.Rollup())
	}
	if got := len(report.Results()); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
	for _, res := range report.Results() {
		if res.Host == "worker-2" && res.Status != StatusOK {
			t.Fatalf("slow lane should have observed the fast failure: %s (%s)", res.Status, res.Message)
		}
	}
}

// convergingBackend applies each (task, host) pair once; repeated
// executions find the state already in place and report no change.
type convergingBackend struct {
	mu      sync.Mutex
	applied map[string]bool
}

func (b *convergingBackend) Execute(ctx context.Context, task Task, host *inventory.Host, rc *RunContext) (Outcome, error) {
	key := task.Name() + "/" + host.ID
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.applied[key] {
		return OK("already converged"), nil
	}
	b.applied[key] = true
	return ChangedOutcome("applied"), nil
}

func TestRunSecondRunConverges(t *testing.T) {
	reg := NewRegistry().
		Register("TEST", GroupControlPlane, namedTask("first"), namedTask("second")).
		Register("TEST", GroupWorkers, namedTask("third"))

	backend := &convergingBackend{applied: make(map[string]bool)}
	eng := newTestEngine(reg, backend)
	inv := testInventory(t)

	report, err := eng.Run(context.Background(), "TEST", inv, Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for _, res := range report.Results() {
		if !res.Changed || res.Status != StatusChanged {
			t.Fatalf("first run should change everything: %+v", res)
		}
	}

	report, err = eng.Run(context.Background(), "TEST", inv, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := len(report.Results()); got != 4 {
		t.Fatalf("expected 4 results, got %d", got)
	}
	for _, res := range report.Results() {
		if res.Changed || res.Status != StatusOK {
			t.Fatalf("second run should be all-unchanged: %+v", res)
		}
	}
	if report.Rollup() != StatusOK {
		t.Fatalf("rollup = %s, want OK", report.Rollup())
	}
}

func TestRunTargetFilter(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", GroupWorkers, okTask(tl, "probe"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{Target: "worker-2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	results := report.Results()
	if len(results) != 1 || results[0].Host != "worker-2" {
		t.Fatalf("target filter failed: %+v", results)
	}
}

func TestRunUsesProvidedRunID(t *testing.T) {
	tl := &timeline{}
	reg := NewRegistry().Register("TEST", GroupWorkers, okTask(tl, "probe"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{RunID: "run-fixed"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.RunID != "run-fixed" {
		t.Fatalf("run id = %s, want run-fixed", report.RunID)
	}
	for _, res := range report.Results() {
		if res.RunID != "run-fixed" {
			t.Fatalf("result carries wrong run id: %+v", res)
		}
	}

	// Without an override an id is generated.
	report, err = eng.Run(context.Background(), "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.RunID == "" || report.RunID == "run-fixed" {
		t.Fatalf("generated run id = %q", report.RunID)
	}
}

func TestRunWithTracer(t *testing.T) {
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "kindler-test", "dev", "test")
	if err != nil {
		t.Fatalf("tracer: %v", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	tl := &timeline{}
	reg := NewRegistry().
		Register("TEST", GroupControlPlane, okTask(tl, "first"), okTask(tl, "second"))

	eng := New(Config{
		Registry: reg,
		Local:    applyBackend{},
		Remote:   applyBackend{},
		Harness:  NewHarness(HarnessConfig{Logger: zerolog.Nop(), Tracer: tracer}),
		Logger:   zerolog.Nop(),
		Tracer:   tracer,
	})

	report, err := eng.Run(context.Background(), "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(report.Results()); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
	if report.Rollup() != StatusOK {
		t.Fatalf("rollup = %s, want OK", report.Rollup())
	}
}

func TestRunCancellationBetweenTasks(t *testing.T) {
	tl := &timeline{}
	ctx, cancel := context.WithCancel(context.Background())

	first := tracked(tl, "first", func(context.Context, *RunContext, *inventory.Host) (Outcome, error) {
		cancel()
		return OK("done"), nil
	})
	reg := NewRegistry().
		Register("TEST", GroupControlPlane, first, okTask(tl, "second"))

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(ctx, "TEST", testInventory(t), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if tl.indexOf("start:second/cp-1") != -1 {
		t.Fatal("task started after cancellation")
	}
	if !report.Sealed() {
		t.Fatal("report not sealed after cancellation")
	}
}

func TestRunVerifyScenario(t *testing.T) {
	tl := &timeline{}
	azureCheck := tracked(tl, "check-azure-auth", func(context.Context, *RunContext, *inventory.Host) (Outcome, error) {
		return OK("authenticated"), nil
	})
	probe := tracked(tl, "check-connectivity", func(ctx context.Context, rc *RunContext, host *inventory.Host) (Outcome, error) {
		if host.ID == "worker-2" {
			return Outcome{}, errors.New("unreachable: 1.1.1.1")
		}
		return OK("reachable"), nil
	})

	reg := NewRegistry().
		Register(GoalVerify, GroupLocal, probe, azureCheck).
		Register(GoalVerify, GroupWorkers, probe)

	eng := newTestEngine(reg, applyBackend{})
	report, err := eng.Run(context.Background(), GoalVerify, testInventory(t), Options{ContinueOnError: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := len(report.Results()); got != 4 {
		t.Fatalf("expected 4 results, got %d", got)
	}
	if report.Rollup() != StatusFailed {
		t.Fatalf("rollup = %s, want FAILED", report.Rollup())
	}

	// Local step completes before any remote lane starts.
	localDone := tl.indexOf("end:check-azure-auth/local")
	remoteStart := len(tl.all())
	for i, e := range tl.all() {
		if (e == "start:check-connectivity/worker-1" || e == "start:check-connectivity/worker-2") && i < remoteStart {
			remoteStart = i
		}
	}
	if remoteStart < localDone {
		t.Fatalf("remote step started before local step completed: %v", tl.all())
	}
}
