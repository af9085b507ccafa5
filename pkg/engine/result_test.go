package engine

import (
	"sync"
	"testing"
)

func TestReportRollupPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all ok", []Status{StatusOK, StatusOK}, StatusOK},
		{"changed stays ok", []Status{StatusOK, StatusChanged, StatusSkipped}, StatusOK},
		{"warning wins over ok", []Status{StatusOK, StatusWarning, StatusChanged}, StatusWarning},
		{"failed wins over warning", []Status{StatusWarning, StatusFailed, StatusOK}, StatusFailed},
		{"empty report", nil, StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := NewReport("TEST")
			for _, s := range tc.statuses {
				report.Append(TaskResult{Status: s})
			}
			report.Seal()
			if got := report.Rollup(); got != tc.want {
				t.Fatalf("rollup = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestReportSealIsTerminal(t *testing.T) {
	report := NewReport("TEST")
	report.Append(TaskResult{Status: StatusOK})
	report.Seal()

	if !report.Sealed() {
		t.Fatal("report should be sealed")
	}
	completed := report.CompletedAt()

	// Appends after sealing are dropped and a second seal changes nothing.
	report.Append(TaskResult{Status: StatusFailed})
	report.Seal()

	if got := len(report.Results()); got != 1 {
		t.Fatalf("append after seal leaked: %d results", got)
	}
	if report.Rollup() != StatusOK {
		t.Fatalf("rollup changed after seal: %s", report.Rollup())
	}
	if !report.CompletedAt().Equal(completed) {
		t.Fatal("second seal moved the completion time")
	}
}

func TestReportConcurrentAppend(t *testing.T) {
	report := NewReport("TEST")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.Append(TaskResult{Status: StatusOK})
		}()
	}
	wg.Wait()
	report.Seal()

	if got := report.Summary().Total; got != 32 {
		t.Fatalf("expected 32 results, got %d", got)
	}
}

func TestReportSummaryCounts(t *testing.T) {
	report := NewReport("TEST")
	for _, s := range []Status{
		StatusOK, StatusOK,
		StatusChanged,
		StatusWarning,
		StatusFailed, StatusFailed, StatusFailed,
		StatusSkipped,
	} {
		report.Append(TaskResult{Status: s})
	}
	report.Seal()

	s := report.Summary()
	if s.Total != 8 || s.OK != 2 || s.Changed != 1 || s.Warnings != 1 || s.Failed != 3 || s.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestParseGoal(t *testing.T) {
	for _, valid := range []string{"VERIFY", "INIT", "ARC-CONNECT", "DESTROY"} {
		goal, err := ParseGoal(valid)
		if err != nil {
			t.Errorf("ParseGoal(%q): %v", valid, err)
		}
		if string(goal) != valid {
			t.Errorf("ParseGoal(%q) = %q", valid, goal)
		}
	}

	if _, err := ParseGoal("verify"); err == nil {
		t.Fatal("goal names are case sensitive")
	}
	if _, err := ParseGoal("RESET"); err == nil {
		t.Fatal("expected error for unknown goal")
	}
}

func TestRunContext(t *testing.T) {
	rc := NewRunContext("run-1", GoalInit)

	if _, ok := rc.Get("kubeadm.join-command"); ok {
		t.Fatal("fresh context should be empty")
	}
	rc.Set("kubeadm.join-command", "kubeadm join 10.0.0.10:6443 --token t")

	v, ok := rc.Get("kubeadm.join-command")
	if !ok || v != "kubeadm join 10.0.0.10:6443 --token t" {
		t.Fatalf("get = %q, %v", v, ok)
	}
	if got := rc.GetDefault("missing", "fallback"); got != "fallback" {
		t.Fatalf("GetDefault = %q", got)
	}

	// Concurrent access from fan-out lanes.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc.Set("facts.node", "ubuntu")
			rc.Get("facts.node")
		}()
	}
	wg.Wait()
}
