package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcourtman/shellgate/internal/auth"
	"github.com/rcourtman/shellgate/internal/classify"
	"github.com/rcourtman/shellgate/internal/events"
	"github.com/rcourtman/shellgate/internal/executor"
	"github.com/rcourtman/shellgate/internal/metrics"
	"github.com/rcourtman/shellgate/internal/pathpolicy"
	"github.com/rcourtman/shellgate/internal/patterns"
	"github.com/rcourtman/shellgate/internal/ratelimit"
	"github.com/rcourtman/shellgate/pkg/audit"
)

type fakeRunner struct {
	mu     sync.Mutex
	reqs   []executor.Request
	result executor.Result
	err    error
}

func (f *fakeRunner) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func (f *fakeRunner) calls() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.reqs...)
}

func completedResult() executor.Result {
	zero := 0
	return executor.Result{
		Success:           true,
		ExitCode:          &zero,
		Stdout:            "hello\n",
		DurationMs:        12,
		TerminationReason: executor.ReasonCompleted,
	}
}

type testDeps struct {
	pipeline *Pipeline
	runner   *fakeRunner
	metrics  *metrics.Registry
	events   *events.Stream
	limiter  *ratelimit.Limiter
}

func newTestPipeline(t *testing.T, mutate func(*Config)) *testDeps {
	t.Helper()

	journal, err := audit.NewJournal(t.TempDir())
	if err != nil {
		t.Fatalf("audit journal: %v", err)
	}
	t.Cleanup(journal.Close)

	limiter := ratelimit.New(100, time.Minute, 100)
	t.Cleanup(limiter.Stop)

	runner := &fakeRunner{result: completedResult()}
	reg := metrics.NewRegistry()
	stream := events.NewStream()

	cfg := Config{
		Auth:              auth.New("", ""),
		Limiter:           limiter,
		Classifier:        classify.New(classify.Config{Store: patterns.NewStore()}),
		Paths:             pathpolicy.NewStore(pathpolicy.Policy{}),
		Runner:            runner,
		Metrics:           reg,
		Events:            stream,
		Audit:             journal,
		MaxCommandChars:   8192,
		DefaultTimeoutSec: 60,
		MaxTimeoutSec:     1800,
		PublishAttempts:   true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testDeps{
		pipeline: New(cfg),
		runner:   runner,
		metrics:  reg,
		events:   stream,
		limiter:  limiter,
	}
}

func TestSafeCommandExecutes(t *testing.T) {
	d := newTestPipeline(t, nil)
	sub := d.events.Subscribe(8, "*")
	defer sub.Close()

	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Blocked || res.Execution == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.SecurityAssessment.Level != classify.LevelSafe {
		t.Fatalf("level = %s", res.SecurityAssessment.Level)
	}
	if !strings.HasPrefix(res.Summary, "[SAFE] completed in 12ms (exit 0)") {
		t.Fatalf("summary = %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "hello") {
		t.Fatalf("summary does not mirror stdout: %q", res.Summary)
	}

	snap := d.metrics.Snapshot(false)
	if snap.Total != 1 || snap.ByLevel[classify.LevelSafe] != 1 {
		t.Fatalf("metrics not recorded: %+v", snap)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != events.KindExec || ev.ID != res.ID {
			t.Fatalf("event = %+v, result id %s", ev, res.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestBlockedReturnsInline(t *testing.T) {
	d := newTestPipeline(t, nil)
	sub := d.events.Subscribe(8, "attempt.*")
	defer sub.Close()

	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "rm -rf /",
	})
	if err != nil {
		t.Fatalf("blocked must not be an error: %v", err)
	}
	if !res.Blocked || res.Execution != nil {
		t.Fatalf("result = %+v", res)
	}
	if len(d.runner.calls()) != 0 {
		t.Fatal("runner must not be invoked for blocked commands")
	}
	if !strings.Contains(res.Summary, "blocked") {
		t.Fatalf("summary = %q", res.Summary)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != events.KindAttemptBlocked || !ev.Blocked || ev.DurationMs != 0 {
			t.Fatalf("attempt event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no attempt event")
	}
}

func TestBlockedCountsInMetrics(t *testing.T) {
	d := newTestPipeline(t, nil)

	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "powershell -EncodedCommand abc",
	})
	if err != nil {
		t.Fatalf("blocked must not be an error: %v", err)
	}
	if !res.Blocked {
		t.Fatalf("result = %+v", res)
	}

	snap := d.metrics.Snapshot(false)
	if snap.Blocked != 1 {
		t.Fatalf("blocked counter = %d, want 1", snap.Blocked)
	}
	if snap.ByLevel[res.SecurityAssessment.Level] != 1 {
		t.Fatalf("byLevel = %+v", snap.ByLevel)
	}
	if snap.DurationSamples != 0 || snap.AverageDurationMs != 0 {
		t.Fatalf("blocked attempts must not feed durations: %+v", snap)
	}

	recent := d.metrics.Recent(1)
	if len(recent) != 1 || !recent[0].Blocked || recent[0].ID != res.ID {
		t.Fatalf("recent = %+v, result id %s", recent, res.ID)
	}
}

func TestConfirmationGate(t *testing.T) {
	d := newTestPipeline(t, nil)

	_, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Remove-Item ./file.txt",
	})
	if err == nil {
		t.Fatal("expected confirmation error")
	}
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %s", KindOf(err))
	}
	if !strings.Contains(err.Error(), "confirmed") {
		t.Fatalf("message must name the confirmed flag: %v", err)
	}
	if len(d.runner.calls()) != 0 {
		t.Fatal("no child may be spawned")
	}
	if snap := d.metrics.Snapshot(false); snap.ConfirmationRequired != 1 {
		t.Fatalf("confirmationRequired = %d", snap.ConfirmationRequired)
	}

	// Same command with the flag runs.
	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command:   "Remove-Item ./file.txt",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("confirmed execute: %v", err)
	}
	if res.Execution == nil {
		t.Fatal("confirmed command must execute")
	}
	if len(d.runner.calls()) != 1 {
		t.Fatalf("runner calls = %d", len(d.runner.calls()))
	}
}

func TestUnauthorized(t *testing.T) {
	d := newTestPipeline(t, func(cfg *Config) {
		cfg.Auth = auth.New("secret", "")
	})

	_, err := d.pipeline.Execute(context.Background(), Session{ID: "s1", AuthKey: "wrong"}, ExecuteArgs{
		Command: "Get-Date",
	})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("kind = %v (%v)", KindOf(err), err)
	}

	if _, err := d.pipeline.Execute(context.Background(), Session{ID: "s1", AuthKey: "secret"}, ExecuteArgs{
		Command: "Get-Date",
	}); err != nil {
		t.Fatalf("correct key rejected: %v", err)
	}
}

func TestRateLimited(t *testing.T) {
	d := newTestPipeline(t, func(cfg *Config) {
		cfg.Limiter = ratelimit.New(1, time.Hour, 1)
	})

	if _, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	})
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %v (%v)", KindOf(err), err)
	}
	if len(d.runner.calls()) != 1 {
		t.Fatalf("runner calls = %d", len(d.runner.calls()))
	}
}

func TestLengthGate(t *testing.T) {
	d := newTestPipeline(t, func(cfg *Config) {
		cfg.MaxCommandChars = 16
	})
	_, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: strings.Repeat("x", 17),
	})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %v", KindOf(err))
	}
}

func TestTimeoutNormalization(t *testing.T) {
	d := newTestPipeline(t, nil)

	// Default applies.
	if _, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	}); err != nil {
		t.Fatal(err)
	}
	if got := d.runner.calls()[0].TimeoutMs; got != 60_000 {
		t.Fatalf("default timeout = %dms", got)
	}

	// Legacy spelling is honored with a warning.
	legacy := 5
	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
		Timeout: &legacy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.runner.calls()[1].TimeoutMs; got != 5_000 {
		t.Fatalf("legacy timeout = %dms", got)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "legacy") {
		t.Fatalf("warnings = %v", res.Warnings)
	}

	// Long timeouts warn.
	long := 120
	res, err = d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command:        "Get-Date",
		TimeoutSeconds: &long,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "long") {
		t.Fatalf("warnings = %v", res.Warnings)
	}

	// Cap is enforced as an error.
	huge := 10_000
	_, err = d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command:        "Get-Date",
		TimeoutSeconds: &huge,
	})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %v", KindOf(err))
	}
}

func TestWorkingDirectoryPolicy(t *testing.T) {
	allowed := t.TempDir()
	d := newTestPipeline(t, func(cfg *Config) {
		cfg.Paths = pathpolicy.NewStore(pathpolicy.Policy{
			Enforced:     true,
			AllowedRoots: []string{allowed},
		})
	})

	if _, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command:          "Get-Date",
		WorkingDirectory: allowed,
	}); err != nil {
		t.Fatalf("allowed root rejected: %v", err)
	}

	outside := t.TempDir()
	_, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command:          "Get-Date",
		WorkingDirectory: outside,
	})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("kind = %v (%v)", KindOf(err), err)
	}
	if len(d.runner.calls()) != 1 {
		t.Fatalf("runner calls = %d", len(d.runner.calls()))
	}
}

func TestTimedOutExecutionCountsTimeout(t *testing.T) {
	d := newTestPipeline(t, nil)
	d.runner.result = executor.Result{
		TimedOut:          true,
		DurationMs:        1500,
		TerminationReason: executor.ReasonTimeout,
	}

	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Execution.TimedOut {
		t.Fatal("timedOut not carried")
	}
	if snap := d.metrics.Snapshot(false); snap.Timeouts != 1 {
		t.Fatalf("timeouts = %d", snap.Timeouts)
	}
	if !strings.Contains(res.Summary, "timeout") {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestHistoryBestEffort(t *testing.T) {
	var recorded []string
	var mu sync.Mutex
	d := newTestPipeline(t, func(cfg *Config) {
		cfg.History = historyFunc(func(id string, _ time.Time, level string, _ ExecutionSummary) {
			mu.Lock()
			recorded = append(recorded, id+":"+level)
			mu.Unlock()
		})
	})

	res, err := d.pipeline.Execute(context.Background(), Session{ID: "s1"}, ExecuteArgs{
		Command: "Get-Date",
	})
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(recorded) != 1 || recorded[0] != res.ID+":SAFE" {
		t.Fatalf("history = %v", recorded)
	}
}

type historyFunc func(id string, ts time.Time, level string, rec ExecutionSummary)

func (f historyFunc) RecordExecution(id string, ts time.Time, level string, rec ExecutionSummary) {
	f(id, ts, level, rec)
}
