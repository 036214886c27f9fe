package controller

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/sitescout/internal/lockstore"
	"github.com/ChamsBouzaiene/sitescout/internal/probe"
	"github.com/ChamsBouzaiene/sitescout/internal/sandbox"
	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

type stubProber struct {
	snap probe.Snapshot
	err  error
}

func (p stubProber) Probe(_ context.Context, _ string) (probe.Snapshot, error) {
	return p.snap, p.err
}

type scriptedExecutor struct {
	results []sandbox.ExecutionResult
	calls   int
}

func (e *scriptedExecutor) Execute(_ context.Context, _ string, _ time.Duration) (sandbox.ExecutionResult, error) {
	i := e.calls
	e.calls++
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	return e.results[i], nil
}

// scriptedOracle answers planning, revision, and evaluation prompts from
// fixed scripts, dispatching on prompt markers.
type scriptedOracle struct {
	planCode    string
	revisions   []string
	evalReplies []string

	revCalls  int
	evalCalls int
}

func (o *scriptedOracle) Model() string { return "scripted" }

func (o *scriptedOracle) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "data-quality judge"):
		i := o.evalCalls
		o.evalCalls++
		if i >= len(o.evalReplies) {
			i = len(o.evalReplies) - 1
		}
		return o.evalReplies[i], nil
	case strings.Contains(prompt, "needs a revision"):
		i := o.revCalls
		o.revCalls++
		if i >= len(o.revisions) {
			i = len(o.revisions) - 1
		}
		return "```python\n" + o.revisions[i] + "\n```", nil
	case strings.Contains(prompt, "Classify the root cause"):
		return "unknown", nil
	default:
		return "```python\n" + o.planCode + "\n```", nil
	}
}

func testTask(budget int) task.Task {
	return task.Task{
		ID:            "task-1",
		SiteURL:       "https://example.com/list",
		Goal:          "collect article titles and prices",
		MaxSamples:    5,
		RepairBudget:  budget,
		OracleBudget:  50,
		Threshold:     0.6,
		SenseTimeout:  2 * time.Second,
		PlanTimeout:   2 * time.Second,
		ActTimeout:    2 * time.Second,
		VerifyTimeout: 2 * time.Second,
		TotalTimeout:  20 * time.Second,
	}
}

const passingScores = `{"relevance":0.9,"completeness":0.9,"accuracy":0.8,"content_quality":0.8,"issues":[]}`
const failingScores = `{"relevance":0.2,"completeness":0.3,"accuracy":0.2,"content_quality":0.2,"issues":["records do not match the goal"]}`

func okResult() sandbox.ExecutionResult {
	return sandbox.ExecutionResult{
		Success: true,
		Stdout:  `[{"title":"a","price":"1"}]`,
		Records: []map[string]any{{"title": "a", "price": "1"}},
	}
}

func timeoutResult() sandbox.ExecutionResult {
	return sandbox.ExecutionResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   "page load timed out after 30s",
		TimedOut: true,
		Error:    "execution timed out",
	}
}

func newTestController(t *testing.T, tk task.Task, opts Options) *Controller {
	t.Helper()
	if opts.Prober == nil {
		opts.Prober = stubProber{snap: probe.Snapshot{URL: tk.SiteURL, Status: 200, Title: "Listing", AntiBotLevel: "none"}}
	}
	if opts.Locks == nil {
		opts.Locks = lockstore.NewMemoryStore()
	}
	c, err := New(tk, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRunSuccessWithoutRepair(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}}
	c := newTestController(t, testTask(3), Options{
		Oracle:   &scriptedOracle{planCode: "code v1", evalReplies: []string{passingScores}},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if !res.Success || res.Phase != task.PhaseDone {
		t.Fatalf("expected clean success, got %+v", res)
	}
	if res.Degraded {
		t.Fatal("clean success must not be degraded")
	}
	if res.IterationsUsed != 1 {
		t.Fatalf("iterations used = %d, want 1", res.IterationsUsed)
	}
	if len(res.SampleData) != 1 {
		t.Fatalf("sample data = %d records, want 1", len(res.SampleData))
	}
	if len(res.ErrorHistory) != 0 {
		t.Fatalf("unexpected error history: %+v", res.ErrorHistory)
	}
	if exec.calls != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls)
	}
}

func TestRunUnreachableSite(t *testing.T) {
	c := newTestController(t, testTask(3), Options{
		Oracle:   &scriptedOracle{planCode: "code v1"},
		Executor: &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}},
		Prober:   stubProber{err: probe.ErrUnreachable},
	})

	res := c.Run(context.Background())

	if res.Success || res.Phase != task.PhaseFailed {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Reason != task.ReasonUnreachableSite {
		t.Fatalf("reason = %s, want %s", res.Reason, task.ReasonUnreachableSite)
	}
	if res.IterationsUsed != 0 {
		t.Fatalf("unreachable site must use zero iterations, got %d", res.IterationsUsed)
	}
}

func TestRunFallbackProberRescuesSense(t *testing.T) {
	c := newTestController(t, testTask(3), Options{
		Oracle:         &scriptedOracle{planCode: "code v1", evalReplies: []string{passingScores}},
		Executor:       &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}},
		Prober:         stubProber{err: probe.ErrUnreachable},
		FallbackProber: stubProber{snap: probe.Snapshot{URL: "https://example.com/list", Status: 200}},
	})

	res := c.Run(context.Background())
	if !res.Success {
		t.Fatalf("expected fallback prober to rescue the run, got %+v", res)
	}
}

func TestRunRepairBudgetExhausted(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{timeoutResult()}}
	c := newTestController(t, testTask(2), Options{
		Oracle:   &scriptedOracle{planCode: "code v1", revisions: []string{"code v2", "code v3"}},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if res.Success || res.Reason != task.ReasonRepairBudgetExhausted {
		t.Fatalf("expected REPAIR_BUDGET_EXHAUSTED, got %+v", res)
	}
	if exec.calls != 2 {
		t.Fatalf("executor called %d times, budget 2 allows exactly 2", exec.calls)
	}
	if res.IterationsUsed != 2 {
		t.Fatalf("iterations used = %d, want 2", res.IterationsUsed)
	}
	if len(res.ErrorHistory) != 2 {
		t.Fatalf("error history length = %d, want 2", len(res.ErrorHistory))
	}
	for i, rec := range res.ErrorHistory {
		if rec.Iteration != i+1 {
			t.Fatalf("record %d has iteration %d, want %d", i, rec.Iteration, i+1)
		}
		if rec.Cause != string(CauseSlowLoad) {
			t.Fatalf("record %d cause = %q, want slow_load", i, rec.Cause)
		}
	}
}

func TestRunIrreparableRevision(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{timeoutResult()}}
	c := newTestController(t, testTask(3), Options{
		// Revision identical to the failing artifact.
		Oracle:   &scriptedOracle{planCode: "code v1", revisions: []string{"code v1"}},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if res.Success || res.Reason != task.ReasonIrreparableRevision {
		t.Fatalf("expected IRREPARABLE_REVISION, got %+v", res)
	}
	if res.IterationsUsed != 1 {
		t.Fatalf("a vetoed revision must not advance the iteration, got %d", res.IterationsUsed)
	}
	if exec.calls != 1 {
		t.Fatalf("executor called %d times, want 1", exec.calls)
	}
	last := res.ErrorHistory[len(res.ErrorHistory)-1]
	if last.Class != task.ClassFatal || last.Phase != task.PhaseRepair {
		t.Fatalf("expected fatal repair record, got %+v", last)
	}
}

func TestRunQualityRepairThenPass(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{okResult(), okResult()}}
	c := newTestController(t, testTask(2), Options{
		Oracle: &scriptedOracle{
			planCode:    "code v1",
			revisions:   []string{"code v2"},
			evalReplies: []string{failingScores, passingScores},
		},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if !res.Success || res.Degraded {
		t.Fatalf("expected clean success after one quality repair, got %+v", res)
	}
	if res.IterationsUsed != 2 {
		t.Fatalf("iterations used = %d, want 2", res.IterationsUsed)
	}
	if len(res.ErrorHistory) != 1 {
		t.Fatalf("error history length = %d, want 1", len(res.ErrorHistory))
	}
	rec := res.ErrorHistory[0]
	if rec.Phase != task.PhaseVerify || rec.Class != task.ClassRecoverable || rec.Cause != string(CauseLowQuality) {
		t.Fatalf("unexpected quality record: %+v", rec)
	}
}

func TestRunDegradedSuccessAtBudget(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}}
	c := newTestController(t, testTask(1), Options{
		Oracle:   &scriptedOracle{planCode: "code v1", evalReplies: []string{failingScores}},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if !res.Success || !res.Degraded {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if res.Reason != "" {
		t.Fatalf("degraded success must carry no failure reason, got %s", res.Reason)
	}
	if res.QualityReport == nil || res.QualityReport.Passed {
		t.Fatalf("degraded success must attach the failing quality report, got %+v", res.QualityReport)
	}
	if len(res.SampleData) != 1 {
		t.Fatalf("degraded success must still deliver the data, got %d records", len(res.SampleData))
	}
}

func TestRunLockUnavailableFailFast(t *testing.T) {
	locks := lockstore.NewMemoryStore()
	ctx := context.Background()
	if ok, err := locks.Acquire(ctx, "example.com", "other-task", 300); err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}}
	c := newTestController(t, testTask(3), Options{
		Oracle:     &scriptedOracle{planCode: "code v1"},
		Executor:   exec,
		Locks:      locks,
		LockPolicy: LockPolicyFailFast,
	})

	res := c.Run(ctx)

	if res.Success || res.Reason != task.ReasonTimeout {
		t.Fatalf("expected TIMEOUT on lock contention, got %+v", res)
	}
	if exec.calls != 0 {
		t.Fatal("executor must not run without the site lock")
	}
	// Contention is retried locally, never charged against the repair budget.
	if res.IterationsUsed != 1 {
		t.Fatalf("lock contention corrupted the iteration counter: %d", res.IterationsUsed)
	}
	rec := res.ErrorHistory[len(res.ErrorHistory)-1]
	if rec.Class != task.ClassRetryable {
		t.Fatalf("lock contention record class = %s, want retryable", rec.Class)
	}
}

func TestRunMaxSamplesCapsDelivery(t *testing.T) {
	big := sandbox.ExecutionResult{Success: true}
	for i := 0; i < 10; i++ {
		big.Records = append(big.Records, map[string]any{"title": "t", "n": i})
	}
	tk := testTask(3)
	tk.MaxSamples = 4

	c := newTestController(t, tk, Options{
		Oracle:   &scriptedOracle{planCode: "code v1", evalReplies: []string{passingScores}},
		Executor: &scriptedExecutor{results: []sandbox.ExecutionResult{big}},
	})

	res := c.Run(context.Background())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.SampleData) != 4 {
		t.Fatalf("sample data = %d records, want the max_samples cap of 4", len(res.SampleData))
	}
}

// blockingExecutor parks until the run context expires.
type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, _ string, _ time.Duration) (sandbox.ExecutionResult, error) {
	<-ctx.Done()
	return sandbox.ExecutionResult{}, ctx.Err()
}

func TestRunTotalTimeoutForcesTimeoutReport(t *testing.T) {
	tk := testTask(3)
	tk.TotalTimeout = 300 * time.Millisecond

	c := newTestController(t, tk, Options{
		Oracle:   &scriptedOracle{planCode: "code v1"},
		Executor: blockingExecutor{},
	})

	res := c.Run(context.Background())

	if res.Success || res.Phase != task.PhaseFailed {
		t.Fatalf("expected failed terminal phase, got %+v", res)
	}
	if res.Reason != task.ReasonTimeout {
		t.Fatalf("reason = %s, want %s", res.Reason, task.ReasonTimeout)
	}
	last := res.ErrorHistory[len(res.ErrorHistory)-1]
	if last.Class != task.ClassFatal {
		t.Fatalf("timeout record class = %s, want fatal", last.Class)
	}
}

func TestRunTemplateFallbackRecordsPlanExhaustion(t *testing.T) {
	exec := &scriptedExecutor{results: []sandbox.ExecutionResult{okResult()}}
	// An oracle that keeps answering with an empty code block exhausts the
	// plan retry cap and forces the template extractor.
	c := newTestController(t, testTask(3), Options{
		Oracle:   &scriptedOracle{planCode: "", evalReplies: []string{passingScores}},
		Executor: exec,
	})

	res := c.Run(context.Background())

	if !res.Success {
		t.Fatalf("template extractor run should succeed, got %+v", res)
	}
	var found bool
	for _, rec := range res.ErrorHistory {
		if rec.Phase == task.PhasePlan && rec.Class == task.ClassRetryable {
			found = true
		}
	}
	if !found {
		t.Fatalf("exhausted plan attempts not recorded: %+v", res.ErrorHistory)
	}
}

func TestRejectedResult(t *testing.T) {
	_, err := task.Submission{SiteURL: "not a url", UserGoal: "g"}.Build()
	if err == nil {
		t.Fatal("expected build rejection")
	}
	res := RejectedResult(err)
	if res.Success || res.Phase != task.PhaseFailed || res.Reason != task.ReasonInvalidInput {
		t.Fatalf("unexpected rejection payload: %+v", res)
	}
}
