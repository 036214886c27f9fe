// Package controller owns the task state machine: it sequences Sense, Plan,
// Act, Verify, Repair, and Report, enforces the repair budget, and converts
// every internal error into a state transition. No fault crosses its
// boundary unhandled.
package controller

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/sitescout/internal/lockstore"
	"github.com/ChamsBouzaiene/sitescout/internal/oracle"
	"github.com/ChamsBouzaiene/sitescout/internal/probe"
	"github.com/ChamsBouzaiene/sitescout/internal/quality"
	"github.com/ChamsBouzaiene/sitescout/internal/sandbox"
	"github.com/ChamsBouzaiene/sitescout/internal/store"
	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// Lock acquisition policies before Act.
const (
	LockPolicyWait     = "wait"
	LockPolicyFailFast = "failfast"
)

// Plan-phase oracle retry cap, distinct from the repair budget. After the
// cap the built-in template extractor is used.
const planRetryCap = 2

// Options wires the controller's collaborators. Executor, Prober, and Locks
// are required; everything else degrades gracefully when absent.
type Options struct {
	Oracle         oracle.Client
	Executor       sandbox.Executor
	Prober         probe.Prober
	FallbackProber probe.Prober
	Weights        quality.Weights
	Locks          lockstore.Store
	Journal        *store.Store
	Reports        *store.ReportIndex
	Hooks          []Hook
	LockPolicy     string
}

// Controller runs one recon task as a single sequential process. Not safe
// for concurrent use; run one Controller per task.
type Controller struct {
	task      task.Task
	client    oracle.Client
	executor  sandbox.Executor
	prober    probe.Prober
	fallback  probe.Prober
	evaluator *quality.Evaluator
	locks     lockstore.Store
	journal   *store.Store
	reports   *store.ReportIndex
	hooks     []Hook
	policy    string

	state runState
}

// runState is the mutable record owned exclusively by the controller.
type runState struct {
	phase            task.Phase
	snapshot         probe.Snapshot
	code             string
	signatures       map[string]int
	repeatedRevision bool
	lastResult       sandbox.ExecutionResult
	lastReport       *quality.Report
	iteration        int
	errors           []task.ErrorRecord
	outcome          task.FailReason
	degraded         bool
	final            *task.Result
}

// New builds a controller for one task. The oracle client is wrapped with
// the task's call budget and the default retry policy, shared across
// planning, repair, classification, and evaluation.
func New(t task.Task, opts Options) (*Controller, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("controller requires a sandbox executor")
	}
	if opts.Prober == nil {
		return nil, fmt.Errorf("controller requires a site prober")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("controller requires a lock store")
	}

	var client oracle.Client
	if opts.Oracle != nil {
		client = oracle.WithRetry(oracle.NewBudgetedClient(opts.Oracle, t.OracleBudget), oracle.DefaultRetryPolicy())
	}

	weights := opts.Weights
	if weights == (quality.Weights{}) {
		weights = quality.DefaultWeights()
	}
	var evalOracle quality.Oracle
	if client != nil {
		evalOracle = client
	}
	evaluator, err := quality.NewEvaluator(evalOracle, weights, t.VerifyTimeout)
	if err != nil {
		return nil, err
	}

	policy := opts.LockPolicy
	if policy == "" {
		policy = LockPolicyWait
	}

	return &Controller{
		task:      t,
		client:    client,
		executor:  opts.Executor,
		prober:    opts.Prober,
		fallback:  opts.FallbackProber,
		evaluator: evaluator,
		locks:     opts.Locks,
		journal:   opts.Journal,
		reports:   opts.Reports,
		hooks:     opts.Hooks,
		policy:    policy,
		state: runState{
			phase:      task.PhaseSense,
			signatures: make(map[string]int),
		},
	}, nil
}

// RejectedResult is the terminal payload for a submission rejected before
// Sense.
func RejectedResult(err error) *task.Result {
	return &task.Result{
		Success: false,
		Phase:   task.PhaseFailed,
		Reason:  task.ReasonInvalidInput,
		ErrorHistory: []task.ErrorRecord{{
			Phase:   task.PhaseSense,
			Class:   task.ClassFatal,
			Message: err.Error(),
			At:      time.Now(),
		}},
	}
}

// Run executes the task to its terminal state and returns the report.
// The total-task timeout is authoritative: on expiry the controller forces
// Report with a TIMEOUT outcome from whatever phase it is in.
func (c *Controller) Run(ctx context.Context) *task.Result {
	ctx, cancel := context.WithTimeout(ctx, c.task.TotalTimeout)
	defer cancel()

	if c.journal != nil {
		if err := c.journal.RegisterTask(ctx, &c.task); err != nil {
			log.Printf("WARNING: failed to register task: %v", err)
		}
	}
	if seen, err := c.locks.Seen(ctx, c.task.SiteURL); err == nil && seen {
		log.Printf("NOTE: %s was processed by an earlier task", c.task.SiteURL)
	}

	c.emit("task started")

	for !c.state.phase.Terminal() {
		var ev Event
		switch {
		case c.state.phase == task.PhaseReport:
			// Report must complete even after the total timeout fires.
			ev = c.runReport()
		case ctx.Err() != nil:
			c.state.outcome = task.ReasonTimeout
			c.appendError(c.state.phase, task.ClassFatal, "", "total task timeout exceeded")
			ev = EventTimeout
		default:
			ev = c.step(ctx)
		}

		next, err := Next(c.state.phase, ev)
		if err != nil {
			log.Printf("WARNING: %v", err)
			c.state.phase = task.PhaseFailed
			break
		}
		c.transition(next, ev)
	}

	if c.state.final == nil {
		c.state.final = c.buildResult()
	}
	return c.state.final
}

func (c *Controller) step(ctx context.Context) Event {
	switch c.state.phase {
	case task.PhaseSense:
		return c.runSense(ctx)
	case task.PhasePlan:
		return c.runPlan(ctx)
	case task.PhaseAct:
		return c.runAct(ctx)
	case task.PhaseVerify:
		return c.runVerify(ctx)
	case task.PhaseRepair:
		return c.runRepair(ctx)
	}
	return EventTimeout
}

// transition journals the phase change, applies it, and emits progress.
// The journal write happens before the next phase starts.
func (c *Controller) transition(next task.Phase, ev Event) {
	if c.journal != nil {
		jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.journal.RecordTransition(jctx, c.task.ID, c.state.phase, next, string(ev), c.state.iteration); err != nil {
			log.Printf("WARNING: failed to journal transition: %v", err)
		}
		cancel()
	}
	c.state.phase = next
	c.emit(string(ev))
}

func (c *Controller) emit(message string) {
	ev := task.ProgressEvent{
		Phase:     c.state.phase,
		Iteration: c.state.iteration,
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, h := range c.hooks {
		h.OnTransition(ev)
	}
}

func (c *Controller) appendError(phase task.Phase, class task.ErrorClass, cause, message string) {
	c.state.errors = append(c.state.errors, task.ErrorRecord{
		Iteration: c.state.iteration,
		Phase:     phase,
		Class:     class,
		Cause:     cause,
		Message:   message,
		At:        time.Now(),
	})
}

func (c *Controller) runSense(ctx context.Context) Event {
	sctx, cancel := context.WithTimeout(ctx, c.task.SenseTimeout)
	defer cancel()

	snap, err := c.prober.Probe(sctx, c.task.SiteURL)
	if err != nil && c.fallback != nil {
		log.Printf("WARNING: primary probe failed (%v), retrying with fallback prober", err)
		snap, err = c.fallback.Probe(sctx, c.task.SiteURL)
	}
	if err != nil {
		c.state.outcome = task.ReasonUnreachableSite
		c.appendError(task.PhaseSense, task.ClassFatal, "", fmt.Sprintf("site unreachable: %v", err))
		return EventUnreachable
	}

	c.state.snapshot = snap
	return EventSensed
}

func (c *Controller) runPlan(ctx context.Context) Event {
	pctx, cancel := context.WithTimeout(ctx, c.task.PlanTimeout)
	defer cancel()

	sc := oracle.SiteContext{
		URL:          c.task.SiteURL,
		Goal:         c.task.Goal,
		Title:        c.state.snapshot.Title,
		TextExcerpt:  truncateText(c.state.snapshot.Text, 4000),
		AntiBotLevel: c.state.snapshot.AntiBotLevel,
		Features:     c.state.snapshot.Features,
		MaxSamples:   c.task.MaxSamples,
	}

	if c.client != nil {
		prompt := oracle.GenerationPrompt(sc)
		for attempt := 0; attempt <= planRetryCap; attempt++ {
			reply, err := c.client.Generate(pctx, prompt)
			if err != nil {
				log.Printf("WARNING: plan generation attempt %d failed: %v", attempt+1, err)
				if pctx.Err() != nil {
					break
				}
				continue
			}
			if code := oracle.ExtractCode(reply); code != "" {
				c.acceptCode(code)
				return EventPlanned
			}
		}
	}

	// Fallback to the built-in template extractor.
	code := oracle.TemplateCode(c.task.SiteURL, c.task.MaxSamples)
	if strings.TrimSpace(code) == "" {
		c.state.outcome = task.ReasonOracleExhausted
		c.appendError(task.PhasePlan, task.ClassFatal, "", "no usable code artifact from oracle or template")
		return EventOracleExhausted
	}
	log.Printf("WARNING: oracle planning exhausted, using built-in template extractor")
	if c.client != nil {
		c.appendError(task.PhasePlan, task.ClassRetryable, "", "oracle planning attempts exhausted, falling back to template extractor")
	}
	c.acceptCode(code)
	return EventPlanned
}

func (c *Controller) acceptCode(code string) {
	c.state.code = code
	if c.state.iteration == 0 {
		c.state.iteration = 1
	}
	c.state.signatures[codeSignature(code)] = c.state.iteration
}

func (c *Controller) runAct(ctx context.Context) Event {
	key := lockKey(c.task.SiteURL)
	if !c.acquireLock(ctx, key) {
		c.appendError(task.PhaseAct, task.ClassRetryable, "", "site execution slot unavailable")
		c.state.outcome = task.ReasonTimeout
		return EventTimeout
	}
	// The lock is released on every exit path from Act.
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.locks.Release(rctx, key, c.task.ID); err != nil {
			log.Printf("WARNING: failed to release site lock: %v", err)
		}
	}()

	res := sandbox.Run(ctx, c.executor, c.state.code, c.task.ActTimeout)
	c.state.lastResult = res
	c.state.lastReport = nil

	if res.Success {
		return EventExecuted
	}
	if c.state.iteration < c.task.RepairBudget {
		return EventExecFailed
	}

	cause := orient(ctx, c.client, res)
	c.appendError(task.PhaseAct, task.ClassRecoverable, string(cause), failureDetail(res))
	c.state.outcome = task.ReasonRepairBudgetExhausted
	return EventBudgetExhausted
}

// acquireLock claims the per-site execution slot. The wait policy retries
// with backoff inside the Act window; failfast gives up after one attempt.
func (c *Controller) acquireLock(ctx context.Context, key string) bool {
	ttl := int(c.task.ActTimeout.Seconds()) + 30

	ok, err := c.locks.Acquire(ctx, key, c.task.ID, ttl)
	if err != nil {
		log.Printf("WARNING: lock acquire failed: %v", err)
		return false
	}
	if ok || c.policy == LockPolicyFailFast {
		return ok
	}

	delay := time.Second
	deadline := time.Now().Add(c.task.ActTimeout / 2)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		ok, err = c.locks.Acquire(ctx, key, c.task.ID, ttl)
		if err != nil {
			log.Printf("WARNING: lock acquire failed: %v", err)
			return false
		}
		if ok {
			return true
		}
		if delay < 8*time.Second {
			delay *= 2
		}
	}
	return false
}

func (c *Controller) runVerify(ctx context.Context) Event {
	records := c.state.lastResult.Records
	if len(records) > c.task.MaxSamples {
		records = records[:c.task.MaxSamples]
	}

	report := c.evaluator.Evaluate(ctx, records, c.task.Goal, c.task.Threshold)
	c.state.lastReport = &report

	if report.Passed {
		return EventQualityPassed
	}
	if c.state.iteration < c.task.RepairBudget {
		return EventQualityFailed
	}

	// Budget exhausted on a quality failure: degraded success with the
	// failing report attached, distinct from hard failure.
	c.appendError(task.PhaseVerify, task.ClassRecoverable, string(CauseLowQuality), qualityDetail(&report))
	c.state.degraded = true
	return EventBudgetExhausted
}

func (c *Controller) runReport() Event {
	success := c.state.outcome == ""

	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if success {
		if err := c.locks.MarkSeen(pctx, c.task.SiteURL); err != nil {
			log.Printf("WARNING: failed to mark site as processed: %v", err)
		}
	}

	c.state.final = c.buildResult()
	if success {
		c.state.final.Phase = task.PhaseDone
		c.state.final.Success = true
	}

	if c.journal != nil {
		if err := c.journal.SaveReport(pctx, c.state.final); err != nil {
			log.Printf("WARNING: failed to persist report: %v", err)
		}
	}
	if c.reports != nil {
		if err := c.reports.IndexReport(c.state.final, c.task.SiteURL, c.task.Goal); err != nil {
			log.Printf("WARNING: failed to index report: %v", err)
		}
	}

	if success {
		return EventReportedSuccess
	}
	return EventReportedFailure
}

func (c *Controller) buildResult() *task.Result {
	res := &task.Result{
		TaskID:         c.task.ID,
		Success:        false,
		Phase:          task.PhaseFailed,
		Degraded:       c.state.degraded,
		Reason:         c.state.outcome,
		QualityReport:  c.state.lastReport,
		ErrorHistory:   c.state.errors,
		IterationsUsed: c.state.iteration,
	}

	records := c.state.lastResult.Records
	if len(records) > c.task.MaxSamples {
		records = records[:c.task.MaxSamples]
	}
	samples := make([]task.Record, len(records))
	for i, r := range records {
		samples[i] = r
	}

	if c.state.outcome == "" {
		res.SampleData = samples
	} else {
		res.PartialSamples = samples
	}
	return res
}

func lockKey(siteURL string) string {
	if u, err := url.Parse(siteURL); err == nil && u.Host != "" {
		return u.Host
	}
	return siteURL
}

func failureDetail(res sandbox.ExecutionResult) string {
	detail := res.Error
	if detail == "" {
		detail = res.Stderr
	}
	return truncateText(detail, 2000)
}

func qualityDetail(report *quality.Report) string {
	detail := fmt.Sprintf("composite %.2f below threshold %.2f", report.Composite, report.Threshold)
	if len(report.Issues) > 0 {
		detail += ": " + truncateText(strings.Join(report.Issues, "; "), 1500)
	}
	return detail
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
