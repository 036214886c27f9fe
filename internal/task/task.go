// Package task defines the immutable task input, the phase and outcome
// enums, and the terminal result payloads shared by the controller and the
// results store.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/sitescout/internal/quality"
)

// Phase represents the current phase of a recon task.
type Phase string

const (
	PhaseSense  Phase = "sense"
	PhasePlan   Phase = "plan"
	PhaseAct    Phase = "act"
	PhaseVerify Phase = "verify"
	PhaseRepair Phase = "repair"
	PhaseReport Phase = "report"
	PhaseDone   Phase = "done"
	PhaseFailed Phase = "failed"
)

// Terminal reports whether the phase is absorbing.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// FailReason enumerates terminal failure reasons.
type FailReason string

const (
	ReasonUnreachableSite       FailReason = "UNREACHABLE_SITE"
	ReasonOracleExhausted       FailReason = "ORACLE_EXHAUSTED"
	ReasonRepairBudgetExhausted FailReason = "REPAIR_BUDGET_EXHAUSTED"
	ReasonIrreparableRevision   FailReason = "IRREPARABLE_REVISION"
	ReasonTimeout               FailReason = "TIMEOUT"
	ReasonInvalidInput          FailReason = "INVALID_INPUT"
)

// ErrorClass indicates how the controller routes an error.
type ErrorClass string

const (
	ClassRecoverable ErrorClass = "recoverable" // routed through Repair
	ClassRetryable   ErrorClass = "retryable"   // retried locally, no repair budget consumed
	ClassFatal       ErrorClass = "fatal"       // immediate terminal failure
)

// ErrorRecord is one entry in the task's append-only error history.
type ErrorRecord struct {
	Iteration int        `json:"iteration"`
	Phase     Phase      `json:"phase"`
	Class     ErrorClass `json:"class"`
	Cause     string     `json:"cause,omitempty"`
	Message   string     `json:"message"`
	At        time.Time  `json:"at"`
}

// ProgressEvent is emitted at every phase transition.
type ProgressEvent struct {
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one extracted data record produced by generated code.
type Record = map[string]any

// Defaults applied when a submission omits optional fields. Timeout values
// follow the original agent's per-node budgets.
const (
	DefaultRepairBudget  = 3
	DefaultMaxSamples    = 20
	DefaultOracleBudget  = 30
	DefaultThreshold     = 0.6
	DefaultSenseTimeout  = 60 * time.Second
	DefaultPlanTimeout   = 120 * time.Second
	DefaultActTimeout    = 300 * time.Second
	DefaultVerifyTimeout = 30 * time.Second
	DefaultTotalTimeout  = 30 * time.Minute
)

// Submission is the external task-submission payload.
type Submission struct {
	SiteURL        string  `json:"site_url"`
	UserGoal       string  `json:"user_goal"`
	MaxSamples     int     `json:"max_samples,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	RepairBudget   int     `json:"repair_budget,omitempty"`
	Threshold      float64 `json:"quality_threshold,omitempty"`
}

// Task is the immutable input of one recon run. Created once at submission,
// never mutated afterwards.
type Task struct {
	ID           string
	SiteURL      string
	Goal         string
	MaxSamples   int
	RepairBudget int
	// OracleBudget is the cost ceiling: the maximum number of oracle calls
	// the whole run may spend across all phases.
	OracleBudget int
	Threshold    float64

	SenseTimeout  time.Duration
	PlanTimeout   time.Duration
	ActTimeout    time.Duration
	VerifyTimeout time.Duration
	TotalTimeout  time.Duration
}

// InvalidInputError is the fatal rejection of a malformed submission. The
// controller reports it with reason INVALID_INPUT without entering Sense.
type InvalidInputError struct {
	Field string
	Msg   string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid task input: %s %s", e.Field, e.Msg)
}

// Build validates the submission and produces an immutable Task with
// defaults applied.
func (s Submission) Build() (Task, error) {
	if strings.TrimSpace(s.SiteURL) == "" {
		return Task{}, &InvalidInputError{Field: "site_url", Msg: "is required"}
	}
	if !strings.HasPrefix(s.SiteURL, "http://") && !strings.HasPrefix(s.SiteURL, "https://") {
		return Task{}, &InvalidInputError{Field: "site_url", Msg: "must be an http(s) URL"}
	}
	if strings.TrimSpace(s.UserGoal) == "" {
		return Task{}, &InvalidInputError{Field: "user_goal", Msg: "is required"}
	}
	if s.RepairBudget < 0 {
		return Task{}, &InvalidInputError{Field: "repair_budget", Msg: "must be >= 0"}
	}
	if s.MaxSamples < 0 {
		return Task{}, &InvalidInputError{Field: "max_samples", Msg: "must be >= 0"}
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return Task{}, &InvalidInputError{Field: "quality_threshold", Msg: "must be in [0,1]"}
	}

	t := Task{
		ID:            "recon-" + uuid.NewString()[:8],
		SiteURL:       s.SiteURL,
		Goal:          s.UserGoal,
		MaxSamples:    s.MaxSamples,
		RepairBudget:  DefaultRepairBudget,
		OracleBudget:  DefaultOracleBudget,
		Threshold:     DefaultThreshold,
		SenseTimeout:  DefaultSenseTimeout,
		PlanTimeout:   DefaultPlanTimeout,
		ActTimeout:    DefaultActTimeout,
		VerifyTimeout: DefaultVerifyTimeout,
		TotalTimeout:  DefaultTotalTimeout,
	}
	if s.RepairBudget > 0 {
		t.RepairBudget = s.RepairBudget
	}
	if t.MaxSamples == 0 {
		t.MaxSamples = DefaultMaxSamples
	}
	if s.Threshold > 0 {
		t.Threshold = s.Threshold
	}
	if s.TimeoutSeconds > 0 {
		t.TotalTimeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	return t, nil
}

// Result is the terminal payload delivered to the caller.
type Result struct {
	TaskID         string          `json:"task_id"`
	Success        bool            `json:"success"`
	Phase          Phase           `json:"phase"` // "done" or "failed"
	Degraded       bool            `json:"degraded,omitempty"`
	Reason         FailReason      `json:"reason,omitempty"`
	SampleData     []Record        `json:"sample_data,omitempty"`
	PartialSamples []Record        `json:"partial_sample_data,omitempty"`
	QualityReport  *quality.Report `json:"quality_report,omitempty"`
	ErrorHistory   []ErrorRecord   `json:"error_history,omitempty"`
	IterationsUsed int             `json:"iterations_used"`
}
