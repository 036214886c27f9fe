package controller

import (
	"fmt"

	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// Event is a phase-completion signal driving the state machine.
type Event string

const (
	EventSensed          Event = "sensed"           // snapshot captured
	EventUnreachable     Event = "unreachable"      // site could not be probed
	EventPlanned         Event = "planned"          // code artifact accepted
	EventOracleExhausted Event = "oracle_exhausted" // no usable code obtainable
	EventExecuted        Event = "executed"         // sandbox run succeeded
	EventExecFailed      Event = "exec_failed"      // sandbox run failed, budget remains
	EventQualityPassed   Event = "quality_passed"
	EventQualityFailed   Event = "quality_failed"   // below threshold, budget remains
	EventBudgetExhausted Event = "budget_exhausted" // repair ceiling reached
	EventRepaired        Event = "repaired"         // revision accepted, back to Act
	EventIrreparable     Event = "irreparable"      // empty or identical revision
	EventTimeout         Event = "timeout"          // total-task timeout, from any phase
	EventInvalidInput    Event = "invalid_input"
	EventReportedSuccess Event = "reported_success"
	EventReportedFailure Event = "reported_failure"
)

// Next is the pure transition function. It holds the whole phase graph;
// the controller owns no other routing logic.
func Next(p task.Phase, e Event) (task.Phase, error) {
	if p.Terminal() {
		return p, fmt.Errorf("no transition out of terminal phase %s", p)
	}

	// The total-task timeout preempts any phase.
	if e == EventTimeout {
		return task.PhaseReport, nil
	}

	switch p {
	case task.PhaseSense:
		switch e {
		case EventSensed:
			return task.PhasePlan, nil
		case EventUnreachable, EventInvalidInput:
			return task.PhaseReport, nil
		}
	case task.PhasePlan:
		switch e {
		case EventPlanned:
			return task.PhaseAct, nil
		case EventOracleExhausted:
			return task.PhaseReport, nil
		}
	case task.PhaseAct:
		switch e {
		case EventExecuted:
			return task.PhaseVerify, nil
		case EventExecFailed:
			return task.PhaseRepair, nil
		case EventBudgetExhausted:
			return task.PhaseReport, nil
		}
	case task.PhaseVerify:
		switch e {
		case EventQualityPassed, EventBudgetExhausted:
			return task.PhaseReport, nil
		case EventQualityFailed:
			return task.PhaseRepair, nil
		}
	case task.PhaseRepair:
		switch e {
		case EventRepaired:
			return task.PhaseAct, nil
		case EventIrreparable, EventOracleExhausted, EventBudgetExhausted:
			return task.PhaseReport, nil
		}
	case task.PhaseReport:
		switch e {
		case EventReportedSuccess:
			return task.PhaseDone, nil
		case EventReportedFailure:
			return task.PhaseFailed, nil
		}
	}

	return p, fmt.Errorf("invalid transition: phase %s, event %s", p, e)
}
