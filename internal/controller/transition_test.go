package controller

import (
	"testing"

	"github.com/ChamsBouzaiene/sitescout/internal/sandbox"
	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

func TestNextHappyPath(t *testing.T) {
	steps := []struct {
		from  task.Phase
		event Event
		want  task.Phase
	}{
		{task.PhaseSense, EventSensed, task.PhasePlan},
		{task.PhasePlan, EventPlanned, task.PhaseAct},
		{task.PhaseAct, EventExecuted, task.PhaseVerify},
		{task.PhaseVerify, EventQualityPassed, task.PhaseReport},
		{task.PhaseReport, EventReportedSuccess, task.PhaseDone},
	}
	for _, s := range steps {
		got, err := Next(s.from, s.event)
		if err != nil {
			t.Fatalf("Next(%s, %s): %v", s.from, s.event, err)
		}
		if got != s.want {
			t.Fatalf("Next(%s, %s) = %s, want %s", s.from, s.event, got, s.want)
		}
	}
}

func TestNextRepairLoop(t *testing.T) {
	got, err := Next(task.PhaseAct, EventExecFailed)
	if err != nil || got != task.PhaseRepair {
		t.Fatalf("Next(act, exec_failed) = %s, %v", got, err)
	}
	got, err = Next(task.PhaseRepair, EventRepaired)
	if err != nil || got != task.PhaseAct {
		t.Fatalf("Next(repair, repaired) = %s, %v", got, err)
	}
	got, err = Next(task.PhaseVerify, EventQualityFailed)
	if err != nil || got != task.PhaseRepair {
		t.Fatalf("Next(verify, quality_failed) = %s, %v", got, err)
	}
}

func TestNextTerminalPhasesAreAbsorbing(t *testing.T) {
	for _, p := range []task.Phase{task.PhaseDone, task.PhaseFailed} {
		for _, e := range []Event{EventSensed, EventRepaired, EventTimeout, EventReportedSuccess} {
			got, err := Next(p, e)
			if err == nil {
				t.Fatalf("Next(%s, %s) accepted a transition out of a terminal phase", p, e)
			}
			if got != p {
				t.Fatalf("Next(%s, %s) moved to %s", p, e, got)
			}
		}
	}
}

func TestNextTimeoutPreemptsEveryPhase(t *testing.T) {
	for _, p := range []task.Phase{task.PhaseSense, task.PhasePlan, task.PhaseAct, task.PhaseVerify, task.PhaseRepair} {
		got, err := Next(p, EventTimeout)
		if err != nil || got != task.PhaseReport {
			t.Fatalf("Next(%s, timeout) = %s, %v; want report", p, got, err)
		}
	}
}

func TestNextRejectsForeignEvents(t *testing.T) {
	if _, err := Next(task.PhaseSense, EventExecuted); err == nil {
		t.Fatal("sense must not accept an execution event")
	}
	if _, err := Next(task.PhaseVerify, EventPlanned); err == nil {
		t.Fatal("verify must not accept a planning event")
	}
}

func TestClassifyPatterns(t *testing.T) {
	tests := []struct {
		name string
		res  sandbox.ExecutionResult
		want Cause
		ok   bool
	}{
		{
			name: "hard timeout",
			res:  sandbox.ExecutionResult{TimedOut: true},
			want: CauseSlowLoad, ok: true,
		},
		{
			name: "timeout outranks selector noise",
			res:  sandbox.ExecutionResult{TimedOut: true, Stderr: "NoSuchElementException: selector .price"},
			want: CauseSlowLoad, ok: true,
		},
		{
			name: "selector failure",
			res:  sandbox.ExecutionResult{Stderr: "AttributeError: 'NoneType' object has no attribute 'text'"},
			want: CauseStructureDrift, ok: true,
		},
		{
			name: "json decode failure",
			res:  sandbox.ExecutionResult{Stderr: "json.decoder.JSONDecodeError: Expecting value: line 1"},
			want: CauseFormatError, ok: true,
		},
		{
			name: "clean exit without records",
			res:  sandbox.ExecutionResult{Success: true, Stdout: "done"},
			want: CauseFormatError, ok: true,
		},
		{
			name: "http 403",
			res:  sandbox.ExecutionResult{Stderr: "urllib.error.HTTPError: HTTP Error 403: Forbidden"},
			want: CauseAccessBlocked, ok: true,
		},
		{
			name: "captcha page",
			res:  sandbox.ExecutionResult{Stderr: "extraction aborted: captcha challenge served"},
			want: CauseAccessBlocked, ok: true,
		},
		{
			name: "inconclusive",
			res:  sandbox.ExecutionResult{Stderr: "MemoryError"},
			want: CauseUnknown, ok: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := classifyPatterns(tc.res)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("classifyPatterns() = %s, %v; want %s, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
