package controller

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/sitescout/internal/oracle"
	"github.com/ChamsBouzaiene/sitescout/internal/task"
)

// runRepair is one pass of the repair loop: gather the failure evidence,
// diagnose a cause, ask the oracle for a revision, vet the revision, then
// record the attempt and advance the iteration counter. Any outcome other
// than an accepted revision ends the task.
func (c *Controller) runRepair(ctx context.Context) Event {
	res := c.state.lastResult

	// Sense + Orient: the evidence and its diagnosed cause. A quality
	// rejection arrives here as a successful execution with a failing
	// report attached.
	triggerPhase := task.PhaseAct
	cause := CauseUnknown
	detail := failureDetail(res)
	if res.Success && c.state.lastReport != nil {
		triggerPhase = task.PhaseVerify
		cause = CauseLowQuality
		detail = qualityDetail(c.state.lastReport)
	} else {
		cause = orient(ctx, c.client, res)
	}

	if c.client == nil {
		c.state.outcome = task.ReasonOracleExhausted
		c.appendError(task.PhaseRepair, task.ClassFatal, string(cause), "no oracle available for revision")
		return EventOracleExhausted
	}

	rctx, cancel := context.WithTimeout(ctx, c.task.PlanTimeout)
	defer cancel()

	prompt := oracle.RevisionPrompt(c.state.code, string(cause), detail, c.historySummaries(), c.state.repeatedRevision)
	reply, err := c.client.Generate(rctx, prompt)
	if err != nil {
		c.state.outcome = task.ReasonOracleExhausted
		c.appendError(task.PhaseRepair, task.ClassFatal, string(cause), fmt.Sprintf("revision unavailable: %v", err))
		return EventOracleExhausted
	}

	// Vet the revision before spending an iteration on it. An empty or
	// byte-identical artifact means the oracle has nothing left to try.
	revised := oracle.ExtractCode(reply)
	if strings.TrimSpace(revised) == "" || revised == c.state.code {
		c.state.outcome = task.ReasonIrreparableRevision
		c.appendError(task.PhaseRepair, task.ClassFatal, string(cause), "revision empty or identical to the failing artifact")
		return EventIrreparable
	}

	// A revision matching an earlier attempt is allowed through once, with
	// the repeat flagged in the next prompt so the oracle changes course.
	sig := codeSignature(revised)
	_, repeat := c.state.signatures[sig]
	c.state.repeatedRevision = repeat

	// Learn: record the attempt, advance the counter, swap in the revision.
	c.appendError(triggerPhase, task.ClassRecoverable, string(cause), detail)
	c.state.code = revised
	c.state.iteration++
	c.state.signatures[sig] = c.state.iteration
	return EventRepaired
}

// historySummaries renders the error history for revision prompts, one line
// per prior attempt.
func (c *Controller) historySummaries() []string {
	out := make([]string, 0, len(c.state.errors))
	for _, rec := range c.state.errors {
		out = append(out, fmt.Sprintf("iteration %d (%s/%s): %s",
			rec.Iteration, rec.Phase, rec.Cause, truncateText(rec.Message, 200)))
	}
	return out
}

func codeSignature(code string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(sum[:])
}
