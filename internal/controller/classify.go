package controller

import (
	"context"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/sitescout/internal/oracle"
	"github.com/ChamsBouzaiene/sitescout/internal/sandbox"
)

// Cause labels the diagnosed root of a failed execution. Fed into revision
// prompts and error records.
type Cause string

const (
	CauseSlowLoad       Cause = "slow_load"
	CauseStructureDrift Cause = "structure_drift"
	CauseFormatError    Cause = "format_error"
	CauseAccessBlocked  Cause = "access_blocked"
	CauseLowQuality     Cause = "low_quality"
	CauseUnknown        Cause = "unknown"
)

// classifyPatterns applies the fixed precedence of pattern rules. The order
// matters: a timed-out run often also prints selector noise, and the
// timeout is the actionable signal.
func classifyPatterns(res sandbox.ExecutionResult) (Cause, bool) {
	if res.TimedOut {
		return CauseSlowLoad, true
	}

	text := strings.ToLower(res.Stderr + "\n" + res.Error)

	if strings.Contains(text, "timed out") || strings.Contains(text, "timeout") {
		return CauseSlowLoad, true
	}

	if strings.Contains(text, "selector") ||
		strings.Contains(text, "nosuchelement") ||
		strings.Contains(text, "no such element") ||
		strings.Contains(text, "element not found") ||
		strings.Contains(text, "could not find") ||
		strings.Contains(text, "nonetype") {
		return CauseStructureDrift, true
	}

	if strings.Contains(text, "jsondecodeerror") ||
		strings.Contains(text, "expecting value") ||
		strings.Contains(text, "invalid json") ||
		strings.Contains(text, "unterminated string") {
		return CauseFormatError, true
	}
	// A clean exit that produced no parseable records is a format problem,
	// not an execution one.
	if res.Success && len(res.Records) == 0 {
		return CauseFormatError, true
	}

	if strings.Contains(text, "connection refused") ||
		strings.Contains(text, "connection reset") ||
		strings.Contains(text, "403") ||
		strings.Contains(text, "401") ||
		strings.Contains(text, "429") ||
		strings.Contains(text, "forbidden") ||
		strings.Contains(text, "unauthorized") ||
		strings.Contains(text, "captcha") ||
		strings.Contains(text, "access denied") ||
		strings.Contains(text, "blocked") {
		return CauseAccessBlocked, true
	}

	return CauseUnknown, false
}

// orient diagnoses a failed execution: fixed pattern rules first, then an
// oracle-assisted classification, then unknown.
func orient(ctx context.Context, client oracle.Client, res sandbox.ExecutionResult) Cause {
	if cause, ok := classifyPatterns(res); ok {
		return cause
	}
	if client == nil {
		return CauseUnknown
	}

	reply, err := client.Generate(ctx, oracle.ClassificationPrompt(res.Stderr, res.Stdout))
	if err != nil {
		log.Printf("WARNING: oracle classification unavailable: %v", err)
		return CauseUnknown
	}

	label := strings.ToLower(strings.TrimSpace(reply))
	for _, c := range []Cause{CauseSlowLoad, CauseStructureDrift, CauseFormatError, CauseAccessBlocked} {
		if strings.Contains(label, string(c)) {
			return c
		}
	}
	return CauseUnknown
}
