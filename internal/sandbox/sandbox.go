// Package sandbox runs untrusted generated extractor code in an isolated
// process and captures its output. Docker is the default isolation backend;
// a host subprocess backend exists for development.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// TruncationMarker is appended to any captured stream that exceeded the cap.
const TruncationMarker = "\n...[output truncated]"

// ExecutionResult captures one sandbox run. Produced exactly once per run,
// on every exit path, and immutable afterwards.
type ExecutionResult struct {
	Success   bool             `json:"success"`
	ExitCode  int              `json:"exit_code"`
	Stdout    string           `json:"stdout"`
	Stderr    string           `json:"stderr"`
	Truncated bool             `json:"truncated,omitempty"`
	TimedOut  bool             `json:"timed_out,omitempty"`
	Records   []map[string]any `json:"records,omitempty"`
	Artifacts []string         `json:"artifacts,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
	Error     string           `json:"error,omitempty"`
}

// Executor runs one code artifact under a timeout.
type Executor interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (ExecutionResult, error)
}

// Run executes code and always returns a usable ExecutionResult: executor
// errors, timeouts, and cancellations are folded into a synthesized failure
// result instead of crossing the phase boundary as an error.
func Run(ctx context.Context, ex Executor, code string, timeout time.Duration) ExecutionResult {
	start := time.Now()
	res, err := ex.Execute(ctx, code, timeout)
	if err != nil {
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		res.Success = false
		if ctx.Err() != nil {
			res.TimedOut = true
			res.Error = fmt.Sprintf("execution cancelled: %v", err)
		} else if res.Error == "" {
			res.Error = err.Error()
		}
		return res
	}
	return res
}

// recordsSchema is the shape generated code must print to stdout: a JSON
// array of objects, optionally wrapped in {"results": [...]}.
const recordsSchema = `{
	"type": "array",
	"items": {"type": "object"}
}`

var recordsSchemaLoader = gojsonschema.NewStringLoader(recordsSchema)

// ParseRecords extracts structured records from captured stdout. A stdout
// that is not valid JSON, or that fails schema validation, yields nil
// records without an execution failure; the quality gate handles it.
func ParseRecords(stdout string) []map[string]any {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil
	}

	// Unwrap the {"results": [...]} envelope some extractors emit.
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Results) > 0 {
		raw = envelope.Results
	}

	valid, err := gojsonschema.Validate(recordsSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil || !valid.Valid() {
		return nil
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil
	}
	return records
}

// Truncate caps s at limit bytes, marking the cut.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	return s[:limit] + TruncationMarker, true
}
