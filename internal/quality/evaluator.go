// Package quality scores extracted records against the user goal and gates
// the Verify phase. Scoring prefers the oracle; a deterministic fallback
// keeps Verify functional when the oracle is unavailable.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Report is the outcome of evaluating one batch of records. Immutable once
// produced.
type Report struct {
	Relevance      float64  `json:"relevance"`
	Completeness   float64  `json:"completeness"`
	Accuracy       float64  `json:"accuracy"`
	ContentQuality float64  `json:"content_quality"`
	Composite      float64  `json:"composite"`
	Threshold      float64  `json:"threshold"`
	Passed         bool     `json:"passed"`
	Issues         []string `json:"issues,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
}

// Weights configures the composite score. The four dimensions must sum to 1.
type Weights struct {
	Relevance      float64
	Completeness   float64
	Accuracy       float64
	ContentQuality float64
}

// DefaultWeights returns the documented dimension weighting.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.4, Completeness: 0.3, Accuracy: 0.2, ContentQuality: 0.1}
}

// Validate rejects weight configurations that do not sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"relevance":       w.Relevance,
		"completeness":    w.Completeness,
		"accuracy":        w.Accuracy,
		"content_quality": w.ContentQuality,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must be >= 0, got %v", name, v)
		}
	}
	sum := w.Relevance + w.Completeness + w.Accuracy + w.ContentQuality
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("quality weights must sum to 1.0, got %v", sum)
	}
	return nil
}

func (w Weights) composite(relevance, completeness, accuracy, content float64) float64 {
	return round2(w.Relevance*relevance +
		w.Completeness*completeness +
		w.Accuracy*accuracy +
		w.ContentQuality*content)
}

// Oracle is the slice of the code-generation oracle the evaluator needs.
type Oracle interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Evaluator scores record batches. A nil oracle means fallback-only.
type Evaluator struct {
	oracle  Oracle
	weights Weights
	timeout time.Duration
}

// NewEvaluator builds an evaluator, rejecting invalid weights.
func NewEvaluator(oracle Oracle, weights Weights, timeout time.Duration) (*Evaluator, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Evaluator{oracle: oracle, weights: weights, timeout: timeout}, nil
}

// Evaluate scores records against the goal. Oracle failures and timeouts
// degrade to the deterministic fallback instead of propagating an error.
func (e *Evaluator) Evaluate(ctx context.Context, records []map[string]any, goal string, threshold float64) Report {
	if e.oracle == nil {
		return Fallback(records, goal, threshold)
	}

	ectx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.oracle.Generate(ectx, evaluationPrompt(records, goal))
	if err != nil {
		rep := Fallback(records, goal, threshold)
		rep.Issues = append(rep.Issues, fmt.Sprintf("oracle evaluation unavailable: %v", err))
		return rep
	}

	scores, issues, err := parseScores(raw)
	if err != nil {
		rep := Fallback(records, goal, threshold)
		rep.Issues = append(rep.Issues, fmt.Sprintf("oracle evaluation unparsable: %v", err))
		return rep
	}

	composite := e.weights.composite(scores[0], scores[1], scores[2], scores[3])
	return Report{
		Relevance:      scores[0],
		Completeness:   scores[1],
		Accuracy:       scores[2],
		ContentQuality: scores[3],
		Composite:      composite,
		Threshold:      threshold,
		Passed:         composite >= threshold,
		Issues:         issues,
	}
}

func evaluationPrompt(records []map[string]any, goal string) string {
	sample, _ := json.Marshal(records)
	var b strings.Builder
	b.WriteString("You are a data-quality judge for a web reconnaissance task.\n")
	b.WriteString("User goal: " + goal + "\n")
	b.WriteString("Extracted records (JSON):\n")
	b.Write(sample)
	b.WriteString("\n\nScore the batch on four dimensions in [0,1]: relevance to the goal, ")
	b.WriteString("completeness of required fields, accuracy of values, and content quality. ")
	b.WriteString("Reply with exactly one JSON object:\n")
	b.WriteString(`{"relevance":0.0,"completeness":0.0,"accuracy":0.0,"content_quality":0.0,"issues":["..."]}`)
	return b.String()
}

// parseScores extracts the dimension scores from an oracle reply, tolerating
// surrounding prose or code fences.
func parseScores(raw string) ([4]float64, []string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return [4]float64{}, nil, fmt.Errorf("no JSON object in oracle reply")
	}

	var payload struct {
		Relevance      float64  `json:"relevance"`
		Completeness   float64  `json:"completeness"`
		Accuracy       float64  `json:"accuracy"`
		ContentQuality float64  `json:"content_quality"`
		Issues         []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return [4]float64{}, nil, fmt.Errorf("decode oracle scores: %w", err)
	}

	scores := [4]float64{
		clamp01(payload.Relevance),
		clamp01(payload.Completeness),
		clamp01(payload.Accuracy),
		clamp01(payload.ContentQuality),
	}
	return scores, payload.Issues, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
