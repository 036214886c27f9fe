// Package oracle talks to the code-generation model. It produces the
// extractor artifacts the controller executes and the revisions the repair
// loop applies.
package oracle

import (
	"context"
	"errors"
)

// Client generates text completions for a single prompt. Implementations
// are provider-specific; callers treat the response as opaque text and
// extract code with ExtractCode.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// ErrBudgetExhausted is returned once a budgeted client has spent its
// call ceiling.
var ErrBudgetExhausted = errors.New("oracle call budget exhausted")

// BudgetedClient enforces a hard ceiling on oracle calls for one task.
// Not safe for concurrent use; the controller is sequential.
type BudgetedClient struct {
	inner     Client
	remaining int
}

// NewBudgetedClient wraps client with a call ceiling. A non-positive
// ceiling means unlimited.
func NewBudgetedClient(client Client, ceiling int) *BudgetedClient {
	if ceiling <= 0 {
		ceiling = -1
	}
	return &BudgetedClient{inner: client, remaining: ceiling}
}

func (b *BudgetedClient) Generate(ctx context.Context, prompt string) (string, error) {
	if b.remaining == 0 {
		return "", ErrBudgetExhausted
	}
	if b.remaining > 0 {
		b.remaining--
	}
	return b.inner.Generate(ctx, prompt)
}

func (b *BudgetedClient) Model() string { return b.inner.Model() }

// Remaining reports how many calls are left; negative means unlimited.
func (b *BudgetedClient) Remaining() int { return b.remaining }
