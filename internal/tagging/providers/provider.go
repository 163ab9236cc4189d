// Package providers implements the LLM provider interface consumed by the
// background tagging/insights workers (§4.H). Adapted from goclaw's
// internal/providers (HTTP-call + retry shape) and trimmed to the one-shot
// completion surface the tagging pipeline actually needs: no streaming, no
// tool-call loop, no vision — just Complete() and CalculateCost().
package providers

import (
	"context"
	"time"
)

// Provider is the polymorphic interface with variants "openai" and
// "anthropic" named in §4.H. Each variant calculates its own cost model.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
	CalculateCost(promptTokens, completionTokens int) float64
}

// CompleteRequest is a one-shot completion call. Schema, when non-nil,
// requests structured output; each provider passes it to its API's native
// structured-output mechanism. No provider appends a schema instruction to
// the system prompt instead.
type CompleteRequest struct {
	System string
	User   string
	Schema map[string]any
	Model  string
}

// CompleteResponse mirrors the fields named in §4.H.
type CompleteResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
	Model            string
	DurationMS       int64
}

// measure wraps fn, stamping DurationMS on its result.
func measure(fn func() (*CompleteResponse, error)) (*CompleteResponse, error) {
	start := time.Now()
	resp, err := fn()
	if resp != nil {
		resp.DurationMS = time.Since(start).Milliseconds()
	}
	return resp, err
}
