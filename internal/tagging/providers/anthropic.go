package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicAPIBase      = "https://api.anthropic.com/v1"
	anthropicAPIVersion   = "2023-06-01"

	// Pricing per million tokens, claude-sonnet-4-5 as of this writing.
	anthropicInputPerM  = 3.00
	anthropicOutputPerM = 15.00
)

// AnthropicProvider implements Provider over the Anthropic Messages API,
// grounded on goclaw's internal/providers/anthropic.go HTTP-call shape.
type AnthropicProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultAnthropicModel,
		client:       &http.Client{Timeout: 60 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) CalculateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1_000_000*anthropicInputPerM +
		float64(completionTokens)/1_000_000*anthropicOutputPerM
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Tools     []anthropicToolSpec `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Model      string `json:"model"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete issues one Messages API call. When req.Schema is set, it is
// passed as a single forced tool call ("structured_output") — Anthropic's
// native equivalent of JSON-schema-constrained output; the prompt-fallback
// path is unnecessary here since tool_choice gives exact schema adherence.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.User}},
		MaxTokens: 4096,
	}
	if req.Schema != nil {
		body.Tools = []anthropicToolSpec{{
			Name:        "structured_output",
			Description: "Return the result matching the given schema.",
			InputSchema: req.Schema,
		}}
	}

	return measure(func() (*CompleteResponse, error) {
		return RetryDo(ctx, p.retryConfig, isRetryableHTTPError, func() (*CompleteResponse, error) {
			return p.call(ctx, model, body)
		})
	})
}

func (p *AnthropicProvider) call(ctx context.Context, model string, body anthropicRequest) (*CompleteResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &httpError{transient: true, err: fmt.Errorf("anthropic: request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &httpError{transient: true, err: fmt.Errorf("anthropic: read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &httpError{transient: true, err: fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{transient: false, err: fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, data)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &CompleteResponse{
		Content:          sb.String(),
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		FinishReason:     parsed.StopReason,
		Model:            parsed.Model,
	}, nil
}

type httpError struct {
	transient bool
	err       error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func isRetryableHTTPError(err error) bool {
	var he *httpError
	if e, ok := err.(*httpError); ok {
		he = e
	}
	return he != nil && he.transient
}
