package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAIAPIBase      = "https://api.openai.com/v1"

	openAIInputPerM  = 0.15
	openAIOutputPerM = 0.60
)

// OpenAIProvider implements Provider over the Chat Completions API,
// grounded on goclaw's internal/providers/openai.go.
type OpenAIProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:       apiKey,
		baseURL:      openAIAPIBase,
		defaultModel: defaultOpenAIModel,
		client:       &http.Client{Timeout: 60 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) CalculateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1_000_000*openAIInputPerM +
		float64(completionTokens)/1_000_000*openAIOutputPerM
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	ResponseFormat *openAIRespFormat   `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIRespFormat requests native structured output via json_schema
// whenever a schema is given; there is no prompt-instruction fallback for
// models without json_schema support.
type openAIRespFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIChatMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	system := req.System
	body := openAIChatRequest{
		Model: model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.User},
		},
	}

	if req.Schema != nil {
		// Native structured-output path.
		body.ResponseFormat = &openAIRespFormat{
			Type: "json_schema",
			JSONSchema: map[string]any{
				"name":   "structured_output",
				"schema": req.Schema,
				"strict": true,
			},
		}
	}

	return measure(func() (*CompleteResponse, error) {
		return RetryDo(ctx, p.retryConfig, isRetryableHTTPError, func() (*CompleteResponse, error) {
			return p.call(ctx, body)
		})
	})
}

func (p *OpenAIProvider) call(ctx context.Context, body openAIChatRequest) (*CompleteResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &httpError{transient: true, err: fmt.Errorf("openai: request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &httpError{transient: true, err: fmt.Errorf("openai: read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &httpError{transient: true, err: fmt.Errorf("openai: status %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{transient: false, err: fmt.Errorf("openai: status %d: %s", resp.StatusCode, data)}
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	return &CompleteResponse{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		FinishReason:     parsed.Choices[0].FinishReason,
		Model:            parsed.Model,
	}, nil
}
