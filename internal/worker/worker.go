// Package worker runs the background job pool of §4.H: a fixed-size
// goroutine pool claims rows from the per-kind queue (backed by
// store.WorkerJobStore's `FOR UPDATE SKIP LOCKED` claim), builds the
// insights canonical narrative for the conversation, asks an LLM provider
// to tag it, and persists the resulting recommendations. Grounded on the
// teacher's consumer pool (internal/bus consumer loop in
// cmd/gateway_consumer.go): a fixed worker count pulling from a queue with
// context-cancellation shutdown.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/canon"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/tagging/providers"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

// pollInterval is how often an idle worker checks for a new job.
const pollInterval = 2 * time.Second

// candidate is one structured recommendation the provider proposes.
type candidate struct {
	Kind       string          `json:"kind"`
	Confidence float64         `json:"confidence"`
	Payload    json.RawMessage `json:"payload"`
}

// taggingResponse is the structured-output shape requested from the
// provider via CompleteRequest.Schema.
type taggingResponse struct {
	Candidates []candidate `json:"candidates"`
}

// Pool runs Concurrency goroutines, each draining every job kind in turn.
type Pool struct {
	Stores   *store.Stores
	Canon    *canon.Generator
	Provider providers.Provider
	Config   config.WorkersConfig
	Logger   *slog.Logger

	kinds []domain.WorkerJobKind
}

func New(stores *store.Stores, canonGen *canon.Generator, provider providers.Provider, cfg config.WorkersConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseSec <= 0 {
		cfg.RetryBaseSec = 60
	}
	return &Pool{
		Stores:   stores,
		Canon:    canonGen,
		Provider: provider,
		Config:   cfg,
		Logger:   logger,
		kinds:    []domain.WorkerJobKind{domain.WorkerJobTagging, domain.WorkerJobSlashCommand, domain.WorkerJobMCPDetection},
	}
}

// Run blocks, running Concurrency workers until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Config.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, kind := range p.kinds {
				p.drainKind(ctx, kind, workerID)
			}
		}
	}
}

// drainKind claims and processes every job of kind currently available,
// stopping at the first empty claim (nil, nil).
func (p *Pool) drainKind(ctx context.Context, kind domain.WorkerJobKind, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := p.Stores.WorkerJobs.ClaimNext(ctx, kind)
		if err != nil {
			p.Logger.Error("worker.claim_failed", "kind", kind, "worker_id", workerID, "error", err)
			return
		}
		if job == nil {
			return
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *domain.WorkerJob) {
	ctx, end := telemetry.StartSpan(ctx, "worker.process",
		telemetry.Attr("kind", string(job.Kind)),
		telemetry.Attr("conversation_id", job.ConversationID.String()))
	defer end()

	var err error
	switch job.Kind {
	case domain.WorkerJobTagging:
		err = p.runTagging(ctx, job)
	case domain.WorkerJobSlashCommand, domain.WorkerJobMCPDetection:
		err = p.runDetection(ctx, job)
	default:
		err = apperr.New(apperr.InvalidArgument, "unknown worker job kind "+string(job.Kind))
	}

	if err == nil {
		if cerr := p.Stores.WorkerJobs.Complete(ctx, job.ID); cerr != nil {
			p.Logger.Error("worker.complete_failed", "job_id", job.ID, "error", cerr)
		}
		return
	}

	p.fail(ctx, job, err)
}

func (p *Pool) fail(ctx context.Context, job *domain.WorkerJob, err error) {
	permanent := !apperr.IsTransient(err) || job.Attempts+1 >= p.Config.MaxAttempts
	retryAt := time.Now().UTC().Add(backoff(p.Config.RetryBaseSec, job.Attempts+1))
	if ferr := p.Stores.WorkerJobs.Fail(ctx, job.ID, err.Error(), retryAt, permanent); ferr != nil {
		p.Logger.Error("worker.fail_record_failed", "job_id", job.ID, "error", ferr)
	}
	p.Logger.Warn("worker.job_failed", "job_id", job.ID, "kind", job.Kind, "permanent", permanent, "error", err)
}

// backoff mirrors the watch daemon's retry schedule (§4.G, §4.H): base *
// 3^(attempts-1).
func backoff(baseSec, attempts int) time.Duration {
	d := time.Duration(baseSec) * time.Second
	for i := 1; i < attempts; i++ {
		d *= 3
	}
	return d
}

// runTagging builds the insights narrative, asks the provider for
// structured tagging candidates, filters by confidence, and persists
// recommendations (§4.H).
func (p *Pool) runTagging(ctx context.Context, job *domain.WorkerJob) error {
	if p.Provider == nil {
		return apperr.New(apperr.Transient, "no LLM provider configured")
	}

	cache, err := p.Canon.Get(ctx, job.WorkspaceID, job.ConversationID, domain.CanonicalInsights, canon.Semantic, false)
	if err != nil {
		return err
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidates": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind":       map[string]any{"type": "string"},
						"confidence": map[string]any{"type": "number"},
						"payload":    map[string]any{"type": "object"},
					},
					"required": []string{"kind", "confidence"},
				},
			},
		},
	}

	resp, err := p.Provider.Complete(ctx, providers.CompleteRequest{
		System: "Identify actionable recommendations from this coding session. Respond with JSON candidates, each with a kind, a confidence between 0 and 1, and an optional payload.",
		User:   cache.Narrative,
		Schema: schema,
	})
	if err != nil {
		return classifyProviderError(err)
	}

	var parsed taggingResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return apperr.Wrap(apperr.ParseError, "parse tagging response", err)
	}

	for _, c := range parsed.Candidates {
		if c.Confidence < p.Config.ConfidenceThreshold {
			continue
		}
		rec := &domain.Recommendation{
			WorkspaceID:    job.WorkspaceID,
			ConversationID: job.ConversationID,
			Kind:           c.Kind,
			Status:         domain.RecommendationOpen,
			Payload:        c.Payload,
		}
		if err := p.Stores.Recommendations.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// runDetection handles the slash-command / MCP-usage job kinds: a cheap
// pattern scan over the conversation's messages rather than an LLM call.
func (p *Pool) runDetection(ctx context.Context, job *domain.WorkerJob) error {
	messages, err := p.Stores.Messages.ListByConversation(ctx, job.ConversationID)
	if err != nil {
		return err
	}

	var hits int
	for _, m := range messages {
		switch job.Kind {
		case domain.WorkerJobSlashCommand:
			if len(m.Content) > 0 && m.Content[0] == '/' {
				hits++
			}
		case domain.WorkerJobMCPDetection:
			for _, tc := range m.ToolCalls {
				if len(tc.Name) > 4 && tc.Name[:4] == "mcp_" {
					hits++
				}
			}
		}
	}
	if hits == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"hits": hits})
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal detection payload", err)
	}
	rec := &domain.Recommendation{
		WorkspaceID:    job.WorkspaceID,
		ConversationID: job.ConversationID,
		Kind:           string(job.Kind),
		Status:         domain.RecommendationOpen,
		Payload:        payload,
	}
	return p.Stores.Recommendations.Create(ctx, rec)
}

func classifyProviderError(err error) error {
	if apperr.KindOf(err) != apperr.Internal {
		return err
	}
	return apperr.Wrap(apperr.Transient, fmt.Sprintf("provider call: %v", err), err)
}
