// Package canon builds the bounded narrative "canonical" views of a
// conversation (§4.F): tagging, insights, and export. Each view samples a
// subset of messages under a token budget and renders them in a
// theatrical play format, grounded on the teacher's transcript formatter
// (internal/agent/transcript.go) generalized from Discord message history
// to epoch/tool/code-change aware sampling.
package canon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

// cacheVersion bumps whenever the narrative format changes shape, forcing
// every cache entry to regenerate once (§4.F "version mismatch").
const cacheVersion = 1

// SamplingStrategy selects how messages are chosen within budget.
type SamplingStrategy string

const (
	Semantic     SamplingStrategy = "semantic"
	Epoch        SamplingStrategy = "epoch"
	Chronological SamplingStrategy = "chronological"
)

// budgetTokens is the target narrative size per canonical type.
var budgetTokens = map[domain.CanonicalType]int{
	domain.CanonicalTagging:  8000,
	domain.CanonicalInsights: 12000,
	domain.CanonicalExport:   20000,
}

const (
	metadataFraction     = 0.10
	sharedChildrenCap    = 0.30
	regenerationThreshold = 2000 // tokens
	avgTokensPerMessage   = 40   // heuristic used only for staleness checks
	extendedThinkingChars = 200
	edgeWindowSize        = 3
	childInlineWindow     = 60 * time.Second
)

// Generator produces and caches canonical narratives.
type Generator struct {
	Stores *store.Stores
}

func New(stores *store.Stores) *Generator {
	return &Generator{Stores: stores}
}

// Get returns the cached narrative if still fresh, regenerating it
// otherwise (§4.F "Cache and invalidation").
func (g *Generator) Get(ctx context.Context, workspaceID, conversationID uuid.UUID, canonicalType domain.CanonicalType, strategy SamplingStrategy, forceRegenerate bool) (*domain.CanonicalCache, error) {
	ctx, end := telemetry.StartSpan(ctx, "canon.get",
		telemetry.Attr("conversation_id", conversationID.String()),
		telemetry.Attr("canonical_type", string(canonicalType)))
	defer end()

	conv, err := g.Stores.Conversations.Get(ctx, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}

	if !forceRegenerate {
		cached, err := g.Stores.CanonicalCaches.Get(ctx, conversationID, canonicalType)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			return nil, err
		}
		if cached != nil && g.isFresh(cached, conv) {
			return cached, nil
		}
	}

	return g.regenerate(ctx, workspaceID, conv, canonicalType, strategy, true)
}

func (g *Generator) isFresh(cached *domain.CanonicalCache, conv *domain.Conversation) bool {
	if cached.Version != cacheVersion {
		return false
	}
	drift := conv.MessageCount - cached.SourceMessageCount
	if drift < 0 {
		drift = -drift
	}
	if drift*avgTokensPerMessage > regenerationThreshold {
		return false
	}
	return true
}

// regenerate builds a fresh narrative. includeChildren is false when this
// call is itself building a child's narrative, preventing unbounded
// recursion (§4.F "children produced with include_children=false").
func (g *Generator) regenerate(ctx context.Context, workspaceID uuid.UUID, conv *domain.Conversation, canonicalType domain.CanonicalType, strategy SamplingStrategy, includeChildren bool) (*domain.CanonicalCache, error) {
	messages, err := g.Stores.Messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	total := budgetTokens[canonicalType]
	if total == 0 {
		total = budgetTokens[domain.CanonicalTagging]
	}
	metadataBudget := int(float64(total) * metadataFraction)

	var childNarratives []string
	childBudget := 0
	if includeChildren {
		children, err := g.Stores.Conversations.ListChildren(ctx, workspaceID, conv.ID)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			childBudget = int(float64(total) * sharedChildrenCap)
			perChild := childBudget / len(children)
			for _, child := range children {
				childCache, err := g.regenerate(ctx, workspaceID, &child, canonicalType, strategy, false)
				if err != nil {
					continue // a child's failure doesn't block the parent's narrative
				}
				childNarratives = append(childNarratives, truncateTokens(childCache.Narrative, perChild))
			}
		}
	}

	mainBudget := total - metadataBudget - childBudget
	if mainBudget < 0 {
		mainBudget = total / 2
	}

	var sampled []domain.Message
	switch strategy {
	case Epoch:
		sampled = sampleByEpoch(messages, mainBudget)
	case Chronological:
		sampled = messages
	default:
		sampled = sampleSemantic(messages, mainBudget)
	}

	narrative := renderPlay(conv, messages, sampled, childNarratives)
	tokenEstimate := estimateTokens(narrative)

	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	if conv.EndTime != nil && time.Since(*conv.EndTime) < 7*24*time.Hour {
		expires = time.Now().UTC().Add(7 * 24 * time.Hour)
	}

	cache := &domain.CanonicalCache{
		ConversationID:      conv.ID,
		CanonicalType:       canonicalType,
		Version:             cacheVersion,
		Narrative:           narrative,
		TokenCount:          tokenEstimate,
		SourceMessageCount:  len(messages),
		SourceTokenEstimate: estimateMessagesTokens(messages),
		GeneratedAt:         time.Now().UTC(),
		ExpiresAt:           &expires,
	}
	if err := g.Stores.CanonicalCaches.Upsert(ctx, cache); err != nil {
		return nil, err
	}
	return cache, nil
}

// --- Semantic sampler (§4.F priority table) ---

func sampleSemantic(messages []domain.Message, budget int) []domain.Message {
	if len(messages) == 0 {
		return nil
	}
	type scored struct {
		msg      domain.Message
		priority int
		index    int
	}
	scoredMsgs := make([]scored, len(messages))
	lastEpoch := uuid.Nil
	for i, m := range messages {
		p := priorityOf(m, i, len(messages), lastEpoch)
		if m.EpochID != lastEpoch {
			lastEpoch = m.EpochID
		}
		scoredMsgs[i] = scored{msg: m, priority: p, index: i}
	}

	sort.SliceStable(scoredMsgs, func(a, b int) bool {
		if scoredMsgs[a].priority != scoredMsgs[b].priority {
			return scoredMsgs[a].priority > scoredMsgs[b].priority
		}
		return scoredMsgs[a].index < scoredMsgs[b].index
	})

	var chosen []domain.Message
	used := 0
	for _, sm := range scoredMsgs {
		cost := estimateTokens(sm.msg.Content) + estimateTokens(sm.msg.ThinkingContent)
		if used+cost > budget && len(chosen) >= 2 {
			continue
		}
		chosen = append(chosen, sm.msg)
		used += cost
	}
	if len(chosen) < 2 && len(messages) >= 2 {
		chosen = []domain.Message{messages[0], messages[len(messages)-1]}
	}

	sort.Slice(chosen, func(a, b int) bool { return chosen[a].Sequence < chosen[b].Sequence })
	return chosen
}

func priorityOf(m domain.Message, index, total int, lastEpoch uuid.UUID) int {
	if index == 0 || index == total-1 {
		return 1000
	}
	if index < edgeWindowSize || index >= total-edgeWindowSize || containsErrorKeyword(m.Content) {
		return 900
	}
	if len(m.ToolCalls) > 0 || len(m.ToolResults) > 0 {
		return 800
	}
	if len(m.ThinkingContent) > extendedThinkingChars {
		return 700
	}
	if m.EpochID != lastEpoch {
		return 600
	}
	if len(m.CodeChanges) > 0 {
		return 500
	}
	return 100
}

func containsErrorKeyword(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range []string{"error", "exception", "failed", "traceback", "panic"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// --- Epoch sampler: full first/last epoch, key-message predicate for the middle ---

func sampleByEpoch(messages []domain.Message, budget int) []domain.Message {
	if len(messages) == 0 {
		return nil
	}
	epochOrder := epochBoundaries(messages)
	if len(epochOrder) <= 2 {
		return messages
	}
	firstEpoch, lastEpoch := epochOrder[0], epochOrder[len(epochOrder)-1]

	var chosen []domain.Message
	used := 0
	for _, m := range messages {
		include := m.EpochID == firstEpoch || m.EpochID == lastEpoch || isKeyMessage(m)
		if !include {
			continue
		}
		cost := estimateTokens(m.Content) + estimateTokens(m.ThinkingContent)
		if used+cost > budget && len(chosen) >= 2 {
			continue
		}
		chosen = append(chosen, m)
		used += cost
	}
	return chosen
}

func isKeyMessage(m domain.Message) bool {
	return len(m.ToolCalls) > 0 || len(m.CodeChanges) > 0 || len(m.ThinkingContent) > extendedThinkingChars || containsErrorKeyword(m.Content)
}

func epochBoundaries(messages []domain.Message) []uuid.UUID {
	var order []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, m := range messages {
		if !seen[m.EpochID] {
			seen[m.EpochID] = true
			order = append(order, m.EpochID)
		}
	}
	return order
}

// --- Play-format narrative rendering ---

func renderPlay(conv *domain.Conversation, all, sampled []domain.Message, childNarratives []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s (%s) — %s\n\n", conv.ID, conv.AgentType, conv.Status)

	epochNum := 0
	lastEpoch := uuid.Nil
	toolOutcomes := map[string]bool{}
	toolsUsed := map[string]int{}
	var codeChanges, thinkingBlocks int

	for _, m := range sampled {
		if m.EpochID != lastEpoch {
			epochNum++
			lastEpoch = m.EpochID
			fmt.Fprintf(&b, "--- EPOCH %d ---\n", epochNum)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), strings.ToUpper(string(m.Role)), m.Content)

		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
				toolsUsed[tc.Name]++
				if tc.Success != nil {
					toolOutcomes[tc.Name] = *tc.Success
				}
			}
			fmt.Fprintf(&b, "  [TOOLS: %s]\n", strings.Join(names, ", "))
		}
		for _, tr := range m.ToolResults {
			mark := "✓"
			if tr.IsError {
				mark = "✗"
			}
			fmt.Fprintf(&b, "  [%s %s]\n", tr.ToolUseID, mark)
		}
		for _, cc := range m.CodeChanges {
			codeChanges++
			fmt.Fprintf(&b, "  [CODE: %s - %s (+%d/-%d)]\n", cc.FilePath, cc.ChangeType, cc.LinesAdded, cc.LinesRemoved)
		}
		if m.ThinkingContent != "" {
			thinkingBlocks++
			fmt.Fprintf(&b, "  [THINKING: %s]\n", truncateChars(m.ThinkingContent, 200))
		}
	}

	if len(childNarratives) > 0 {
		b.WriteString("\n--- LINKED AGENT SESSIONS ---\n")
		for _, cn := range childNarratives {
			b.WriteString(cn)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n--- SUMMARY ---\n")
	outcome := "unresolved"
	if conv.Status == domain.ConversationCompleted {
		outcome = "completed"
		if conv.Success != nil && !*conv.Success {
			outcome = "completed_with_errors"
		}
	}
	fmt.Fprintf(&b, "outcome: %s\n", outcome)
	fmt.Fprintf(&b, "tools_used: %d (%v)\n", len(toolsUsed), toolNames(toolsUsed))
	fmt.Fprintf(&b, "code_changes: %d\n", codeChanges)
	fmt.Fprintf(&b, "thinking_blocks: %d\n", thinkingBlocks)
	fmt.Fprintf(&b, "sampled_messages: %d/%d\n", len(sampled), len(all))

	return b.String()
}

func toolNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func truncateTokens(s string, tokens int) string {
	maxChars := tokens * 4
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "…"
}

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}

func estimateMessagesTokens(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content) + estimateTokens(m.ThinkingContent)
	}
	return total
}
