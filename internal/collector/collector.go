// Package collector implements the remote-agent event protocol of §4.E: a
// caller streams sequenced event batches for a session id, and the
// collector applies them to the conversation/message data model inside one
// transaction per batch, exactly like the teacher's channel webhook
// handlers apply one inbound payload per call (internal/channels/manager.go).
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

// EventType enumerates the collector wire protocol's event kinds (§6
// "Event shape").
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventMessage      EventType = "message"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventThinking     EventType = "thinking"
	EventError        EventType = "error"
	EventMetadata     EventType = "metadata"
	EventSessionEnd   EventType = "session_end"
)

// Event is one wire-protocol event. EventHash is computed by ComputeHash
// when the caller leaves it blank.
type Event struct {
	Sequence   int64           `json:"sequence"`
	Type       EventType       `json:"type"`
	EmittedAt  time.Time       `json:"emitted_at"`
	ObservedAt time.Time       `json:"observed_at"`
	EventHash  string          `json:"event_hash,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// ComputeHash implements §4.E "event hashing": SHA-256 over
// type|emitted_at(ISO)|canonical-JSON(data), truncated to 32 hex chars.
// Canonical JSON here means json.Marshal's deterministic key ordering for
// map[string]any, which is sufficient since Data always decodes to an
// object.
func (e Event) ComputeHash() (string, error) {
	var canon any
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &canon); err != nil {
			return "", apperr.Wrap(apperr.InvalidArgument, "decode event data for hashing", err)
		}
	}
	canonBytes, err := json.Marshal(canon)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal canonical event data", err)
	}
	h := sha256.Sum256([]byte(string(e.Type) + "|" + e.EmittedAt.UTC().Format(time.RFC3339Nano) + "|" + string(canonBytes)))
	return hex.EncodeToString(h[:])[:32], nil
}

type sessionMessageData struct {
	AuthorRole       string          `json:"author_role"`
	Content          string          `json:"content"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int             `json:"completion_tokens,omitempty"`
	ThinkingContent  string          `json:"thinking_content,omitempty"`
	StopReason       string          `json:"stop_reason,omitempty"`
}

type sessionStartData struct {
	WorkingDirectory string `json:"working_directory"`
	Username         string `json:"username,omitempty"`
	AgentType        string `json:"agent_type,omitempty"`
	AgentVersion     string `json:"agent_version,omitempty"`
	ParentSessionID  string `json:"parent_session_id,omitempty"`
}

type toolCallData struct {
	ToolUseID  string          `json:"tool_use_id"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type toolResultData struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error"`
}

type thinkingData struct {
	Content string `json:"content"`
}

type errorData struct {
	Message string `json:"message"`
}

// BatchRequest is one POST /collectors/events body.
type BatchRequest struct {
	SessionID string
	Events    []Event
}

// BatchResult mirrors the 202 response body (§6).
type BatchResult struct {
	Accepted       int
	LastSequence   int64
	ConversationID uuid.UUID
	Warnings       []string
}

// Collector applies collector batches against the store. One Collector is
// shared by every HTTP handler; state lives entirely in Postgres.
type Collector struct {
	Stores *store.Stores
	Logger *slog.Logger
}

func New(stores *store.Stores, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{Stores: stores, Logger: logger}
}

// ApplyBatch runs the absent→active state machine transition and applies
// every event in req inside one transaction (§4.E).
func (c *Collector) ApplyBatch(ctx context.Context, workspaceID uuid.UUID, req BatchRequest) (*BatchResult, error) {
	ctx, end := telemetry.StartSpan(ctx, "collector.apply_batch", telemetry.Attr("session_id", req.SessionID))
	defer end()

	result := &BatchResult{}
	err := c.Stores.WithTx(ctx, func(tx *store.Stores) error {
		return c.applyBatch(ctx, tx, workspaceID, req, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Collector) applyBatch(ctx context.Context, tx *store.Stores, workspaceID uuid.UUID, req BatchRequest, result *BatchResult) error {
	if len(req.Events) == 0 {
		return apperr.New(apperr.InvalidArgument, "batch contains no events")
	}

	conv, err := tx.Conversations.GetByCollectorSessionID(ctx, workspaceID, req.SessionID)
	isNew := false
	if err != nil {
		if apperr.KindOf(err) != apperr.NotFound {
			return err
		}
		isNew = true
		conv = &domain.Conversation{
			WorkspaceID:        workspaceID,
			CollectorSessionID: &req.SessionID,
			Status:             domain.ConversationOpen,
			ConversationType:   domain.ConversationMain,
			LastEventSequence:  0,
		}
	}

	minSeq := req.Events[0].Sequence
	for _, e := range req.Events {
		if e.Sequence < minSeq {
			minSeq = e.Sequence
		}
	}
	if !isNew && minSeq > conv.LastEventSequence+1 {
		return apperr.New(apperr.GapDetected, fmt.Sprintf("gap detected: last_received=%d expected=%d", conv.LastEventSequence, conv.LastEventSequence+1)).
			WithHint(fmt.Sprintf(`{"last_received":%d,"expected":%d}`, conv.LastEventSequence, conv.LastEventSequence+1))
	}

	if isNew {
		if conv.StartTime.IsZero() {
			conv.StartTime = req.Events[0].EmittedAt
		}
		if err := tx.Conversations.Create(ctx, conv); err != nil {
			return err
		}
	}

	epoch, err := tx.Epochs.GetOrCreateDefault(ctx, conv.ID)
	if err != nil {
		return err
	}

	nextSeq, err := tx.Messages.MaxSequence(ctx, conv.ID)
	if err != nil {
		return err
	}
	nextSeq++

	accepted := 0
	var lastToolUseID string
	for _, e := range req.Events {
		if !isNew && e.Sequence <= conv.LastEventSequence {
			continue // already applied, idempotent filter
		}

		hash := e.EventHash
		if hash == "" {
			hash, err = e.ComputeHash()
			if err != nil {
				return err
			}
		}
		applied, err := tx.AppliedEvents.TryApply(ctx, conv.ID, hash, e.Sequence)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}

		msg, handled, err := c.convertEvent(e, conv, isNew, &lastToolUseID)
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
			continue
		}
		if handled && msg != nil {
			msg.ConversationID = conv.ID
			msg.EpochID = epoch.ID
			msg.Sequence = nextSeq
			nextSeq++
			if err := tx.Messages.Insert(ctx, msg); err != nil {
				return err
			}
			accepted++
		}

		if e.Sequence > conv.LastEventSequence {
			conv.LastEventSequence = e.Sequence
		}
	}

	conv.MessageCount, _ = messageCount(ctx, tx, conv.ID)
	if err := tx.Conversations.Update(ctx, conv); err != nil {
		return err
	}

	result.Accepted = accepted
	result.LastSequence = conv.LastEventSequence
	result.ConversationID = conv.ID
	return nil
}

// SessionStatus is the GET /collectors/sessions/{id} response body, letting
// a reconnecting collector resume from the right sequence (§4.E "session
// resume").
type SessionStatus struct {
	ConversationID    uuid.UUID
	Status            domain.ConversationStatus
	LastEventSequence int64
	MessageCount      int
}

// GetSession resolves the resume state for a collector session id.
func (c *Collector) GetSession(ctx context.Context, workspaceID uuid.UUID, sessionID string) (*SessionStatus, error) {
	conv, err := c.Stores.Conversations.GetByCollectorSessionID(ctx, workspaceID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		ConversationID:    conv.ID,
		Status:            conv.Status,
		LastEventSequence: conv.LastEventSequence,
		MessageCount:      conv.MessageCount,
	}, nil
}

// CompleteResult mirrors the POST .../complete response.
type CompleteResult struct {
	ConversationID uuid.UUID
	Status         domain.ConversationStatus
}

// Complete marks a session completed and enqueues the tagging job, both in
// one transaction so the worker can never observe the row half-finished
// (§4.H "enqueue is safe inside the creating transaction"). Calling it
// twice is a no-op the second time (§4.E "idempotent complete").
func (c *Collector) Complete(ctx context.Context, workspaceID uuid.UUID, sessionID string, success *bool) (*CompleteResult, error) {
	ctx, end := telemetry.StartSpan(ctx, "collector.complete", telemetry.Attr("session_id", sessionID))
	defer end()

	result := &CompleteResult{}
	err := c.Stores.WithTx(ctx, func(tx *store.Stores) error {
		conv, err := tx.Conversations.GetByCollectorSessionID(ctx, workspaceID, sessionID)
		if err != nil {
			return err
		}
		if conv.Status == domain.ConversationCompleted {
			result.ConversationID = conv.ID
			result.Status = conv.Status
			return nil
		}
		now := time.Now().UTC()
		conv.Status = domain.ConversationCompleted
		conv.EndTime = &now
		conv.Success = success
		if err := tx.Conversations.Update(ctx, conv); err != nil {
			return err
		}
		if err := tx.WorkerJobs.Enqueue(ctx, domain.WorkerJobTagging, workspaceID, conv.ID); err != nil {
			return err
		}
		result.ConversationID = conv.ID
		result.Status = conv.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func messageCount(ctx context.Context, tx *store.Stores, conversationID uuid.UUID) (int, error) {
	msgs, err := tx.Messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// convertEvent implements the event-kind effect table of §4.E.
func (c *Collector) convertEvent(e Event, conv *domain.Conversation, isNew bool, lastToolUseID *string) (*domain.Message, bool, error) {
	switch e.Type {
	case EventSessionStart:
		var d sessionStartData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode session_start data", err)
		}
		if isNew {
			conv.AgentType = d.AgentType
			conv.AgentVersion = d.AgentVersion
			if d.ParentSessionID != "" {
				conv.ExtraData = mergeJSON(conv.ExtraData, map[string]any{"session_id_hint": d.ParentSessionID, "parent_session_id": d.ParentSessionID})
			}
		}
		return nil, false, nil

	case EventMessage:
		var d sessionMessageData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode message data", err)
		}
		return &domain.Message{
			Role:             roleFromAuthor(d.AuthorRole),
			Content:          d.Content,
			Timestamp:        e.EmittedAt,
			Model:            d.Model,
			PromptTokens:     d.PromptTokens,
			CompletionTokens: d.CompletionTokens,
			ThinkingContent:  d.ThinkingContent,
			StopReason:       d.StopReason,
			RawData:          e.Data,
		}, true, nil

	case EventToolCall:
		var d toolCallData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode tool_call data", err)
		}
		*lastToolUseID = d.ToolUseID
		return &domain.Message{
			Role:      domain.RoleSystem,
			Content:   fmt.Sprintf("tool call: %s", d.ToolName),
			Timestamp: e.EmittedAt,
			ToolCalls: []domain.ToolCall{{ToolUseID: d.ToolUseID, Name: d.ToolName, Parameters: d.Parameters}},
			RawData:   e.Data,
		}, true, nil

	case EventToolResult:
		var d toolResultData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode tool_result data", err)
		}
		toolUseID := d.ToolUseID
		if toolUseID == "" {
			toolUseID = *lastToolUseID
		}
		return &domain.Message{
			Role:        domain.RoleSystem,
			Content:     "tool result",
			Timestamp:   e.EmittedAt,
			ToolResults: []domain.ToolResult{{ToolUseID: toolUseID, Content: d.Content, IsError: d.IsError}},
			RawData:     e.Data,
		}, true, nil

	case EventThinking:
		var d thinkingData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode thinking data", err)
		}
		return &domain.Message{
			Role:            domain.RoleAssistant,
			ThinkingContent: d.Content,
			Timestamp:       e.EmittedAt,
			RawData:         e.Data,
		}, true, nil

	case EventError:
		var d errorData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode error data", err)
		}
		return &domain.Message{
			Role:      domain.RoleSystem,
			Content:   "error: " + d.Message,
			Timestamp: e.EmittedAt,
			RawData:   e.Data,
		}, true, nil

	case EventMetadata:
		var fields map[string]any
		if err := json.Unmarshal(e.Data, &fields); err != nil {
			return nil, false, apperr.Wrap(apperr.ParseError, "decode metadata data", err)
		}
		conv.ExtraData = mergeJSON(conv.ExtraData, fields)
		return nil, false, nil

	case EventSessionEnd:
		// Treated like a normal event until /complete is called; no data
		// model effect beyond advancing last_event_sequence, handled by
		// the caller.
		return nil, false, nil

	default:
		return nil, false, apperr.New(apperr.InvalidArgument, "unknown event type "+string(e.Type))
	}
}

func roleFromAuthor(authorRole string) domain.MessageRole {
	switch authorRole {
	case "user":
		return domain.RoleUser
	case "assistant":
		return domain.RoleAssistant
	case "system":
		return domain.RoleSystem
	default:
		return domain.RoleTool
	}
}

func mergeJSON(existing json.RawMessage, fields map[string]any) json.RawMessage {
	merged := map[string]any{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range fields {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return out
}
