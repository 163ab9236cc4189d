// Package domain defines the entity types persisted by the ingestion core
// (§3): Workspace, Project, Developer, Conversation, Epoch, Message, RawLog,
// IngestionJob, CanonicalCache, and Recommendation. These are plain structs —
// no storage-layer concerns leak in here, matching the teacher's separation
// between internal/store's interfaces and its pg-backed implementations.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationOpen      ConversationStatus = "open"
	ConversationCompleted ConversationStatus = "completed"
	ConversationAbandoned ConversationStatus = "abandoned"
)

type ConversationType string

const (
	ConversationMain     ConversationType = "main"
	ConversationAgent    ConversationType = "agent"
	ConversationMetadata ConversationType = "metadata"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSuccess   JobStatus = "success"
	JobDuplicate JobStatus = "duplicate"
	JobSkipped   JobStatus = "skipped"
	JobFailed    JobStatus = "failed"
)

// Workspace is the tenancy root. Never deleted while any conversation
// references it.
type Workspace struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Project is derived from a working directory path, unique per
// (workspace_id, directory_path).
type Project struct {
	ID            uuid.UUID `json:"id"`
	WorkspaceID   uuid.UUID `json:"workspace_id"`
	DirectoryPath string    `json:"directory_path"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Developer is identified by (workspace_id, username); lookup-or-insert
// must be race-safe (§5).
type Developer struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation is the aggregate root of one session (§3).
type Conversation struct {
	ID                  uuid.UUID          `json:"id"`
	WorkspaceID         uuid.UUID          `json:"workspace_id"`
	ProjectID           *uuid.UUID         `json:"project_id,omitempty"`
	DeveloperID         *uuid.UUID         `json:"developer_id,omitempty"`
	AgentType           string             `json:"agent_type"`
	AgentVersion        string             `json:"agent_version,omitempty"`
	StartTime           time.Time          `json:"start_time"`
	EndTime             *time.Time         `json:"end_time,omitempty"`
	Status              ConversationStatus `json:"status"`
	Success              *bool              `json:"success,omitempty"`
	ConversationType    ConversationType   `json:"conversation_type"`
	ParentConversationID *uuid.UUID        `json:"parent_conversation_id,omitempty"`
	CollectorSessionID  *string            `json:"collector_session_id,omitempty"`
	LastEventSequence   int64              `json:"last_event_sequence"`
	MessageCount        int                `json:"message_count"`
	EpochCount          int                `json:"epoch_count"`
	FilesCount          int                `json:"files_count"`
	AgentMetadata       json.RawMessage    `json:"agent_metadata,omitempty"`
	ExtraData           json.RawMessage    `json:"extra_data,omitempty"`
	Tags                json.RawMessage    `json:"tags,omitempty"`
	Plans               json.RawMessage    `json:"plans,omitempty"`
	LinkingAttempts     int                `json:"_linking_attempts"`
}

// Epoch is an ordered segment within a conversation.
type Epoch struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Sequence       int        `json:"sequence"`
	Classification string     `json:"classification,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
}

// ToolCall is a structured tool invocation extracted from a message.
type ToolCall struct {
	ToolUseID  string          `json:"tool_use_id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Success    *bool           `json:"success,omitempty"`
}

// ToolResult pairs with a ToolCall by ToolUseID.
type ToolResult struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error"`
}

// CodeChangeType is edit or create, detected from well-known tool names
// (§4.C item 6).
type CodeChangeType string

const (
	CodeChangeEdit   CodeChangeType = "edit"
	CodeChangeCreate CodeChangeType = "create"
)

type CodeChange struct {
	FilePath    string         `json:"file_path"`
	ChangeType  CodeChangeType `json:"change_type"`
	OldContent  string         `json:"old_content,omitempty"`
	NewContent  string         `json:"new_content,omitempty"`
	LinesAdded  int            `json:"lines_added,omitempty"`
	LinesRemoved int           `json:"lines_removed,omitempty"`
}

// Message belongs to exactly one epoch and one conversation; unique on
// (conversation_id, sequence).
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	EpochID        uuid.UUID       `json:"epoch_id"`
	Sequence       int             `json:"sequence"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult    `json:"tool_results,omitempty"`
	CodeChanges    []CodeChange    `json:"code_changes,omitempty"`
	ThinkingContent string         `json:"thinking_content,omitempty"`
	Model          string          `json:"model,omitempty"`
	PromptTokens   int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	StopReason     string          `json:"stop_reason,omitempty"`
	RawData        json.RawMessage `json:"raw_data,omitempty"`
}

// RawLog is one-to-one with a conversation for file-sourced ingestions;
// holds the state the change detector needs (§4.A).
type RawLog struct {
	ID                   uuid.UUID `json:"id"`
	ConversationID       uuid.UUID `json:"conversation_id"`
	FilePath             string    `json:"file_path"`
	FileHash             string    `json:"file_hash"`
	LastProcessedOffset  int64     `json:"last_processed_offset"`
	LastProcessedLine    int       `json:"last_processed_line"`
	FileSizeBytes        int64     `json:"file_size_bytes"`
	PartialHash          string    `json:"partial_hash"`
	AgentType            string    `json:"agent_type"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IngestionJob is an audit record for every ingest attempt (§4.D).
type IngestionJob struct {
	ID               uuid.UUID       `json:"id"`
	WorkspaceID      uuid.UUID       `json:"workspace_id"`
	Status           JobStatus       `json:"status"`
	SourceType       string          `json:"source_type"`
	SourceConfigID   *uuid.UUID      `json:"source_config_id,omitempty"`
	CallerID         string          `json:"caller_id,omitempty"`
	ConversationID   *uuid.UUID      `json:"conversation_id,omitempty"`
	RawLogID         *uuid.UUID      `json:"raw_log_id,omitempty"`
	MessagesAdded    int             `json:"messages_added,omitempty"`
	ParseMethod      string          `json:"parse_method,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	StageMetrics     json.RawMessage `json:"stage_metrics,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// CanonicalType names one of the three narrative shapes (§4.F).
type CanonicalType string

const (
	CanonicalTagging  CanonicalType = "tagging"
	CanonicalInsights CanonicalType = "insights"
	CanonicalExport   CanonicalType = "export"
)

// CanonicalCache stores the generated narrative plus the freshness inputs
// needed to decide invalidation (§4.F "Cache and invalidation").
type CanonicalCache struct {
	ConversationID      uuid.UUID     `json:"conversation_id"`
	CanonicalType       CanonicalType `json:"canonical_type"`
	Version             int           `json:"version"`
	Narrative            string        `json:"narrative"`
	TokenCount           int           `json:"token_count"`
	SourceMessageCount   int           `json:"source_message_count"`
	SourceTokenEstimate  int           `json:"source_token_estimate"`
	GeneratedAt          time.Time     `json:"generated_at"`
	ExpiresAt            *time.Time    `json:"expires_at,omitempty"`
}

// RecommendationStatus tracks the lifecycle of a recommendation record.
type RecommendationStatus string

const (
	RecommendationOpen      RecommendationStatus = "open"
	RecommendationAccepted  RecommendationStatus = "accepted"
	RecommendationDismissed RecommendationStatus = "dismissed"
)

// Recommendation is a workspace-scoped analytics output referencing a
// conversation; the core only reads/writes it (§3).
type Recommendation struct {
	ID             uuid.UUID            `json:"id"`
	WorkspaceID    uuid.UUID            `json:"workspace_id"`
	ConversationID uuid.UUID            `json:"conversation_id"`
	Kind           string               `json:"kind"`
	Status         RecommendationStatus `json:"status"`
	Payload        json.RawMessage      `json:"payload,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// Collector is one registered remote-agent event source (§6 "POST
// /collectors"). APIKeyHash is the SHA-256 hex digest of the bearer token
// shown to the caller once at registration; the raw key is never stored.
type Collector struct {
	ID         uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// AppliedEvent is one collector event hash recorded to make batch apply
// idempotent: duplicates by (conversation_id, event_hash) are dropped
// silently (§4.E "event hashing").
type AppliedEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	EventHash      string    `json:"event_hash"`
	Sequence       int64     `json:"sequence"`
	AppliedAt      time.Time `json:"applied_at"`
}

// WatchConfig names one directory watched on behalf of one workspace
// (§4.G). The daemon manager owns is_active; the HTTP CRUD surface owns
// everything else.
type WatchConfig struct {
	ID            uuid.UUID `json:"id"`
	WorkspaceID   uuid.UUID `json:"workspace_id"`
	DirectoryPath string    `json:"directory_path"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkerJobKind names one of the coarse per-kind queues (§4.H).
type WorkerJobKind string

const (
	WorkerJobTagging       WorkerJobKind = "tagging"
	WorkerJobSlashCommand  WorkerJobKind = "slash_command"
	WorkerJobMCPDetection  WorkerJobKind = "mcp_detection"
)

type WorkerJobStatus string

const (
	WorkerJobPending   WorkerJobStatus = "pending"
	WorkerJobRunning   WorkerJobStatus = "running"
	WorkerJobSucceeded WorkerJobStatus = "succeeded"
	WorkerJobFailed    WorkerJobStatus = "failed"
)

// WorkerJob is one unit of background work against a conversation,
// claimed with `FOR UPDATE SKIP LOCKED` semantics by the worker pool.
type WorkerJob struct {
	ID             uuid.UUID       `json:"id"`
	Kind           WorkerJobKind   `json:"kind"`
	WorkspaceID    uuid.UUID       `json:"workspace_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Status         WorkerJobStatus `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	AvailableAt    time.Time       `json:"available_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
