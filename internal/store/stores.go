// Package store declares the repository interfaces every other package
// depends on, grounded on the teacher's store.Stores aggregate
// (internal/store/stores.go) and per-entity store interfaces — one
// interface per domain entity instead of one per chat-bot concern.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// Stores is the top-level container for every repository, wired once at
// startup and passed explicitly to every component that touches
// persistence (§9 "global singletons" → context object).
type Stores struct {
	Workspaces      WorkspaceStore
	Projects        ProjectStore
	Developers      DeveloperStore
	Conversations   ConversationStore
	Epochs          EpochStore
	Messages        MessageStore
	RawLogs         RawLogStore
	IngestionJobs   IngestionJobStore
	CanonicalCaches CanonicalCacheStore
	Recommendations RecommendationStore
	AppliedEvents   AppliedEventStore
	WatchConfigs    WatchConfigStore
	WorkerJobs      WorkerJobStore
	Collectors      CollectorStore

	// WithTx runs fn against a Stores bound to one transaction; every
	// multi-step operation (ingest, collector batch apply) uses
	// this instead of touching the top-level Stores directly, mirroring
	// the teacher's one-session-per-request discipline (§5).
	WithTx func(ctx context.Context, fn func(*Stores) error) error
}

type WorkspaceStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Workspace, error)
	List(ctx context.Context) ([]domain.Workspace, error)
	Create(ctx context.Context, w *domain.Workspace) error
}

type ProjectStore interface {
	// GetOrCreate looks up a project by (workspace_id, directory_path),
	// inserting one if absent. Race-safe via insert-with-conflict-ignore
	// then select (§5).
	GetOrCreate(ctx context.Context, workspaceID uuid.UUID, directoryPath string) (*domain.Project, error)
}

type DeveloperStore interface {
	// GetOrCreate looks up a developer by (workspace_id, username), race-safe
	// the same way as ProjectStore.GetOrCreate (§8 property 8).
	GetOrCreate(ctx context.Context, workspaceID uuid.UUID, username string) (*domain.Developer, error)
}

type ConversationStore interface {
	Get(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Conversation, error)
	GetByCollectorSessionID(ctx context.Context, workspaceID uuid.UUID, sessionID string) (*domain.Conversation, error)
	GetByRawLogPath(ctx context.Context, workspaceID uuid.UUID, filePath string) (*domain.Conversation, error)
	GetBySessionIDHint(ctx context.Context, workspaceID uuid.UUID, sessionID string) (*domain.Conversation, error)
	Create(ctx context.Context, c *domain.Conversation) error
	Update(ctx context.Context, c *domain.Conversation) error
	ListOrphanAgents(ctx context.Context, workspaceID uuid.UUID, maxLinkingAttempts int) ([]domain.Conversation, error)
	// ListChildren returns every conversation whose parent_conversation_id
	// is parentID, ordered by start time — the canonicalizer's source for
	// the shared-children narrative budget (§4.F).
	ListChildren(ctx context.Context, workspaceID, parentID uuid.UUID) ([]domain.Conversation, error)
}

type EpochStore interface {
	GetOrCreateDefault(ctx context.Context, conversationID uuid.UUID) (*domain.Epoch, error)
	DeleteAllForConversation(ctx context.Context, conversationID uuid.UUID) error
}

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	ReplaceAll(ctx context.Context, conversationID uuid.UUID, messages []domain.Message) error
	MaxSequence(ctx context.Context, conversationID uuid.UUID) (int, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
}

type RawLogStore interface {
	GetByPath(ctx context.Context, workspaceID uuid.UUID, filePath string) (*domain.RawLog, error)
	GetByHash(ctx context.Context, workspaceID uuid.UUID, fileHash string) (*domain.RawLog, error)
	Upsert(ctx context.Context, r *domain.RawLog) error
}

type IngestionJobStore interface {
	Create(ctx context.Context, j *domain.IngestionJob) error
	Close(ctx context.Context, j *domain.IngestionJob) error
}

type CanonicalCacheStore interface {
	Get(ctx context.Context, conversationID uuid.UUID, canonicalType domain.CanonicalType) (*domain.CanonicalCache, error)
	Upsert(ctx context.Context, c *domain.CanonicalCache) error
}

type RecommendationStore interface {
	List(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]domain.Recommendation, error)
	Create(ctx context.Context, r *domain.Recommendation) error
	UpdateStatus(ctx context.Context, workspaceID, id uuid.UUID, status domain.RecommendationStatus) error
}

// CollectorStore backs collector registration and bearer-token lookup
// (§6 "POST /collectors", collector auth middleware).
type CollectorStore interface {
	Create(ctx context.Context, c *domain.Collector) error
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Collector, error)
}

// AppliedEventStore backs the collector's idempotent event-hash dedup
// (§4.E "event hashing").
type AppliedEventStore interface {
	// TryApply records the event hash for conversationID if it hasn't been
	// seen before, returning applied=false when it's a duplicate.
	TryApply(ctx context.Context, conversationID uuid.UUID, eventHash string, sequence int64) (applied bool, err error)
}

// WatchConfigStore backs the watch-config CRUD surface and daemon manager
// (§4.G, §6).
type WatchConfigStore interface {
	List(ctx context.Context, workspaceID uuid.UUID) ([]domain.WatchConfig, error)
	ListActive(ctx context.Context) ([]domain.WatchConfig, error)
	Get(ctx context.Context, workspaceID, id uuid.UUID) (*domain.WatchConfig, error)
	Create(ctx context.Context, w *domain.WatchConfig) error
	// Update changes directory_path only; is_active is SetActive's
	// exclusive concern (§5).
	Update(ctx context.Context, w *domain.WatchConfig) error
	Delete(ctx context.Context, workspaceID, id uuid.UUID) error
	SetActive(ctx context.Context, workspaceID, id uuid.UUID, active bool) error
}

// WorkerJobStore backs the per-kind job queue of §4.H.
type WorkerJobStore interface {
	// Enqueue is called inside the same transaction that created or
	// completed a conversation, so the worker can never observe the row
	// before that transaction commits.
	Enqueue(ctx context.Context, kind domain.WorkerJobKind, workspaceID, conversationID uuid.UUID) error
	// ClaimNext locks and returns the oldest available job of kind, or nil
	// if none is ready, using `FOR UPDATE SKIP LOCKED` semantics so
	// concurrent workers never double-claim a row.
	ClaimNext(ctx context.Context, kind domain.WorkerJobKind) (*domain.WorkerJob, error)
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records a failed attempt. When permanent is true (attempts
	// exhausted) the job is left in WorkerJobFailed; otherwise it's
	// rescheduled at retryAt.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, permanent bool) error
}
