package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// ConversationRepo implements store.ConversationStore. Grounded on the
// teacher's PGSessionStore for the lookup-by-key shapes, generalized to the
// several lookup keys a conversation needs (collector session id, raw log
// path, and a best-effort session id hint used during hierarchy linkage,
// §4.D "deferred hierarchy linkage").
type ConversationRepo struct {
	db querier
}

func NewConversationRepo(db querier) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `
	id, workspace_id, project_id, developer_id, agent_type, agent_version,
	start_time, end_time, status, success, conversation_type,
	parent_conversation_id, collector_session_id, last_event_sequence,
	message_count, epoch_count, files_count, agent_metadata, extra_data,
	tags, plans, linking_attempts`

func scanConversation(row interface{ Scan(...any) error }) (*domain.Conversation, error) {
	var c domain.Conversation
	var agentMetadata, extraData, tags, plans []byte
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.ProjectID, &c.DeveloperID, &c.AgentType, &c.AgentVersion,
		&c.StartTime, &c.EndTime, &c.Status, &c.Success, &c.ConversationType,
		&c.ParentConversationID, &c.CollectorSessionID, &c.LastEventSequence,
		&c.MessageCount, &c.EpochCount, &c.FilesCount, &agentMetadata, &extraData,
		&tags, &plans, &c.LinkingAttempts,
	)
	if err != nil {
		return nil, err
	}
	c.AgentMetadata = agentMetadata
	c.ExtraData = extraData
	c.Tags = tags
	c.Plans = plans
	return &c, nil
}

func (r *ConversationRepo) Get(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "conversation not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get conversation", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByCollectorSessionID(ctx context.Context, workspaceID uuid.UUID, sessionID string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE workspace_id = $1 AND collector_session_id = $2`,
		workspaceID, sessionID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "conversation not found for collector session")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get conversation by collector session", err)
	}
	return c, nil
}

func (r *ConversationRepo) GetByRawLogPath(ctx context.Context, workspaceID uuid.UUID, filePath string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumnsPrefixed("c")+`
		 FROM conversations c
		 JOIN raw_logs rl ON rl.conversation_id = c.id
		 WHERE c.workspace_id = $1 AND rl.file_path = $2`,
		workspaceID, filePath,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "conversation not found for raw log path")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get conversation by raw log path", err)
	}
	return c, nil
}

// GetBySessionIDHint looks a conversation up by an agent-reported session id
// that was recorded in extra_data during parsing, before the collector or a
// later ingest run confirms the real collector_session_id (§4.D deferred
// hierarchy linkage).
func (r *ConversationRepo) GetBySessionIDHint(ctx context.Context, workspaceID uuid.UUID, sessionID string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE workspace_id = $1 AND extra_data->>'session_id_hint' = $2
		 ORDER BY start_time DESC LIMIT 1`,
		workspaceID, sessionID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "conversation not found for session id hint")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get conversation by session id hint", err)
	}
	return c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate conversation id", err)
		}
		c.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (
			id, workspace_id, project_id, developer_id, agent_type, agent_version,
			start_time, end_time, status, success, conversation_type,
			parent_conversation_id, collector_session_id, last_event_sequence,
			message_count, epoch_count, files_count, agent_metadata, extra_data,
			tags, plans, linking_attempts
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		c.ID, c.WorkspaceID, c.ProjectID, c.DeveloperID, c.AgentType, c.AgentVersion,
		c.StartTime, c.EndTime, c.Status, c.Success, c.ConversationType,
		c.ParentConversationID, c.CollectorSessionID, c.LastEventSequence,
		c.MessageCount, c.EpochCount, c.FilesCount, rawOrNull(c.AgentMetadata), rawOrNull(c.ExtraData),
		rawOrNull(c.Tags), rawOrNull(c.Plans), c.LinkingAttempts,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert conversation", err)
	}
	return nil
}

func (r *ConversationRepo) Update(ctx context.Context, c *domain.Conversation) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET
			project_id = $3, developer_id = $4, agent_type = $5, agent_version = $6,
			start_time = $7, end_time = $8, status = $9, success = $10,
			conversation_type = $11, parent_conversation_id = $12, collector_session_id = $13,
			last_event_sequence = $14, message_count = $15, epoch_count = $16, files_count = $17,
			agent_metadata = $18, extra_data = $19, tags = $20, plans = $21, linking_attempts = $22
		 WHERE workspace_id = $1 AND id = $2`,
		c.WorkspaceID, c.ID, c.ProjectID, c.DeveloperID, c.AgentType, c.AgentVersion,
		c.StartTime, c.EndTime, c.Status, c.Success, c.ConversationType,
		c.ParentConversationID, c.CollectorSessionID, c.LastEventSequence,
		c.MessageCount, c.EpochCount, c.FilesCount, rawOrNull(c.AgentMetadata), rawOrNull(c.ExtraData),
		rawOrNull(c.Tags), rawOrNull(c.Plans), c.LinkingAttempts,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update conversation rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	return nil
}

// ListOrphanAgents returns agent-type conversations still unlinked to a
// parent, excluding those that have already exhausted the sweep's retry
// budget (§4.D orphan linkage sweep).
func (r *ConversationRepo) ListOrphanAgents(ctx context.Context, workspaceID uuid.UUID, maxLinkingAttempts int) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE workspace_id = $1 AND conversation_type = $2
		   AND parent_conversation_id IS NULL AND linking_attempts < $3
		 ORDER BY start_time ASC`,
		workspaceID, domain.ConversationAgent, maxLinkingAttempts,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list orphan agents", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan orphan agent", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate orphan agents", err)
	}
	return out, nil
}

// ListChildren returns every agent-type conversation linked to parentID.
func (r *ConversationRepo) ListChildren(ctx context.Context, workspaceID, parentID uuid.UUID) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE workspace_id = $1 AND parent_conversation_id = $2
		 ORDER BY start_time ASC`,
		workspaceID, parentID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list child conversations", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan child conversation", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate child conversations", err)
	}
	return out, nil
}

func conversationColumnsPrefixed(alias string) string {
	cols := []string{
		"id", "workspace_id", "project_id", "developer_id", "agent_type", "agent_version",
		"start_time", "end_time", "status", "success", "conversation_type",
		"parent_conversation_id", "collector_session_id", "last_event_sequence",
		"message_count", "epoch_count", "files_count", "agent_metadata", "extra_data",
		"tags", "plans", "linking_attempts",
	}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func rawOrNull(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
