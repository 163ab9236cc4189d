package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// MessageRepo implements store.MessageStore. ToolCalls/ToolResults/
// CodeChanges are stored as JSONB arrays rather than child tables — none of
// them are queried independently of their parent message (§3).
type MessageRepo struct {
	db querier
}

func NewMessageRepo(db querier) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate message id", err)
		}
		m.ID = id
	}
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal tool calls", err)
	}
	toolResults, err := json.Marshal(m.ToolResults)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal tool results", err)
	}
	codeChanges, err := json.Marshal(m.CodeChanges)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal code changes", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (
			id, conversation_id, epoch_id, sequence, role, content, timestamp,
			tool_calls, tool_results, code_changes, thinking_content, model,
			prompt_tokens, completion_tokens, stop_reason, raw_data
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		m.ID, m.ConversationID, m.EpochID, m.Sequence, m.Role, m.Content, m.Timestamp,
		toolCalls, toolResults, codeChanges, m.ThinkingContent, m.Model,
		m.PromptTokens, m.CompletionTokens, m.StopReason, rawOrNull(m.RawData),
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert message", err)
	}
	return nil
}

// ReplaceAll deletes every message for a conversation and reinserts the
// given slice, used for REWRITE-classified reparses (§4.A) where the
// message sequence can't be trusted to append cleanly.
func (r *MessageRepo) ReplaceAll(ctx context.Context, conversationID uuid.UUID, messages []domain.Message) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete messages for replace", err)
	}
	for i := range messages {
		m := messages[i]
		m.ConversationID = conversationID
		if err := r.Insert(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

func (r *MessageRepo) MaxSequence(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&max)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "max message sequence", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, epoch_id, sequence, role, content, timestamp,
			tool_calls, tool_results, code_changes, thinking_content, model,
			prompt_tokens, completion_tokens, stop_reason, raw_data
		 FROM messages WHERE conversation_id = $1 ORDER BY sequence ASC`,
		conversationID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var toolCalls, toolResults, codeChanges, rawData []byte
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.EpochID, &m.Sequence, &m.Role, &m.Content, &m.Timestamp,
			&toolCalls, &toolResults, &codeChanges, &m.ThinkingContent, &m.Model,
			&m.PromptTokens, &m.CompletionTokens, &m.StopReason, &rawData,
		); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan message", err)
		}
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "unmarshal tool calls", err)
			}
		}
		if len(toolResults) > 0 {
			if err := json.Unmarshal(toolResults, &m.ToolResults); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "unmarshal tool results", err)
			}
		}
		if len(codeChanges) > 0 {
			if err := json.Unmarshal(codeChanges, &m.CodeChanges); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "unmarshal code changes", err)
			}
		}
		m.RawData = rawData
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate messages", err)
	}
	return out, nil
}
