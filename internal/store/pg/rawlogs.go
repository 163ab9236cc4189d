package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// RawLogRepo implements store.RawLogStore, holding the change-detection
// state the classifier needs on every subsequent pass (§4.A).
type RawLogRepo struct {
	db querier
}

func NewRawLogRepo(db querier) *RawLogRepo {
	return &RawLogRepo{db: db}
}

const rawLogColumns = `
	id, conversation_id, file_path, file_hash, last_processed_offset,
	last_processed_line, file_size_bytes, partial_hash, agent_type, updated_at`

func scanRawLog(row interface{ Scan(...any) error }) (*domain.RawLog, error) {
	var r domain.RawLog
	err := row.Scan(
		&r.ID, &r.ConversationID, &r.FilePath, &r.FileHash, &r.LastProcessedOffset,
		&r.LastProcessedLine, &r.FileSizeBytes, &r.PartialHash, &r.AgentType, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *RawLogRepo) GetByPath(ctx context.Context, workspaceID uuid.UUID, filePath string) (*domain.RawLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+rawLogColumns+` FROM raw_logs rl
		 JOIN conversations c ON c.id = rl.conversation_id
		 WHERE c.workspace_id = $1 AND rl.file_path = $2`,
		workspaceID, filePath,
	)
	out, err := scanRawLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "raw log not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get raw log by path", err)
	}
	return out, nil
}

func (r *RawLogRepo) GetByHash(ctx context.Context, workspaceID uuid.UUID, fileHash string) (*domain.RawLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+rawLogColumns+` FROM raw_logs rl
		 JOIN conversations c ON c.id = rl.conversation_id
		 WHERE c.workspace_id = $1 AND rl.file_hash = $2`,
		workspaceID, fileHash,
	)
	out, err := scanRawLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "raw log not found for hash")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get raw log by hash", err)
	}
	return out, nil
}

// Upsert inserts or refreshes the change-detection state for one
// conversation's raw log. file_path is unique per conversation (one raw
// log per conversation, §3).
func (r *RawLogRepo) Upsert(ctx context.Context, rl *domain.RawLog) error {
	if rl.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate raw log id", err)
		}
		rl.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO raw_logs (
			id, conversation_id, file_path, file_hash, last_processed_offset,
			last_processed_line, file_size_bytes, partial_hash, agent_type, updated_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		 ON CONFLICT (conversation_id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			file_hash = EXCLUDED.file_hash,
			last_processed_offset = EXCLUDED.last_processed_offset,
			last_processed_line = EXCLUDED.last_processed_line,
			file_size_bytes = EXCLUDED.file_size_bytes,
			partial_hash = EXCLUDED.partial_hash,
			agent_type = EXCLUDED.agent_type,
			updated_at = now()`,
		rl.ID, rl.ConversationID, rl.FilePath, rl.FileHash, rl.LastProcessedOffset,
		rl.LastProcessedLine, rl.FileSizeBytes, rl.PartialHash, rl.AgentType,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "upsert raw log", err)
	}
	return nil
}
