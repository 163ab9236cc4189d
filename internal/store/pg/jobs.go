package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// IngestionJobRepo implements store.IngestionJobStore, an append-only audit
// trail for every ingest attempt (§4.D). Jobs are never updated beyond the
// single Close call that stamps completion fields.
type IngestionJobRepo struct {
	db querier
}

func NewIngestionJobRepo(db querier) *IngestionJobRepo {
	return &IngestionJobRepo{db: db}
}

func (r *IngestionJobRepo) Create(ctx context.Context, j *domain.IngestionJob) error {
	if j.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate ingestion job id", err)
		}
		j.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingestion_jobs (
			id, workspace_id, status, source_type, source_config_id, caller_id,
			conversation_id, raw_log_id, created_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())`,
		j.ID, j.WorkspaceID, j.Status, j.SourceType, j.SourceConfigID, j.CallerID,
		j.ConversationID, j.RawLogID,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert ingestion job", err)
	}
	return nil
}

func (r *IngestionJobRepo) Close(ctx context.Context, j *domain.IngestionJob) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET
			status = $2, conversation_id = $3, raw_log_id = $4, messages_added = $5,
			parse_method = $6, error_kind = $7, error_message = $8, stage_metrics = $9,
			completed_at = now()
		 WHERE id = $1`,
		j.ID, j.Status, j.ConversationID, j.RawLogID, j.MessagesAdded,
		j.ParseMethod, j.ErrorKind, j.ErrorMessage, rawOrNull(j.StageMetrics),
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "close ingestion job", err)
	}
	return nil
}
