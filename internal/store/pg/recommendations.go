package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// RecommendationRepo implements store.RecommendationStore. The core only
// persists and serves recommendations; generating them is the background
// workers' job (§4.H).
type RecommendationRepo struct {
	db querier
}

func NewRecommendationRepo(db querier) *RecommendationRepo {
	return &RecommendationRepo{db: db}
}

func (r *RecommendationRepo) List(ctx context.Context, workspaceID, conversationID uuid.UUID) ([]domain.Recommendation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workspace_id, conversation_id, kind, status, payload, created_at, updated_at
		 FROM recommendations WHERE workspace_id = $1 AND conversation_id = $2
		 ORDER BY created_at DESC`,
		workspaceID, conversationID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list recommendations", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var rec domain.Recommendation
		var payload []byte
		if err := rows.Scan(
			&rec.ID, &rec.WorkspaceID, &rec.ConversationID, &rec.Kind, &rec.Status,
			&payload, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan recommendation", err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate recommendations", err)
	}
	return out, nil
}

func (r *RecommendationRepo) Create(ctx context.Context, rec *domain.Recommendation) error {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate recommendation id", err)
		}
		rec.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recommendations (
			id, workspace_id, conversation_id, kind, status, payload, created_at, updated_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,now(),now())`,
		rec.ID, rec.WorkspaceID, rec.ConversationID, rec.Kind, rec.Status, rawOrNull(rec.Payload),
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert recommendation", err)
	}
	return nil
}

func (r *RecommendationRepo) UpdateStatus(ctx context.Context, workspaceID, id uuid.UUID, status domain.RecommendationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recommendations SET status = $3, updated_at = now()
		 WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id, status,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update recommendation status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update recommendation rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "recommendation not found")
	}
	return nil
}
