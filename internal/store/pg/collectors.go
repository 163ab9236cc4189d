package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// CollectorRepo implements store.CollectorStore.
type CollectorRepo struct {
	db querier
}

func NewCollectorRepo(db querier) *CollectorRepo {
	return &CollectorRepo{db: db}
}

func (r *CollectorRepo) Create(ctx context.Context, c *domain.Collector) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate collector id", err)
		}
		c.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collectors (id, workspace_id, name, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		c.ID, c.WorkspaceID, c.Name, c.APIKeyHash,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert collector", err)
	}
	return nil
}

func (r *CollectorRepo) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Collector, error) {
	var c domain.Collector
	err := r.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, api_key_hash, created_at
		 FROM collectors WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.APIKeyHash, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "collector not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get collector", err)
	}
	return &c, nil
}
