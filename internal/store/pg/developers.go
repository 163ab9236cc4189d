package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// DeveloperRepo implements store.DeveloperStore with the same
// insert-ignore-then-select idiom as ProjectRepo.
type DeveloperRepo struct {
	db querier
}

func NewDeveloperRepo(db querier) *DeveloperRepo {
	return &DeveloperRepo{db: db}
}

func (r *DeveloperRepo) GetOrCreate(ctx context.Context, workspaceID uuid.UUID, username string) (*domain.Developer, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate developer id", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO developers (id, workspace_id, username, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (workspace_id, username) DO NOTHING`,
		id, workspaceID, username,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert developer", err)
	}

	var d domain.Developer
	err = r.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, username, created_at
		 FROM developers WHERE workspace_id = $1 AND username = $2`,
		workspaceID, username,
	).Scan(&d.ID, &d.WorkspaceID, &d.Username, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.Internal, "developer vanished after insert")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load developer", err)
	}
	return &d, nil
}
