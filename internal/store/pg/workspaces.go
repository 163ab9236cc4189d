package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// WorkspaceRepo implements store.WorkspaceStore. Workspaces are created
// only by the setup flow (§6 POST /setup/workspaces), never implicitly by
// ingestion.
type WorkspaceRepo struct {
	db querier
}

func NewWorkspaceRepo(db querier) *WorkspaceRepo {
	return &WorkspaceRepo{db: db}
}

func (r *WorkspaceRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	var w domain.Workspace
	var settings []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, settings, created_at, updated_at FROM workspaces WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.Name, &settings, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "workspace not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get workspace", err)
	}
	w.Settings = settings
	return &w, nil
}

func (r *WorkspaceRepo) List(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, settings, created_at, updated_at FROM workspaces ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list workspaces", err)
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		var settings []byte
		if err := rows.Scan(&w.ID, &w.Name, &settings, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan workspace", err)
		}
		w.Settings = settings
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate workspaces", err)
	}
	return out, nil
}

func (r *WorkspaceRepo) Create(ctx context.Context, w *domain.Workspace) error {
	if w.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate workspace id", err)
		}
		w.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())`,
		w.ID, w.Name, rawOrNull(w.Settings),
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert workspace", err)
	}
	return nil
}
