package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// ProjectRepo implements store.ProjectStore, grounded on the teacher's
// PGSessionStore.GetOrCreate: insert-ignore-conflict followed by a select,
// so two concurrent ingestion jobs racing on the same directory never
// collide (§8 property 8).
type ProjectRepo struct {
	db querier
}

func NewProjectRepo(db querier) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) GetOrCreate(ctx context.Context, workspaceID uuid.UUID, directoryPath string) (*domain.Project, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate project id", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO projects (id, workspace_id, directory_path, name, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (workspace_id, directory_path) DO NOTHING`,
		id, workspaceID, directoryPath, baseName(directoryPath),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert project", err)
	}

	var p domain.Project
	err = r.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, directory_path, name, created_at
		 FROM projects WHERE workspace_id = $1 AND directory_path = $2`,
		workspaceID, directoryPath,
	).Scan(&p.ID, &p.WorkspaceID, &p.DirectoryPath, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.Internal, "project vanished after insert")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load project", err)
	}
	return &p, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
