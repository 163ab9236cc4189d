package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// WatchConfigRepo implements store.WatchConfigStore.
type WatchConfigRepo struct {
	db querier
}

func NewWatchConfigRepo(db querier) *WatchConfigRepo {
	return &WatchConfigRepo{db: db}
}

func scanWatchConfig(row interface{ Scan(...any) error }) (*domain.WatchConfig, error) {
	var w domain.WatchConfig
	err := row.Scan(&w.ID, &w.WorkspaceID, &w.DirectoryPath, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WatchConfigRepo) List(ctx context.Context, workspaceID uuid.UUID) ([]domain.WatchConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workspace_id, directory_path, is_active, created_at, updated_at
		 FROM watch_configs WHERE workspace_id = $1 ORDER BY created_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list watch configs", err)
	}
	defer rows.Close()
	return scanWatchConfigs(rows)
}

// ListActive is used by the daemon manager at startup to restart every
// watch daemon that was active before the process last stopped (§4.G).
func (r *WatchConfigRepo) ListActive(ctx context.Context) ([]domain.WatchConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workspace_id, directory_path, is_active, created_at, updated_at
		 FROM watch_configs WHERE is_active = true ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list active watch configs", err)
	}
	defer rows.Close()
	return scanWatchConfigs(rows)
}

func scanWatchConfigs(rows *sql.Rows) ([]domain.WatchConfig, error) {
	var out []domain.WatchConfig
	for rows.Next() {
		w, err := scanWatchConfig(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan watch config", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "iterate watch configs", err)
	}
	return out, nil
}

func (r *WatchConfigRepo) Get(ctx context.Context, workspaceID, id uuid.UUID) (*domain.WatchConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, directory_path, is_active, created_at, updated_at
		 FROM watch_configs WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	)
	w, err := scanWatchConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "watch config not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get watch config", err)
	}
	return w, nil
}

func (r *WatchConfigRepo) Create(ctx context.Context, w *domain.WatchConfig) error {
	if w.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.Internal, "generate watch config id", err)
		}
		w.ID = id
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watch_configs (id, workspace_id, directory_path, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		w.ID, w.WorkspaceID, w.DirectoryPath, w.IsActive,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "insert watch config", err)
	}
	return nil
}

func (r *WatchConfigRepo) Update(ctx context.Context, w *domain.WatchConfig) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE watch_configs SET directory_path = $3, updated_at = now()
		 WHERE workspace_id = $1 AND id = $2`,
		w.WorkspaceID, w.ID, w.DirectoryPath,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update watch config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update watch config rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "watch config not found")
	}
	return nil
}

func (r *WatchConfigRepo) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM watch_configs WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete watch config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete watch config rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "watch config not found")
	}
	return nil
}

// SetActive is the only mutation the daemon manager is allowed to make
// directly (§5 "Watch configuration rows are owned by the daemon manager;
// only the manager mutates is_active").
func (r *WatchConfigRepo) SetActive(ctx context.Context, workspaceID, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE watch_configs SET is_active = $3, updated_at = now()
		 WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id, active,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "set watch config active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "set watch config active rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "watch config not found")
	}
	return nil
}
