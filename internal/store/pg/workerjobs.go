package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// WorkerJobRepo implements store.WorkerJobStore, one coarse queue per job
// kind with `FOR UPDATE SKIP LOCKED` claim semantics (§4.H).
type WorkerJobRepo struct {
	db querier
}

func NewWorkerJobRepo(db querier) *WorkerJobRepo {
	return &WorkerJobRepo{db: db}
}

func (r *WorkerJobRepo) Enqueue(ctx context.Context, kind domain.WorkerJobKind, workspaceID, conversationID uuid.UUID) error {
	id, err := uuid.NewV7()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "generate worker job id", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO worker_jobs (id, kind, workspace_id, conversation_id, status, attempts, available_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, now(), now(), now())`,
		id, kind, workspaceID, conversationID, domain.WorkerJobPending,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "enqueue worker job", err)
	}
	return nil
}

// ClaimNext locks one pending, available row FOR UPDATE SKIP LOCKED and
// marks it running in the same statement set, the Postgres idiom for a
// concurrency-safe queue pop without a separate advisory lock.
func (r *WorkerJobRepo) ClaimNext(ctx context.Context, kind domain.WorkerJobKind) (*domain.WorkerJob, error) {
	var j domain.WorkerJob
	err := r.db.QueryRowContext(ctx,
		`UPDATE worker_jobs SET status = $3, updated_at = now()
		 WHERE id = (
			SELECT id FROM worker_jobs
			WHERE kind = $1 AND status = $2 AND available_at <= now()
			ORDER BY available_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 )
		 RETURNING id, kind, workspace_id, conversation_id, status, attempts, last_error, available_at, created_at, updated_at`,
		kind, domain.WorkerJobPending, domain.WorkerJobRunning,
	).Scan(&j.ID, &j.Kind, &j.WorkspaceID, &j.ConversationID, &j.Status, &j.Attempts, &j.LastError, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "claim worker job", err)
	}
	return &j, nil
}

func (r *WorkerJobRepo) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE worker_jobs SET status = $2, updated_at = now() WHERE id = $1`,
		id, domain.WorkerJobSucceeded,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "complete worker job", err)
	}
	return nil
}

func (r *WorkerJobRepo) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, permanent bool) error {
	status := domain.WorkerJobPending
	if permanent {
		status = domain.WorkerJobFailed
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE worker_jobs SET status = $2, attempts = attempts + 1, last_error = $3,
			available_at = $4, updated_at = now()
		 WHERE id = $1`,
		id, status, errMsg, retryAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "fail worker job", err)
	}
	return nil
}
