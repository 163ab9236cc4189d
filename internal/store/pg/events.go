package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
)

// AppliedEventRepo implements store.AppliedEventStore with the same
// insert-then-check idiom as the other get-or-create repos: the unique
// constraint on (conversation_id, event_hash) is the source of truth,
// never an in-memory check.
type AppliedEventRepo struct {
	db querier
}

func NewAppliedEventRepo(db querier) *AppliedEventRepo {
	return &AppliedEventRepo{db: db}
}

func (r *AppliedEventRepo) TryApply(ctx context.Context, conversationID uuid.UUID, eventHash string, sequence int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO applied_events (conversation_id, event_hash, sequence, applied_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (conversation_id, event_hash) DO NOTHING`,
		conversationID, eventHash, sequence,
	)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "record applied event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "applied event rows affected", err)
	}
	return n > 0, nil
}
