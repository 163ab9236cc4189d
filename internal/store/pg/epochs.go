package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// EpochRepo implements store.EpochStore. Most parsers don't segment a
// conversation into epochs themselves, so ingestion falls back to one
// default epoch spanning the whole conversation (§4.D stage "persist").
type EpochRepo struct {
	db querier
}

func NewEpochRepo(db querier) *EpochRepo {
	return &EpochRepo{db: db}
}

func (r *EpochRepo) GetOrCreateDefault(ctx context.Context, conversationID uuid.UUID) (*domain.Epoch, error) {
	var e domain.Epoch
	err := r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sequence, classification, start_time, end_time
		 FROM epochs WHERE conversation_id = $1 AND sequence = 0`,
		conversationID,
	).Scan(&e.ID, &e.ConversationID, &e.Sequence, &e.Classification, &e.StartTime, &e.EndTime)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Wrap(apperr.Internal, "get default epoch", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate epoch id", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO epochs (id, conversation_id, sequence, classification, start_time)
		 VALUES ($1, $2, 0, '', now())
		 ON CONFLICT (conversation_id, sequence) DO NOTHING`,
		id, conversationID,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "insert default epoch", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sequence, classification, start_time, end_time
		 FROM epochs WHERE conversation_id = $1 AND sequence = 0`,
		conversationID,
	).Scan(&e.ID, &e.ConversationID, &e.Sequence, &e.Classification, &e.StartTime, &e.EndTime)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load default epoch", err)
	}
	return &e, nil
}

// DeleteAllForConversation removes every epoch for a conversation ahead of
// a full reparse (REWRITE classification, §4.A), since new epoch
// boundaries replace the old ones wholesale.
func (r *EpochRepo) DeleteAllForConversation(ctx context.Context, conversationID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM epochs WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "delete epochs for conversation", err)
	}
	return nil
}
