package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
)

// CanonicalCacheRepo implements store.CanonicalCacheStore. One row per
// (conversation_id, canonical_type); Upsert bumps version on every refresh
// so callers can detect a stale read (§4.F cache and invalidation).
type CanonicalCacheRepo struct {
	db querier
}

func NewCanonicalCacheRepo(db querier) *CanonicalCacheRepo {
	return &CanonicalCacheRepo{db: db}
}

func (r *CanonicalCacheRepo) Get(ctx context.Context, conversationID uuid.UUID, canonicalType domain.CanonicalType) (*domain.CanonicalCache, error) {
	var c domain.CanonicalCache
	err := r.db.QueryRowContext(ctx,
		`SELECT conversation_id, canonical_type, version, narrative, token_count,
			source_message_count, source_token_estimate, generated_at, expires_at
		 FROM canonical_caches WHERE conversation_id = $1 AND canonical_type = $2`,
		conversationID, canonicalType,
	).Scan(
		&c.ConversationID, &c.CanonicalType, &c.Version, &c.Narrative, &c.TokenCount,
		&c.SourceMessageCount, &c.SourceTokenEstimate, &c.GeneratedAt, &c.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "canonical cache not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "get canonical cache", err)
	}
	return &c, nil
}

func (r *CanonicalCacheRepo) Upsert(ctx context.Context, c *domain.CanonicalCache) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO canonical_caches (
			conversation_id, canonical_type, version, narrative, token_count,
			source_message_count, source_token_estimate, generated_at, expires_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (conversation_id, canonical_type) DO UPDATE SET
			version = canonical_caches.version + 1,
			narrative = EXCLUDED.narrative,
			token_count = EXCLUDED.token_count,
			source_message_count = EXCLUDED.source_message_count,
			source_token_estimate = EXCLUDED.source_token_estimate,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at`,
		c.ConversationID, c.CanonicalType, c.Version, c.Narrative, c.TokenCount,
		c.SourceMessageCount, c.SourceTokenEstimate, c.GeneratedAt, c.ExpiresAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "upsert canonical cache", err)
	}
	return nil
}
