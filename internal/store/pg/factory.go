package pg

import (
	"context"
	"database/sql"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/store"
)

// NewStores wires every repository against the given pool and returns the
// aggregate store.Stores, including a WithTx helper that rebuilds the same
// aggregate bound to one transaction (§5 one-session-per-request
// discipline, generalized from the teacher's NewPGStores factory).
func NewStores(db *sql.DB) *store.Stores {
	s := buildStores(db)
	s.WithTx = func(ctx context.Context, fn func(*store.Stores) error) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.Transient, "begin transaction", err)
		}
		txStores := buildStores(tx)
		if err := fn(txStores); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return apperr.Wrap(apperr.Internal, "rollback after error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.Internal, "commit transaction", err)
		}
		return nil
	}
	return s
}

func buildStores(db querier) *store.Stores {
	return &store.Stores{
		Workspaces:      NewWorkspaceRepo(db),
		Projects:        NewProjectRepo(db),
		Developers:      NewDeveloperRepo(db),
		Conversations:   NewConversationRepo(db),
		Epochs:          NewEpochRepo(db),
		Messages:        NewMessageRepo(db),
		RawLogs:         NewRawLogRepo(db),
		IngestionJobs:   NewIngestionJobRepo(db),
		CanonicalCaches: NewCanonicalCacheRepo(db),
		Recommendations: NewRecommendationRepo(db),
		AppliedEvents:   NewAppliedEventRepo(db),
		WatchConfigs:    NewWatchConfigRepo(db),
		WorkerJobs:      NewWorkerJobRepo(db),
		Collectors:      NewCollectorRepo(db),
	}
}
