// Package sweep drives the orphan-linkage sweep named in §4.D: agent-type
// conversations that arrived before their parent session and so couldn't
// be linked at ingest time get a periodic retry, on a cron schedule
// evaluated with github.com/adhocore/gronx, grounded on the teacher's
// cron-driven jobs (cmd/gateway_cron.go) rendered as a library loop instead
// of a cobra subcommand.
package sweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

// MaxLinkingAttempts freezes a conversation's linking attempts at 10 so a
// permanently-orphaned agent session stops being re-checked forever
// (§4.D "freeze at threshold").
const MaxLinkingAttempts = 10

// DefaultSchedule runs the sweep every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// Sweeper periodically relinks orphan agent conversations for every
// workspace it's told to cover.
type Sweeper struct {
	Stores     *store.Stores
	Logger     *slog.Logger
	Schedule   string
	Workspaces func(ctx context.Context) ([]uuid.UUID, error)

	gronx gronx.Gronx
}

func New(stores *store.Stores, workspaces func(ctx context.Context) ([]uuid.UUID, error), logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Stores:     stores,
		Logger:     logger,
		Schedule:   DefaultSchedule,
		Workspaces: workspaces,
		gronx:      gronx.New(),
	}
}

// Run blocks, checking the cron schedule once a minute and firing Sweep for
// every workspace whenever it's due, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gronx.IsDue(s.Schedule)
			if err != nil {
				s.Logger.Error("sweep.schedule_invalid", "schedule", s.Schedule, "error", err)
				continue
			}
			if !due {
				continue
			}
			s.sweepAll(ctx)
		}
	}
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	workspaces, err := s.Workspaces(ctx)
	if err != nil {
		s.Logger.Error("sweep.list_workspaces_failed", "error", err)
		return
	}
	for _, wsID := range workspaces {
		n, err := s.Sweep(ctx, wsID)
		if err != nil {
			s.Logger.Error("sweep.failed", "workspace_id", wsID, "error", err)
			continue
		}
		if n > 0 {
			s.Logger.Info("sweep.linked", "workspace_id", wsID, "linked", n)
		}
	}
}

// Sweep attempts to link every orphan agent conversation in workspaceID to
// its parent, incrementing linking_attempts on every try and leaving a
// conversation alone once it hits MaxLinkingAttempts (§4.D, §8 property 7).
func (s *Sweeper) Sweep(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	ctx, end := telemetry.StartSpan(ctx, "sweep.run", telemetry.Attr("workspace_id", workspaceID.String()))
	defer end()

	orphans, err := s.Stores.Conversations.ListOrphanAgents(ctx, workspaceID, MaxLinkingAttempts)
	if err != nil {
		return 0, err
	}

	linked := 0
	for i := range orphans {
		orphan := orphans[i]
		hint := pendingParentSessionID(orphan.ExtraData)
		orphan.LinkingAttempts++
		if hint == "" {
			if err := s.Stores.Conversations.Update(ctx, &orphan); err != nil {
				return linked, err
			}
			continue
		}

		parent, err := s.Stores.Conversations.GetBySessionIDHint(ctx, workspaceID, hint)
		if err != nil {
			if apperr.KindOf(err) != apperr.NotFound {
				return linked, err
			}
			if err := s.Stores.Conversations.Update(ctx, &orphan); err != nil {
				return linked, err
			}
			continue
		}

		orphan.ParentConversationID = &parent.ID
		if err := s.Stores.Conversations.Update(ctx, &orphan); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

func pendingParentSessionID(extraData json.RawMessage) string {
	if len(extraData) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(extraData, &fields); err != nil {
		return ""
	}
	hint, _ := fields["pending_parent_session_id"].(string)
	return hint
}
