// Package ingest implements ingest_log_file, the single entry point that
// turns one agent conversation log file into persisted domain state. Every
// stage is grounded directly on the staged think/act/observe discipline of
// the teacher's agent.Loop, rendered here as a linear pipeline over one
// file instead of one chat turn.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/hashutil"
	"github.com/kulesh/catsyphon-sub001/internal/parser"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

// SourceType names who triggered the ingest.
type SourceType string

const (
	SourceWatch     SourceType = "watch"
	SourceCLI       SourceType = "cli"
	SourceUpload    SourceType = "upload"
	SourceCollector SourceType = "collector"
)

// Hints carry caller-supplied context the pipeline can't derive from the
// file alone.
type Hints struct {
	SourceType     SourceType
	SourceConfigID *uuid.UUID
	CallerID       string
	Username       string
}

// Policy controls the one documented branch point: how to treat a file
// whose content exactly matches a RawLog already on record.
type Policy struct {
	SkipDuplicates bool
}

// Outcome is what ingest_log_file reports back to its caller.
type Outcome struct {
	JobID          uuid.UUID
	Status         domain.JobStatus
	ConversationID uuid.UUID
	MessagesAdded  int
	ParseMethod    string
	Warnings       []string
}

// Pipeline wires the registry and the store aggregate the eight stages
// need. One Pipeline is shared across watch, CLI and collector callers.
type Pipeline struct {
	Stores             *store.Stores
	Registry           *parser.Registry
	Logger             *slog.Logger
	MaxLinkingAttempts int
}

func NewPipeline(stores *store.Stores, registry *parser.Registry, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Stores: stores, Registry: registry, Logger: logger, MaxLinkingAttempts: 10}
}

// IngestLogFile runs the eight stages. The job record is opened before, and
// closed after, the inner transaction so that a rolled-back transaction
// still leaves a failed IngestionJob with diagnostics for the caller.
func (p *Pipeline) IngestLogFile(ctx context.Context, workspaceID uuid.UUID, filePath string, hints Hints, policy Policy) (*Outcome, error) {
	ctx, end := telemetry.StartSpan(ctx, "ingest.log_file",
		telemetry.Attr("file_path", filePath),
		telemetry.Attr("source_type", string(hints.SourceType)))
	defer end()

	job := &domain.IngestionJob{
		WorkspaceID:    workspaceID,
		Status:         domain.JobPending,
		SourceType:     string(hints.SourceType),
		SourceConfigID: hints.SourceConfigID,
		CallerID:       hints.CallerID,
	}
	if err := p.Stores.IngestionJobs.Create(ctx, job); err != nil {
		return nil, err
	}

	outcome := &Outcome{JobID: job.ID}
	stageErr := p.Stores.WithTx(ctx, func(tx *store.Stores) error {
		return p.runStages(ctx, tx, workspaceID, filePath, hints, policy, job, outcome)
	})

	if closeErr := p.Stores.IngestionJobs.Close(ctx, job); closeErr != nil {
		p.Logger.Error("ingest.job_close_failed", "job_id", job.ID, "error", closeErr)
	}

	outcome.JobID = job.ID
	if stageErr != nil {
		p.Logger.Warn("ingest.failed", "file_path", filePath, "job_id", job.ID, "kind", apperr.KindOf(stageErr))
		return outcome, stageErr
	}
	p.Logger.Info("ingest.completed", "file_path", filePath, "job_id", job.ID, "status", outcome.Status)
	return outcome, nil
}

func (p *Pipeline) runStages(ctx context.Context, tx *store.Stores, workspaceID uuid.UUID, filePath string, hints Hints, policy Policy, job *domain.IngestionJob, outcome *Outcome) error {
	// Stage 2: content dedup.
	contentHash, err := hashutil.ContentHash(filePath)
	if err != nil {
		return fail(job, outcome, apperr.Wrap(apperr.InvalidArgument, "read file for content hash", err))
	}

	if existing, err := tx.RawLogs.GetByHash(ctx, workspaceID, contentHash); err == nil {
		if policy.SkipDuplicates {
			job.Status = domain.JobDuplicate
			job.ConversationID = &existing.ConversationID
			outcome.Status = domain.JobDuplicate
			outcome.ConversationID = existing.ConversationID
			return nil
		}
		return fail(job, outcome, apperr.New(apperr.DuplicateFile, "content already ingested as conversation "+existing.ConversationID.String()))
	} else if apperr.KindOf(err) != apperr.NotFound {
		return err
	}

	// Stage 3: change classification, only when a RawLog for this path
	// already exists.
	priorLog, pathErr := tx.RawLogs.GetByPath(ctx, workspaceID, filePath)
	hasPrior := pathErr == nil
	if !hasPrior && apperr.KindOf(pathErr) != apperr.NotFound {
		return pathErr
	}

	changeClass := hashutil.Rewrite
	if hasPrior {
		changeClass, err = hashutil.Classify(filePath, hashutil.PriorState{
			LastOffset:      priorLog.LastProcessedOffset,
			LastSize:        priorLog.FileSizeBytes,
			LastPartialHash: priorLog.PartialHash,
		})
		if err != nil {
			return fail(job, outcome, apperr.Wrap(apperr.Internal, "classify change", err))
		}
		if changeClass == hashutil.Unchanged {
			job.Status = domain.JobSkipped
			job.ConversationID = &priorLog.ConversationID
			outcome.Status = domain.JobSkipped
			outcome.ConversationID = priorLog.ConversationID
			return nil
		}
	}

	// Stage 4: parse.
	ext := filepath.Ext(filePath)
	chosen, err := p.Registry.Dispatch(ctx, filePath, ext)
	if err != nil {
		return fail(job, outcome, err)
	}

	parseMethod := "full"
	var parsed *parser.ParsedConversation
	if hasPrior && changeClass == hashutil.Append {
		if ip, ok := chosen.(parser.IncrementalParser); ok && ip.Metadata().Name == priorLog.AgentType {
			inc, err := ip.ParseIncremental(ctx, filePath, priorLog.LastProcessedOffset, priorLog.LastProcessedLine)
			if err != nil {
				return fail(job, outcome, apperr.Wrap(apperr.ParseError, "incremental parse", err))
			}
			parsed = &parser.ParsedConversation{Messages: inc.Messages}
			parseMethod = "incremental"
		}
	}
	if parsed == nil {
		parsed, err = chosen.Parse(ctx, filePath)
		if err != nil {
			return fail(job, outcome, apperr.Wrap(apperr.ParseError, "parse "+filePath, err))
		}
		// A full parse returns every message, so it replaces rather than
		// appends even when the file was classified as APPEND.
		if changeClass == hashutil.Append {
			changeClass = hashutil.Rewrite
		}
	}
	job.ParseMethod = parseMethod

	// Stage 5: metadata-only short-circuit.
	if len(parsed.Messages) == 0 && parsed.ConversationType == domain.ConversationMetadata {
		job.Status = domain.JobSkipped
		outcome.Status = domain.JobSkipped
		return nil
	}

	// Stage 6: persist.
	conversation, err := p.persist(ctx, tx, workspaceID, filePath, hints, chosen, parsed, hasPrior, priorLog, changeClass)
	if err != nil {
		return fail(job, outcome, err)
	}

	// Stage 7: deferred hierarchy linkage. A conversation always records
	// its own session id as a hint so a later agent log naming it as
	// parent can find it; an agent log that can't find its parent yet
	// records the parent hint it's waiting on, for the sweep to retry
	// (§4.D "orphan linkage sweep").
	updated := mergeExtraData(conversation.ExtraData, map[string]any{"session_id_hint": parsed.Metadata.SessionID})
	if conversation.ParentConversationID == nil && parsed.Metadata.ParentSessionID != "" {
		if parent, err := tx.Conversations.GetBySessionIDHint(ctx, workspaceID, parsed.Metadata.ParentSessionID); err == nil {
			conversation.ParentConversationID = &parent.ID
		} else if apperr.KindOf(err) == apperr.NotFound {
			updated = mergeExtraData(updated, map[string]any{"pending_parent_session_id": parsed.Metadata.ParentSessionID})
		} else {
			return err
		}
	}
	conversation.ExtraData = updated
	if err := tx.Conversations.Update(ctx, conversation); err != nil {
		return err
	}

	if len(parsed.Messages) > 0 {
		if err := tx.WorkerJobs.Enqueue(ctx, domain.WorkerJobTagging, workspaceID, conversation.ID); err != nil {
			return err
		}
	}

	// Stage 8: job close (status fields; the actual Close call happens
	// after the transaction settles, in IngestLogFile).
	job.Status = domain.JobSuccess
	job.ConversationID = &conversation.ID
	job.MessagesAdded = len(parsed.Messages)
	outcome.Status = domain.JobSuccess
	outcome.ConversationID = conversation.ID
	outcome.MessagesAdded = len(parsed.Messages)
	outcome.ParseMethod = parseMethod
	outcome.Warnings = parsed.Warnings
	return nil
}

func (p *Pipeline) persist(ctx context.Context, tx *store.Stores, workspaceID uuid.UUID, filePath string, hints Hints, chosen parser.Parser, parsed *parser.ParsedConversation, hasPrior bool, priorLog *domain.RawLog, changeClass hashutil.ChangeClass) (*domain.Conversation, error) {
	directoryPath := parsed.Metadata.WorkingDirectory
	if directoryPath == "" {
		directoryPath = filepath.Dir(filePath)
	}
	project, err := tx.Projects.GetOrCreate(ctx, workspaceID, directoryPath)
	if err != nil {
		return nil, err
	}

	username := hints.Username
	if username == "" {
		username = "unknown"
	}
	developer, err := tx.Developers.GetOrCreate(ctx, workspaceID, username)
	if err != nil {
		return nil, err
	}

	conversation, isNew, err := p.resolveConversation(ctx, tx, workspaceID, filePath, parsed, project.ID, developer.ID)
	if err != nil {
		return nil, err
	}
	conversation.AgentType = chosen.Metadata().Name
	conversation.AgentVersion = parsed.Metadata.AgentVersion
	if parsed.Metadata.SessionID != "" {
		conversation.CollectorSessionID = &parsed.Metadata.SessionID
	}
	if isNew {
		conversation.ConversationType = parsed.ConversationType
		conversation.Status = domain.ConversationOpen
	}

	epoch, err := tx.Epochs.GetOrCreateDefault(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}

	replace := !hasPrior || changeClass == hashutil.Truncate || changeClass == hashutil.Rewrite
	if replace {
		// Messages reference their epoch, so they are cleared before the
		// epochs are.
		if err := tx.Messages.ReplaceAll(ctx, conversation.ID, nil); err != nil {
			return nil, err
		}
		if err := tx.Epochs.DeleteAllForConversation(ctx, conversation.ID); err != nil {
			return nil, err
		}
		epoch, err = tx.Epochs.GetOrCreateDefault(ctx, conversation.ID)
		if err != nil {
			return nil, err
		}
		for i := range parsed.Messages {
			parsed.Messages[i].EpochID = epoch.ID
			parsed.Messages[i].Sequence = i
		}
		if err := tx.Messages.ReplaceAll(ctx, conversation.ID, parsed.Messages); err != nil {
			return nil, err
		}
	} else {
		startSeq, err := tx.Messages.MaxSequence(ctx, conversation.ID)
		if err != nil {
			return nil, err
		}
		for i := range parsed.Messages {
			parsed.Messages[i].EpochID = epoch.ID
			parsed.Messages[i].Sequence = startSeq + 1 + i
			parsed.Messages[i].ConversationID = conversation.ID
			if err := tx.Messages.Insert(ctx, &parsed.Messages[i]); err != nil {
				return nil, err
			}
		}
	}

	fileHash, err := hashutil.ContentHash(filePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "recompute content hash for raw log", err)
	}
	size, partialHash, err := hashutil.StatAndPartialHash(filePath)
	if err != nil {
		return nil, err
	}
	rawLog := &domain.RawLog{
		ConversationID:      conversation.ID,
		FilePath:            filePath,
		FileHash:            fileHash,
		LastProcessedOffset: size,
		LastProcessedLine:   priorLastLine(hasPrior, priorLog) + len(parsed.Messages),
		FileSizeBytes:       size,
		PartialHash:         partialHash,
		AgentType:           chosen.Metadata().Name,
	}
	if err := tx.RawLogs.Upsert(ctx, rawLog); err != nil {
		return nil, err
	}

	allMessages, err := tx.Messages.ListByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	conversation.MessageCount = len(allMessages)
	conversation.EpochCount = 1
	conversation.FilesCount = countDistinctFiles(allMessages)
	if err := tx.Conversations.Update(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// resolveConversation implements the three-tier lookup from §4.D stage 6:
// by collector session id, else by raw log path, else create fresh.
func (p *Pipeline) resolveConversation(ctx context.Context, tx *store.Stores, workspaceID uuid.UUID, filePath string, parsed *parser.ParsedConversation, projectID, developerID uuid.UUID) (*domain.Conversation, bool, error) {
	if parsed.Metadata.SessionID != "" {
		if c, err := tx.Conversations.GetByCollectorSessionID(ctx, workspaceID, parsed.Metadata.SessionID); err == nil {
			return c, false, nil
		} else if apperr.KindOf(err) != apperr.NotFound {
			return nil, false, err
		}
	}
	if c, err := tx.Conversations.GetByRawLogPath(ctx, workspaceID, filePath); err == nil {
		return c, false, nil
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, false, err
	}

	now := conversationStartTime(parsed)
	c := &domain.Conversation{
		WorkspaceID:      workspaceID,
		ProjectID:        &projectID,
		DeveloperID:      &developerID,
		StartTime:        now,
		Status:           domain.ConversationOpen,
		ConversationType: parsed.ConversationType,
	}
	if err := tx.Conversations.Create(ctx, c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func fail(job *domain.IngestionJob, outcome *Outcome, err error) error {
	job.Status = domain.JobFailed
	job.ErrorKind = string(apperr.KindOf(err))
	job.ErrorMessage = err.Error()
	outcome.Status = domain.JobFailed
	return err
}

// mergeExtraData shallow-merges fields into existing's decoded object,
// skipping blank string values so callers can pass optional hints
// unconditionally.
func mergeExtraData(existing json.RawMessage, fields map[string]any) json.RawMessage {
	merged := map[string]any{}
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return out
}

func priorLastLine(hasPrior bool, priorLog *domain.RawLog) int {
	if !hasPrior {
		return 0
	}
	return priorLog.LastProcessedLine
}

func countDistinctFiles(messages []domain.Message) int {
	seen := map[string]struct{}{}
	for _, m := range messages {
		for _, cc := range m.CodeChanges {
			seen[cc.FilePath] = struct{}{}
		}
	}
	return len(seen)
}

func conversationStartTime(parsed *parser.ParsedConversation) time.Time {
	if len(parsed.Messages) > 0 {
		return parsed.Messages[0].Timestamp
	}
	return time.Now()
}
