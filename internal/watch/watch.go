// Package watch implements the filesystem watch daemon of §4.G: one daemon
// per watch_configs row, observing a directory with fsnotify, debouncing
// bursts of writes, draining changed files into the ingest pipeline, and
// retrying failed ingests with backoff. Grounded on the teacher's
// long-lived consumer goroutine (cmd/gateway_consumer.go) for the
// observer/processor/retry thread split and graceful shutdown discipline.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/domain"
	"github.com/kulesh/catsyphon-sub001/internal/hashutil"
	"github.com/kulesh/catsyphon-sub001/internal/ingest"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

var supportedExtensions = map[string]bool{".jsonl": true}

// RetryEntry tracks one file that failed ingestion and is waiting for its
// next attempt (§4.G retry thread).
type RetryEntry struct {
	Path       string
	Attempts   int
	LastError  error
	NextRetry  time.Time
}

// daemon runs the observer/processor/retry loop for one watch_configs row.
type daemon struct {
	cfg        domain.WatchConfig
	watchCfg   config.WatchConfig
	pipeline   *ingest.Pipeline
	logger     *slog.Logger
	watcher    *fsnotify.Watcher
	cancel     context.CancelFunc
	done       chan struct{}

	mu         sync.Mutex
	debounced  map[string]*time.Timer
	hashCache  map[string]string
	retryMu    sync.Mutex
	retryQueue []*RetryEntry
}

// Manager owns every running daemon, keyed by watch_config_id, matching
// §5's "watch configuration rows are owned exclusively by the manager"
// rule for is_active.
type Manager struct {
	Stores   *store.Stores
	Pipeline *ingest.Pipeline
	Config   config.WatchConfig
	Logger   *slog.Logger

	mu      sync.Mutex
	daemons map[uuid.UUID]*daemon
}

func NewManager(stores *store.Stores, pipeline *ingest.Pipeline, cfg config.WatchConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Stores:   stores,
		Pipeline: pipeline,
		Config:   cfg,
		Logger:   logger,
		daemons:  map[uuid.UUID]*daemon{},
	}
}

// RestoreActive starts a daemon for every watch config already marked
// active, for process-restart recovery (§4.G).
func (m *Manager) RestoreActive(ctx context.Context) error {
	active, err := m.Stores.WatchConfigs.ListActive(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range active {
		if err := m.startLocked(ctx, cfg); err != nil {
			m.Logger.Error("watch.restore_failed", "watch_config_id", cfg.ID, "error", err)
		}
	}
	return nil
}

// StartDaemon is idempotent: starting an already-running daemon is a no-op.
func (m *Manager) StartDaemon(ctx context.Context, cfg domain.WatchConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, cfg)
}

func (m *Manager) startLocked(ctx context.Context, cfg domain.WatchConfig) error {
	if _, running := m.daemons[cfg.ID]; running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "create fsnotify watcher", err)
	}
	if err := watcher.Add(cfg.DirectoryPath); err != nil {
		watcher.Close()
		return apperr.Wrap(apperr.Internal, "watch directory "+cfg.DirectoryPath, err)
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &daemon{
		cfg:       cfg,
		watchCfg:  m.Config,
		pipeline:  m.Pipeline,
		logger:    m.Logger,
		watcher:   watcher,
		cancel:    cancel,
		done:      make(chan struct{}),
		debounced: map[string]*time.Timer{},
		hashCache: map[string]string{},
	}
	m.daemons[cfg.ID] = d

	go d.run(dctx)

	if err := m.Stores.WatchConfigs.SetActive(ctx, cfg.WorkspaceID, cfg.ID, true); err != nil {
		return err
	}
	return nil
}

// StopDaemon cancels and removes the daemon for id, waiting up to 10s for
// its goroutines to exit (§5 "daemon start/stop timeout"). Files still
// inside their debounce delay are not processed before the daemon exits.
func (m *Manager) StopDaemon(ctx context.Context, workspaceID, id uuid.UUID) error {
	m.mu.Lock()
	d, running := m.daemons[id]
	if running {
		delete(m.daemons, id)
	}
	m.mu.Unlock()

	if running {
		d.cancel()
		select {
		case <-d.done:
		case <-time.After(10 * time.Second):
			m.Logger.Warn("watch.stop_timeout", "watch_config_id", id)
		}
	}
	return m.Stores.WatchConfigs.SetActive(ctx, workspaceID, id, false)
}

// IsActive reports whether id currently has a running daemon. Exclusively
// owned by the manager, never inferred from the watch_configs row alone.
func (m *Manager) IsActive(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.daemons[id]
	return running
}

func (d *daemon) run(ctx context.Context) {
	defer close(d.done)
	defer d.watcher.Close()

	d.reconcile(ctx)

	debounceMillis := d.watchCfg.DebounceMillis
	if debounceMillis <= 0 {
		debounceMillis = 1000
	}

	go d.retryLoop(ctx)

	changed := make(chan string, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-d.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !supportedExtensions[filepath.Ext(ev.Name)] {
					continue
				}
				d.debounce(ev.Name, time.Duration(debounceMillis)*time.Millisecond, changed)
			case err, ok := <-d.watcher.Errors:
				if !ok {
					return
				}
				d.logger.Error("watch.fsnotify_error", "watch_config_id", d.cfg.ID, "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-changed:
			d.processFile(ctx, path)
		}
	}
}

func (d *daemon) debounce(path string, delay time.Duration, changed chan<- string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, pending := d.debounced[path]; pending {
		t.Reset(delay)
		return
	}
	d.debounced[path] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.debounced, path)
		d.mu.Unlock()
		select {
		case changed <- path:
		default:
		}
	})
}

// reconcile runs the change detector over every prior file for this
// directory at daemon startup, enqueueing anything not UNCHANGED. Files
// that disappeared since the last run are left alone (§4.G).
func (d *daemon) reconcile(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.DirectoryPath)
	if err != nil {
		d.logger.Error("watch.reconcile_list_failed", "watch_config_id", d.cfg.ID, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !supportedExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		path := filepath.Join(d.cfg.DirectoryPath, entry.Name())
		prior, err := d.pipeline.Stores.RawLogs.GetByPath(ctx, d.cfg.WorkspaceID, path)
		if err != nil && apperr.KindOf(err) != apperr.NotFound {
			d.logger.Error("watch.reconcile_lookup_failed", "path", path, "error", err)
			continue
		}
		priorState := hashutil.PriorState{}
		hasPrior := err == nil
		if hasPrior {
			priorState = hashutil.PriorState{
				LastOffset:      prior.LastProcessedOffset,
				LastSize:        prior.FileSizeBytes,
				LastPartialHash: prior.PartialHash,
			}
		}
		class, err := hashutil.Classify(path, priorState)
		if err != nil {
			d.logger.Error("watch.reconcile_classify_failed", "path", path, "error", err)
			continue
		}
		if class != hashutil.Unchanged {
			d.processFile(ctx, path)
		}
	}
}

func (d *daemon) processFile(ctx context.Context, path string) {
	ctx, end := telemetry.StartSpan(ctx, "watch.process_file", telemetry.Attr("path", path))
	defer end()

	hash, err := hashutil.ContentHash(path)
	if err == nil {
		d.mu.Lock()
		if d.hashCache[path] == hash {
			d.mu.Unlock()
			return
		}
		d.hashCache[path] = hash
		d.mu.Unlock()
	}

	_, err = d.pipeline.IngestLogFile(ctx, d.cfg.WorkspaceID, path, ingest.Hints{SourceType: ingest.SourceWatch}, ingest.Policy{SkipDuplicates: true})
	if err == nil || apperr.KindOf(err) == apperr.DuplicateFile {
		d.retryMu.Lock()
		d.removeRetry(path)
		d.retryMu.Unlock()
		return
	}

	// A failed file was not processed: forget its hash so the retry
	// attempt reaches the pipeline instead of the cache short-cut.
	d.mu.Lock()
	delete(d.hashCache, path)
	d.mu.Unlock()
	d.enqueueRetry(path, err)
}

// enqueueRetry schedules a failed file for another attempt with the
// exponential backoff described in §4.G: base * 3^(attempts-1), dropped
// (but leaving the failed IngestionJob on record) after MaxRetries.
func (d *daemon) enqueueRetry(path string, cause error) {
	maxRetries := d.watchCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseSec := d.watchCfg.BaseRetryIntervalSec
	if baseSec <= 0 {
		baseSec = 300
	}

	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	var entry *RetryEntry
	for _, e := range d.retryQueue {
		if e.Path == path {
			entry = e
			break
		}
	}
	if entry == nil {
		entry = &RetryEntry{Path: path}
		d.retryQueue = append(d.retryQueue, entry)
	}
	entry.Attempts++
	entry.LastError = cause
	if entry.Attempts >= maxRetries {
		d.logger.Warn("watch.retry_exhausted", "path", path, "attempts", entry.Attempts, "error", cause)
		d.removeRetry(path)
		return
	}
	delay := time.Duration(baseSec) * time.Second
	for i := 1; i < entry.Attempts; i++ {
		delay *= 3
	}
	entry.NextRetry = time.Now().UTC().Add(delay)
}

func (d *daemon) removeRetry(path string) {
	out := d.retryQueue[:0]
	for _, e := range d.retryQueue {
		if e.Path != path {
			out = append(out, e)
		}
	}
	d.retryQueue = out
}

func (d *daemon) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			d.retryMu.Lock()
			due := make([]string, 0)
			for _, e := range d.retryQueue {
				if !e.NextRetry.After(now) {
					due = append(due, e.Path)
				}
			}
			d.retryMu.Unlock()
			for _, path := range due {
				d.processFile(ctx, path)
			}
		}
	}
}
