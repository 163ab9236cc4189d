package cmd

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"github.com/kulesh/catsyphon-sub001/internal/config"
	"github.com/kulesh/catsyphon-sub001/internal/parser"
	_ "github.com/kulesh/catsyphon-sub001/internal/parser/claudecode"
	_ "github.com/kulesh/catsyphon-sub001/internal/parser/codex"
	"github.com/kulesh/catsyphon-sub001/internal/store"
	"github.com/kulesh/catsyphon-sub001/internal/store/pg"
	"github.com/kulesh/catsyphon-sub001/internal/tagging/providers"
	"github.com/kulesh/catsyphon-sub001/internal/telemetry"
)

func newLogger(cfg *config.Config) *slog.Logger {
	return telemetry.NewLogger(cfg.Telemetry.Dev || verbose)
}

// openStores opens the Postgres pool from an already loaded config and
// wires the store aggregate. Callers defer db.Close().
func openStores(cfg *config.Config) (*store.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, nil, apperr.New(apperr.InvalidArgument, "CATSYPHON_POSTGRES_DSN environment variable is not set")
	}
	db, err := pg.OpenDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, time.Duration(cfg.Database.ConnMaxLifeMins)*time.Minute)
	if err != nil {
		return nil, nil, err
	}
	return pg.NewStores(db), db, nil
}

// newRegistry loads every plugin manifest under cfg.Parsers.ManifestDirs,
// resolving each against the compiled-in parser constructors (§4.B).
func newRegistry(cfg *config.Config, logger *slog.Logger) (*parser.Registry, error) {
	r := parser.NewRegistry()
	warn := func(msg string, args ...any) { logger.Warn("parser."+msg, args...) }
	if err := parser.LoadManifests(r, cfg.Parsers.ManifestDirs, warn); err != nil {
		return nil, err
	}
	return r, nil
}

// newProvider picks whichever LLM provider has an API key configured,
// preferring Anthropic, and wraps it in the shared rate limiter (§4.H).
// Returns nil if neither is configured — the worker pool then fails
// tagging jobs as Transient, and each job is marked failed for good once
// it reaches the worker's attempt limit.
func newProvider(cfg *config.Config) providers.Provider {
	switch {
	case cfg.Providers.Anthropic.APIKey != "":
		p := providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey)
		return providers.NewLimited(p, cfg.Providers.Anthropic.RateLimitRPS, cfg.Providers.Anthropic.RateLimitBurst)
	case cfg.Providers.OpenAI.APIKey != "":
		p := providers.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey)
		return providers.NewLimited(p, cfg.Providers.OpenAI.RateLimitRPS, cfg.Providers.OpenAI.RateLimitBurst)
	default:
		return nil
	}
}
