// Package config loads and holds the ingestion core's configuration, in the
// same shape as goclaw's internal/config: a single JSON-tagged Config struct
// with an RWMutex for hot-reload safety, secrets pulled from environment
// variables rather than the config file.
package config

import (
	"sync"
)

// Config is the root configuration for the ingestion core.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Watch     WatchConfig     `json:"watch"`
	Parsers   ParsersConfig   `json:"parsers"`
	Canonical CanonicalConfig `json:"canonical"`
	Workers   WorkersConfig   `json:"workers"`
	Providers ProvidersConfig `json:"providers"`
	HTTP      HTTPConfig      `json:"http"`
	Telemetry TelemetryConfig `json:"telemetry"`
	mu        sync.RWMutex
}

// DatabaseConfig configures Postgres. DSN is never read from config.json —
// only from env CATSYPHON_POSTGRES_DSN — matching goclaw's pattern of
// keeping secrets out of the persisted config file.
type DatabaseConfig struct {
	DSN             string `json:"-"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty"`
	ConnMaxLifeMins int    `json:"conn_max_life_mins,omitempty"`
}

// WatchConfig configures the filesystem watch daemon (§4.G).
type WatchConfig struct {
	DebounceMillis       int `json:"debounce_millis,omitempty"`
	MaxRetries           int `json:"max_retries,omitempty"`
	BaseRetryIntervalSec int `json:"base_retry_interval_sec,omitempty"`
}

// ParsersConfig points at the plugin manifest directories scanned at
// context construction (§4.B).
type ParsersConfig struct {
	ManifestDirs []string `json:"manifest_dirs,omitempty"`
}

// CanonicalConfig holds token budgets and a regeneration threshold for the
// canonicalizer (§4.F). The canonicalizer does not read these fields; it
// uses its own built-in budget and threshold constants.
type CanonicalConfig struct {
	TaggingBudget               int `json:"tagging_budget,omitempty"`
	InsightsBudget               int `json:"insights_budget,omitempty"`
	ExportBudget                 int `json:"export_budget,omitempty"`
	RegenerationThresholdTokens  int `json:"regeneration_threshold_tokens,omitempty"`
}

// WorkersConfig controls the background job pool (§4.H).
type WorkersConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`
	// ConfidenceThreshold filters tagging/insight recommendations below
	// this score before they're persisted (§4.H).
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	// RetryBaseSec is the base for the exponential backoff applied
	// between failed attempts, mirroring the watch daemon's retry
	// schedule (§4.H, §4.G).
	RetryBaseSec int `json:"retry_base_sec,omitempty"`
}

// ProvidersConfig holds per-LLM-provider settings.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
}

// ProviderConfig configures one LLM provider variant. APIKey is env-only,
// matching goclaw's secret-handling convention for provider credentials.
type ProviderConfig struct {
	APIKey       string  `json:"-"`
	Model        string  `json:"model,omitempty"`
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`
	RateLimitBurst int   `json:"rate_limit_burst,omitempty"`
}

// HTTPConfig configures the debug/query HTTP surface (§6).
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeoutSec  int    `json:"read_timeout_sec,omitempty"`
	WriteTimeoutSec int    `json:"write_timeout_sec,omitempty"`
}

// TelemetryConfig holds the logging and tracing settings (§10). Dev selects
// the text log handler. OTLPEndpoint is loaded from the environment, but no
// exporter in this module sends spans to it.
type TelemetryConfig struct {
	Dev          bool   `json:"dev,omitempty"`
	OTLPEndpoint string `json:"-"`
}

// IsManagedMode reports whether the core is configured against a live
// Postgres instance rather than running ingestion-only with no persistence.
func (c *Config) IsManagedMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database.DSN != ""
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex,
// matching goclaw's hot-reload ReplaceFrom convention.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = src.Database
	c.Watch = src.Watch
	c.Parsers = src.Parsers
	c.Canonical = src.Canonical
	c.Workers = src.Workers
	c.Providers = src.Providers
	c.HTTP = src.HTTP
	c.Telemetry = src.Telemetry
}
