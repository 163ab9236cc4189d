package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads path (if it exists) as JSON into a default-valued Config, then
// overlays secrets from the environment. A missing file is not an error —
// callers get defaults plus whatever the environment supplies, matching
// goclaw's config_load.go overlay behavior.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Database.DSN = os.Getenv("CATSYPHON_POSTGRES_DSN")
	cfg.Providers.OpenAI.APIKey = os.Getenv("CATSYPHON_OPENAI_API_KEY")
	cfg.Providers.Anthropic.APIKey = os.Getenv("CATSYPHON_ANTHROPIC_API_KEY")
	cfg.Telemetry.OTLPEndpoint = os.Getenv("CATSYPHON_OTLP_ENDPOINT")

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifeMins: 30,
		},
		Watch: WatchConfig{
			DebounceMillis:       1000,
			MaxRetries:           3,
			BaseRetryIntervalSec: 300,
		},
		Parsers: ParsersConfig{
			ManifestDirs: []string{"plugins"},
		},
		Canonical: CanonicalConfig{
			TaggingBudget:               8000,
			InsightsBudget:              12000,
			ExportBudget:                20000,
			RegenerationThresholdTokens: 2000,
		},
		Workers: WorkersConfig{
			Concurrency:         4,
			MaxAttempts:         3,
			ConfidenceThreshold: 0.6,
			RetryBaseSec:        60,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{Model: "gpt-4o-mini", RateLimitRPS: 5, RateLimitBurst: 10},
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-5-20250929", RateLimitRPS: 5, RateLimitBurst: 10},
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
		},
	}
}
