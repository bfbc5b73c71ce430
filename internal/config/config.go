package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/tunectl/internal/models"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() models.Config {
	return models.Config{
		LogLevel: "info",
		Engine: models.EngineConfig{
			BaseURL:   "http://localhost:8001",
			TimeoutMs: 10000,
		},
		Tuning: models.TuningConfig{
			MinTrials:      10,
			MaxTrials:      1000,
			PollIntervalMs: 2000,
			Retry:          DefaultRetryConfig(),
		},
		Cache: models.CacheConfig{
			PollIntervalMs: 1500,
			Retry:          DefaultRetryConfig(),
		},
		History: models.HistoryConfig{
			LocalCapacity: 50,
			RemoteLimit:   50,
		},
		Server: models.ServerConfig{
			Addr: ":8080",
		},
		Events: models.EventsConfig{
			Topic: "tunectl.events",
		},
		Validation: DefaultValidationConfig(),
	}
}

// DefaultRetryConfig is the transient-error tolerance of a single poll tick.
func DefaultRetryConfig() models.RetryConfig {
	return models.RetryConfig{
		MaxAttempts:    3,
		InitialDelayMs: 250,
		MaxDelayMs:     2000,
		Multiplier:     2.0,
	}
}

// LoadConfig loads and parses a tunectl.yaml file. When the file names a
// validation_path, the thresholds are loaded from it as well.
func LoadConfig(path string) (models.Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Tuning.MinTrials > cfg.Tuning.MaxTrials {
		return cfg, fmt.Errorf("tuning: min_trials %d exceeds max_trials %d", cfg.Tuning.MinTrials, cfg.Tuning.MaxTrials)
	}

	if cfg.ValidationPath != "" {
		v, err := LoadValidationFile(cfg.ValidationPath)
		if err != nil {
			return cfg, err
		}
		cfg.Validation = v
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *models.Config) {
	def := DefaultConfig()

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Engine.BaseURL == "" {
		cfg.Engine.BaseURL = def.Engine.BaseURL
	}
	if cfg.Engine.TimeoutMs == 0 {
		cfg.Engine.TimeoutMs = def.Engine.TimeoutMs
	}
	if cfg.Tuning.MinTrials == 0 {
		cfg.Tuning.MinTrials = def.Tuning.MinTrials
	}
	if cfg.Tuning.MaxTrials == 0 {
		cfg.Tuning.MaxTrials = def.Tuning.MaxTrials
	}
	if cfg.Tuning.PollIntervalMs == 0 {
		cfg.Tuning.PollIntervalMs = def.Tuning.PollIntervalMs
	}
	if cfg.Tuning.Retry.MaxAttempts == 0 {
		cfg.Tuning.Retry = def.Tuning.Retry
	}
	if cfg.Cache.PollIntervalMs == 0 {
		cfg.Cache.PollIntervalMs = def.Cache.PollIntervalMs
	}
	if cfg.Cache.Retry.MaxAttempts == 0 {
		cfg.Cache.Retry = def.Cache.Retry
	}
	if cfg.History.LocalCapacity == 0 {
		cfg.History.LocalCapacity = def.History.LocalCapacity
	}
	if cfg.History.RemoteLimit == 0 {
		cfg.History.RemoteLimit = def.History.RemoteLimit
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = def.Events.Topic
	}
}

// ApplyEnv loads a .env file when present and applies TUNECTL_* overrides.
func ApplyEnv(cfg *models.Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading env file: %w", err)
	}

	if v := os.Getenv("TUNECTL_ENGINE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("TUNECTL_ENGINE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing TUNECTL_ENGINE_TIMEOUT_MS %q: %w", v, err)
		}
		cfg.Engine.TimeoutMs = ms
	}
	if v := os.Getenv("TUNECTL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TUNECTL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TUNECTL_KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
	return nil
}
