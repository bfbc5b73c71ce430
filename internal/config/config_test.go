package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/spachava753/tunectl/internal/config"
)

func TestLoadValidationConfig(t *testing.T) {
	validationToml := `overfit_ratio = 1.5
reject_zero_costs = false
`

	fsys := fstest.MapFS{
		"validation.toml": &fstest.MapFile{Data: []byte(validationToml)},
	}

	cfg, err := config.LoadValidationConfig(fsys)
	if err != nil {
		t.Fatalf("LoadValidationConfig failed: %v", err)
	}

	if cfg.OverfitRatio != 1.5 {
		t.Errorf("expected overfit_ratio 1.5, got %f", cfg.OverfitRatio)
	}

	if cfg.RejectZeroCosts {
		t.Error("expected reject_zero_costs to be disabled")
	}

	if !cfg.RejectZeroSellTrades {
		t.Error("expected reject_zero_sell_trades to keep its default")
	}

	if !cfg.TrustEngineHealth {
		t.Error("expected trust_engine_health to keep its default")
	}
}

func TestLoadValidationConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{name: "non-positive ratio", toml: "overfit_ratio = 0\n"},
		{name: "unknown key", toml: "overfit_ratoi = 1.2\n"},
		{name: "malformed", toml: "overfit_ratio = \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{
				"validation.toml": &fstest.MapFile{Data: []byte(tt.toml)},
			}
			if _, err := config.LoadValidationConfig(fsys); err == nil {
				t.Errorf("expected error for %q", tt.toml)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	configYaml := `name: desk
log_level: debug
validation_path: validation.toml
engine:
  base_url: http://engine.internal:8001
tuning:
  min_trials: 20
  max_trials: 500
  poll_interval_ms: 500
history:
  local_capacity: 10
events:
  brokers: [kafka-1:9092, kafka-2:9092]
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "tunectl.yaml")
	if err := os.WriteFile(tmpFile, []byte(configYaml), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "validation.toml"), []byte("overfit_ratio = 1.25\n"), 0644); err != nil {
		t.Fatalf("writing validation file: %v", err)
	}

	// validation_path is resolved relative to the working directory
	t.Chdir(tmpDir)

	cfg, err := config.LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if *cfg.Name != "desk" {
		t.Errorf("expected name desk, got %s", *cfg.Name)
	}

	if cfg.Engine.BaseURL != "http://engine.internal:8001" {
		t.Errorf("expected engine base_url override, got %s", cfg.Engine.BaseURL)
	}

	if cfg.Engine.TimeoutMs != 10000 {
		t.Errorf("expected default timeout 10000, got %d", cfg.Engine.TimeoutMs)
	}

	if cfg.Tuning.MinTrials != 20 || cfg.Tuning.MaxTrials != 500 {
		t.Errorf("expected trial range [20,500], got [%d,%d]", cfg.Tuning.MinTrials, cfg.Tuning.MaxTrials)
	}

	if cfg.Tuning.Retry.MaxAttempts != 3 {
		t.Errorf("expected default retry max_attempts 3, got %d", cfg.Tuning.Retry.MaxAttempts)
	}

	if cfg.Cache.PollIntervalMs != 1500 {
		t.Errorf("expected default cache poll interval 1500, got %d", cfg.Cache.PollIntervalMs)
	}

	if cfg.History.LocalCapacity != 10 {
		t.Errorf("expected local_capacity 10, got %d", cfg.History.LocalCapacity)
	}

	if cfg.History.RemoteLimit != 50 {
		t.Errorf("expected default remote_limit 50, got %d", cfg.History.RemoteLimit)
	}

	if len(cfg.Events.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(cfg.Events.Brokers))
	}

	if cfg.Validation.OverfitRatio != 1.25 {
		t.Errorf("expected overfit_ratio 1.25 from validation file, got %f", cfg.Validation.OverfitRatio)
	}
}

func TestLoadConfigRejectsInvertedRange(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "tunectl.yaml")
	if err := os.WriteFile(tmpFile, []byte("tuning:\n  min_trials: 100\n  max_trials: 50\n"), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	if _, err := config.LoadConfig(tmpFile); err == nil {
		t.Error("expected error for min_trials > max_trials")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Tuning.MinTrials != 10 || cfg.Tuning.MaxTrials != 1000 {
		t.Errorf("expected default trial range [10,1000], got [%d,%d]", cfg.Tuning.MinTrials, cfg.Tuning.MaxTrials)
	}

	if cfg.Tuning.PollIntervalMs != 2000 {
		t.Errorf("expected default tuning poll interval 2000, got %d", cfg.Tuning.PollIntervalMs)
	}

	if cfg.Tuning.MaxPollAttempts != 0 {
		t.Errorf("expected uncapped tuning polling, got %d", cfg.Tuning.MaxPollAttempts)
	}

	if cfg.History.LocalCapacity != 50 {
		t.Errorf("expected default local_capacity 50, got %d", cfg.History.LocalCapacity)
	}

	if cfg.Validation.OverfitRatio != 1.3 {
		t.Errorf("expected default overfit_ratio 1.3, got %f", cfg.Validation.OverfitRatio)
	}
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("TUNECTL_ENGINE_URL=http://from-dotenv:9000\n"), 0644); err != nil {
		t.Fatalf("writing env file: %v", err)
	}
	t.Setenv("TUNECTL_SERVER_ADDR", ":9999")
	t.Setenv("TUNECTL_KAFKA_BROKERS", "a:9092,b:9092")
	// godotenv never overrides variables already set; make sure it is unset first
	t.Setenv("TUNECTL_ENGINE_URL", "")
	os.Unsetenv("TUNECTL_ENGINE_URL")

	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(&cfg, envFile); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Engine.BaseURL != "http://from-dotenv:9000" {
		t.Errorf("expected engine url from .env, got %s", cfg.Engine.BaseURL)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected server addr :9999, got %s", cfg.Server.Addr)
	}

	if len(cfg.Events.Brokers) != 2 || cfg.Events.Brokers[1] != "b:9092" {
		t.Errorf("expected brokers from env, got %v", cfg.Events.Brokers)
	}
}
