package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/spachava753/tunectl/internal/models"
)

// DefaultValidationConfig returns the trial validation heuristics.
func DefaultValidationConfig() models.ValidationConfig {
	return models.ValidationConfig{
		OverfitRatio:         1.3,
		RejectZeroVolatility: true,
		RejectZeroSellTrades: true,
		RejectZeroCosts:      true,
		TrustEngineHealth:    true,
	}
}

// LoadValidationConfig loads and parses validation.toml from the given filesystem.
func LoadValidationConfig(fsys fs.FS) (models.ValidationConfig, error) {
	cfg := DefaultValidationConfig()

	data, err := fs.ReadFile(fsys, "validation.toml")
	if err != nil {
		return cfg, fmt.Errorf("reading validation.toml: %w", err)
	}

	return parseValidation(data)
}

func parseValidation(data []byte) (models.ValidationConfig, error) {
	cfg := DefaultValidationConfig()

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing validation.toml: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("validation.toml: unknown key %q", undecoded[0].String())
	}

	if md.IsDefined("overfit_ratio") && cfg.OverfitRatio <= 0 {
		return cfg, fmt.Errorf("validation.toml: overfit_ratio must be positive, got %g", cfg.OverfitRatio)
	}

	return cfg, nil
}

// LoadValidationFile loads validation heuristics from a path on disk.
func LoadValidationFile(path string) (models.ValidationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultValidationConfig(), fmt.Errorf("reading validation config %s: %w", filepath.Base(path), err)
	}
	return parseValidation(data)
}
