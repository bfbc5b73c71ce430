// Package validator classifies tuning trials as valid, overfit or invalid.
//
// Classification is pure: it depends only on the trial's metrics, its split
// metrics and the engine health report. Invalid marks metric combinations a
// real trading simulation cannot produce; such trials are never offered for
// analysis or promotion. Overfit is a warning only.
package validator

import (
	"fmt"

	"github.com/spachava753/tunectl/internal/models"
)

// Reasons reported for invalid trials.
const (
	ReasonEngineHealth   = "engine_health.is_valid=false"
	ReasonZeroVolatility = "volatility=0"
	ReasonZeroSellTrades = "sell_trades=0"
	ReasonZeroCosts      = "costs=0"
)

// Validator classifies trials against a set of thresholds.
type Validator struct {
	cfg models.ValidationConfig
}

// New creates a Validator. A non-positive overfit ratio falls back to 1.3.
func New(cfg models.ValidationConfig) *Validator {
	if cfg.OverfitRatio <= 0 {
		cfg.OverfitRatio = 1.3
	}
	return &Validator{cfg: cfg}
}

// Config returns the thresholds in use.
func (v *Validator) Config() models.ValidationConfig {
	return v.cfg
}

// Classify returns the verdict for one trial result.
func (v *Validator) Classify(result models.Result, splits models.Splits, health models.HealthReport) models.Verdict {
	var verdict models.Verdict

	if h, ok := health.Get(); ok {
		verdict.Warnings = append(verdict.Warnings, h.Warnings...)
	}

	reasons := v.invalidReasons(result, health)
	if len(reasons) > 0 {
		verdict.Class = models.ClassInvalid
		verdict.Reasons = reasons
		return verdict
	}

	if reason, ok := v.overfit(splits); ok {
		verdict.Class = models.ClassOverfit
		verdict.Reasons = []string{reason}
		return verdict
	}

	verdict.Class = models.ClassValid
	return verdict
}

// ClassifyTrial classifies t using its own result, splits and health report.
func (v *Validator) ClassifyTrial(t models.Trial) models.ClassifiedTrial {
	return models.ClassifiedTrial{
		Trial:   t,
		Verdict: v.Classify(t.Result, t.Splits(), t.EngineHealth),
	}
}

// ClassifyAll classifies trials in order.
func (v *Validator) ClassifyAll(trials []models.Trial) []models.ClassifiedTrial {
	out := make([]models.ClassifiedTrial, 0, len(trials))
	for _, t := range trials {
		out = append(out, v.ClassifyTrial(t))
	}
	return out
}

func (v *Validator) invalidReasons(r models.Result, health models.HealthReport) []string {
	var reasons []string

	if h, ok := health.Get(); ok && v.cfg.TrustEngineHealth && !h.IsValid {
		reasons = append(reasons, ReasonEngineHealth)
		for _, w := range h.Warnings {
			reasons = append(reasons, "engine: "+w)
		}
	}

	// A run without trades legitimately has no volatility, sells or costs.
	if r.NumTrades <= 0 {
		return reasons
	}

	if v.cfg.RejectZeroVolatility && r.Volatility == 0 {
		reasons = append(reasons, ReasonZeroVolatility)
	}
	if v.cfg.RejectZeroSellTrades && r.SellTrades == 0 {
		reasons = append(reasons, ReasonZeroSellTrades)
	}
	if v.cfg.RejectZeroCosts && r.TotalCosts.IsZero() {
		reasons = append(reasons, ReasonZeroCosts)
	}

	return reasons
}

// overfit applies only when both train and test Sharpe ratios are positive.
func (v *Validator) overfit(s models.Splits) (string, bool) {
	if s.Train == nil || s.Test == nil {
		return "", false
	}
	train, test := s.Train.SharpeRatio, s.Test.SharpeRatio
	if train <= 0 || test <= 0 {
		return "", false
	}
	if train > test*v.cfg.OverfitRatio {
		return fmt.Sprintf("train sharpe %.2f > test sharpe %.2f x %.2f", train, test, v.cfg.OverfitRatio), true
	}
	return "", false
}

// Promotable reports whether a verdict allows the trial to become live.
func Promotable(verdict models.Verdict) bool {
	return verdict.Class != models.ClassInvalid
}
