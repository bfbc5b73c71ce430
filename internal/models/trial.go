package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Parameters is one strategy parameter combination evaluated by the engine.
type Parameters struct {
	MAPeriod       int     `json:"ma_period" yaml:"ma_period"`
	RSIPeriod      int     `json:"rsi_period" yaml:"rsi_period"`
	StopLoss       float64 `json:"stop_loss" yaml:"stop_loss"`
	LookbackMonths int     `json:"lookback_months,omitempty" yaml:"lookback_months,omitempty"`
	MaxPositions   int     `json:"max_positions,omitempty" yaml:"max_positions,omitempty"`
	InitialCapital int64   `json:"initial_capital,omitempty" yaml:"initial_capital,omitempty"`
	StartDate      string  `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate        string  `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Fingerprint identifies a configuration independent of when it was run.
func (p Parameters) Fingerprint() string {
	return fmt.Sprintf("ma=%d|rsi=%d|sl=%g|lb=%d|mp=%d|%s..%s",
		p.MAPeriod, p.RSIPeriod, p.StopLoss, p.LookbackMonths, p.MaxPositions, p.StartDate, p.EndDate)
}

// Result holds the performance metrics of one parameter set over one window.
// Split metrics (train/val/test) share the same shape.
type Result struct {
	CAGR             float64         `json:"cagr"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	TotalReturn      float64         `json:"total_return"`
	NumTrades        int             `json:"num_trades"`
	SellTrades       int             `json:"sell_trades"`
	WinRate          float64         `json:"win_rate"`
	Volatility       float64         `json:"volatility"`
	CalmarRatio      float64         `json:"calmar_ratio,omitempty"`
	TotalCosts       decimal.Decimal `json:"total_costs"`
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
}

// EngineHealth is the engine's self-diagnostic for one trial.
type EngineHealth struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
}

// HealthReport is an optional EngineHealth. The zero value is absent.
type HealthReport struct {
	present bool
	health  EngineHealth
}

// PresentHealth wraps h as a present report.
func PresentHealth(h EngineHealth) HealthReport {
	return HealthReport{present: true, health: h}
}

// AbsentHealth returns a report carrying no engine diagnostic.
func AbsentHealth() HealthReport {
	return HealthReport{}
}

// Get returns the wrapped health and whether it is present.
func (r HealthReport) Get() (EngineHealth, bool) {
	return r.health, r.present
}

func (r HealthReport) MarshalJSON() ([]byte, error) {
	if !r.present {
		return []byte("null"), nil
	}
	return json.Marshal(r.health)
}

func (r *HealthReport) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = HealthReport{}
		return nil
	}
	var h EngineHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("parsing engine_health: %w", err)
	}
	*r = PresentHealth(h)
	return nil
}

// Splits holds the optional per-window metrics of a trial.
type Splits struct {
	Train *Result
	Val   *Result
	Test  *Result
}

// Trial is one evaluated parameter combination reported by the engine.
type Trial struct {
	TrialNumber    int          `json:"trial_number"`
	LookbackMonths int          `json:"lookback_months,omitempty"`
	Params         Parameters   `json:"params"`
	Result         Result       `json:"result"`
	Train          *Result      `json:"train,omitempty"`
	Val            *Result      `json:"val,omitempty"`
	Test           *Result      `json:"test,omitempty"`
	EngineHealth   HealthReport `json:"engine_health"`
	Warnings       []string     `json:"warnings,omitempty"`
	CreatedAt      time.Time    `json:"timestamp"`
}

// Splits returns the trial's split metrics.
func (t Trial) Splits() Splits {
	return Splits{Train: t.Train, Val: t.Val, Test: t.Test}
}

// UnmarshalJSON tolerates the empty timestamp the engine emits for fresh trials.
func (t *Trial) UnmarshalJSON(data []byte) error {
	type plain Trial
	aux := struct {
		*plain
		CreatedAt string `json:"timestamp"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.CreatedAt = time.Time{}
	if aux.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, aux.CreatedAt)
		if err != nil {
			return fmt.Errorf("parsing trial timestamp %q: %w", aux.CreatedAt, err)
		}
		t.CreatedAt = ts
	}
	return nil
}

// Class is the validator's verdict on a trial.
type Class string

const (
	ClassValid   Class = "valid"
	ClassOverfit Class = "overfit"
	ClassInvalid Class = "invalid"
)

// Verdict is a classification plus the individually enumerable reasons for it.
type Verdict struct {
	Class    Class    `json:"class"`
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ClassifiedTrial pairs a trial with its verdict.
type ClassifiedTrial struct {
	Trial   Trial   `json:"trial"`
	Verdict Verdict `json:"verdict"`
}
