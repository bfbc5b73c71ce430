package models

import "time"

// Window is the evaluation period submitted with a tuning run.
type Window struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// LookbackResult summarises the search for one lookback window.
type LookbackResult struct {
	BestParams map[string]float64 `json:"best_params"`
	BestValue  float64            `json:"best_value"`
	NTrials    int                `json:"n_trials"`
}

// RunStatus mirrors the engine's tuning job state as observed by polling.
type RunStatus struct {
	IsRunning       bool                   `json:"is_running"`
	CurrentTrial    int                    `json:"current_trial"`
	TotalTrials     int                    `json:"total_trials"`
	BestMetric      float64                `json:"best_sharpe"`
	BestParams      *Parameters            `json:"best_params"`
	Trials          []Trial                `json:"trials"`
	LookbackResults map[int]LookbackResult `json:"lookback_results,omitempty"`
}

// Ack is the engine's acceptance of a fire-and-forget request.
type Ack struct {
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// CacheStatus is the engine's market-data cache refresh state.
type CacheStatus struct {
	Exists    bool     `json:"exists"`
	FileCount int      `json:"file_count"`
	LastDate  *string  `json:"last_date"`
	IsRunning bool     `json:"is_running"`
	Progress  int      `json:"progress"`
	Total     int      `json:"total"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
	Message   string   `json:"message"`
}

// TuningVariable is one searchable dimension exposed by the engine.
type TuningVariable struct {
	Enabled     bool       `json:"enabled"`
	Range       [2]float64 `json:"range"`
	Default     float64    `json:"default"`
	Step        float64    `json:"step"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
}

// BacktestRun is a single ad-hoc backtest and its result.
type BacktestRun struct {
	Params    Parameters `json:"params"`
	Result    Result     `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
}
