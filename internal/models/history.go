package models

import (
	"fmt"
	"time"
)

// Source tags where a history entry came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// RunKind distinguishes tuning trials from single backtests.
type RunKind string

const (
	KindTuning RunKind = "tuning"
	KindSingle RunKind = "single"
)

// HistoryEntry is a trial or single backtest annotated with its provenance.
type HistoryEntry struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	TrialNumber *int      `json:"trial_number,omitempty"`
	Kind        RunKind   `json:"kind"`
	Source      Source    `json:"source"`
	Trial       Trial     `json:"trial"`
	Verdict     *Verdict  `json:"verdict,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Key returns the deduplication key: (run id, trial number) when both are
// present, otherwise the entry id. Trial number 0 is a present number.
func (e HistoryEntry) Key() string {
	if e.RunID != "" && e.TrialNumber != nil {
		return fmt.Sprintf("%s#%d", e.RunID, *e.TrialNumber)
	}
	return "id:" + e.ID
}

// RunFingerprint identifies the configuration a tuning trial evaluated,
// including the trial's lookback, independent of run id namespaces.
func (e HistoryEntry) RunFingerprint() string {
	p := e.Trial.Params
	if e.Trial.LookbackMonths != 0 {
		p.LookbackMonths = e.Trial.LookbackMonths
	}
	return string(e.Kind) + "|" + p.Fingerprint()
}
