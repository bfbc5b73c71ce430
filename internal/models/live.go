package models

import "time"

// LiveSource records how a live configuration was chosen.
type LiveSource string

const (
	LiveFromTuning LiveSource = "tuning"
	LiveManual     LiveSource = "manual"
)

// LiveConfiguration is the parameter set treated as authoritative for
// production decisions.
type LiveConfiguration struct {
	ID         string     `json:"id,omitempty"`
	Params     Parameters `json:"params"`
	Source     LiveSource `json:"source"`
	TrialID    *int       `json:"trial_id,omitempty"`
	PromotedAt time.Time  `json:"promoted_at"`
	Notes      string     `json:"notes"`
}
