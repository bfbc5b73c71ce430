// Package live manages the single live parameter configuration and its audit
// trail.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/tunectl/internal/engine"
	"github.com/spachava753/tunectl/internal/events"
	"github.com/spachava753/tunectl/internal/metrics"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/util"
	"github.com/spachava753/tunectl/internal/validator"
)

// Engine is the subset of the engine API the manager writes through.
type Engine interface {
	LiveConfiguration(ctx context.Context) (*models.LiveConfiguration, error)
	SetLiveConfiguration(ctx context.Context, req engine.SetLiveRequest) (models.LiveConfiguration, error)
	PromoteLiveFromTrial(ctx context.Context, req engine.PromoteRequest) (models.LiveConfiguration, error)
}

// Manager owns the live slot. Only one mutation may be in flight.
type Manager struct {
	svc       Engine
	validator *validator.Validator
	metrics   *metrics.Metrics
	publisher events.Publisher

	pending atomic.Bool

	mu            sync.Mutex
	current       *models.LiveConfiguration
	authoritative bool
	audit         []models.LiveConfiguration // newest first
}

// NewManager creates a Manager. m and pub may be nil.
func NewManager(svc Engine, v *validator.Validator, m *metrics.Metrics, pub events.Publisher) *Manager {
	return &Manager{svc: svc, validator: v, metrics: m, publisher: pub}
}

// Current returns the live configuration, or nil when none is set. After a
// promotion the local copy is returned until Invalidate is called.
func (m *Manager) Current(ctx context.Context) (*models.LiveConfiguration, error) {
	m.mu.Lock()
	if m.authoritative {
		cur := clone(m.current)
		m.mu.Unlock()
		return cur, nil
	}
	m.mu.Unlock()

	cur, err := m.svc.LiveConfiguration(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading live configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authoritative {
		m.current = clone(cur)
	}
	return clone(m.current), nil
}

// Invalidate makes the next Current read from the engine.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authoritative = false
}

// Pending reports whether a mutation is in flight.
func (m *Manager) Pending() bool {
	return m.pending.Load()
}

// AuditTrail returns the configurations replaced so far, newest first.
func (m *Manager) AuditTrail() []models.LiveConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audit)
}

// PromoteFromTrial makes the trial's parameters live. Invalid trials are
// rejected before any engine call.
func (m *Manager) PromoteFromTrial(ctx context.Context, trial models.Trial, notes string, confirmed bool) (models.LiveConfiguration, error) {
	if !confirmed {
		return models.LiveConfiguration{}, models.NewError(models.ErrNotConfirmedType, "live", "promotion requires confirmation", nil)
	}

	verdict := m.validator.ClassifyTrial(trial).Verdict
	if !validator.Promotable(verdict) {
		m.metrics.Promotion(string(models.LiveFromTuning), "rejected")
		return models.LiveConfiguration{}, models.NewError(models.ErrDomainInvalidType, "live",
			fmt.Sprintf("trial %d is invalid: %v", trial.TrialNumber, verdict.Reasons), nil)
	}
	if verdict.Class == models.ClassOverfit {
		slog.Warn("promoting overfit trial", "trial", trial.TrialNumber, "reasons", verdict.Reasons)
	}

	req := engine.PromoteRequest{
		TrialID:  trial.TrialNumber,
		Params:   trial.Params,
		Result:   trial.Result,
		Lookback: util.FormatLookback(trial.LookbackMonths),
		Notes:    notes,
	}
	return m.write(ctx, models.LiveFromTuning, func(ctx context.Context) (models.LiveConfiguration, error) {
		live, err := m.svc.PromoteLiveFromTrial(ctx, req)
		if err != nil {
			return live, err
		}
		if live.TrialID == nil {
			id := trial.TrialNumber
			live.TrialID = &id
		}
		return live, nil
	})
}

// SetManually makes a hand-entered parameter set live.
func (m *Manager) SetManually(ctx context.Context, params models.Parameters, notes string, confirmed bool) (models.LiveConfiguration, error) {
	if !confirmed {
		return models.LiveConfiguration{}, models.NewError(models.ErrNotConfirmedType, "live", "manual change requires confirmation", nil)
	}
	if err := ValidateParameters(params); err != nil {
		return models.LiveConfiguration{}, err
	}

	req := engine.SetLiveRequest{Params: params, Notes: notes}
	return m.write(ctx, models.LiveManual, func(ctx context.Context) (models.LiveConfiguration, error) {
		return m.svc.SetLiveConfiguration(ctx, req)
	})
}

// write runs one engine mutation and, once the engine accepted it, records
// the previous configuration in the audit trail and swaps the current one.
func (m *Manager) write(ctx context.Context, source models.LiveSource, call func(context.Context) (models.LiveConfiguration, error)) (models.LiveConfiguration, error) {
	if !m.pending.CompareAndSwap(false, true) {
		return models.LiveConfiguration{}, models.NewError(models.ErrConflictType, "live", "another live change is pending", nil)
	}
	defer m.pending.Store(false)

	// the replaced configuration must be known before the engine is touched
	previous, err := m.Current(ctx)
	if err != nil {
		m.metrics.Promotion(string(source), "failed")
		return models.LiveConfiguration{}, models.NewError(models.ErrTransportType, "live",
			"reading the configuration to be replaced", err)
	}

	live, err := call(ctx)
	if err != nil {
		m.metrics.Promotion(string(source), "failed")
		return models.LiveConfiguration{}, fmt.Errorf("writing live configuration: %w", err)
	}
	if live.ID == "" {
		live.ID = uuid.NewString()
	}
	if live.PromotedAt.IsZero() {
		live.PromotedAt = time.Now()
	}
	live.Source = source

	m.mu.Lock()
	if previous != nil {
		m.audit = slices.Insert(m.audit, 0, *previous)
	}
	m.current = clone(&live)
	m.authoritative = true
	m.mu.Unlock()

	m.metrics.Promotion(string(source), "ok")
	slog.Info("live configuration changed", "source", source, "id", live.ID, "ma_period", live.Params.MAPeriod,
		"rsi_period", live.Params.RSIPeriod, "stop_loss", live.Params.StopLoss)
	events.Emit(ctx, m.publisher, events.Event{Type: events.LivePromoted, Key: "live", Payload: live})
	return live, nil
}

// ValidateParameters checks a hand-entered parameter set against the ranges
// the engine accepts. Zero max positions means the engine default.
func ValidateParameters(p models.Parameters) error {
	switch {
	case p.MAPeriod < 5 || p.MAPeriod > 200:
		return models.Validationf("ma_period %d outside [5, 200]", p.MAPeriod)
	case p.RSIPeriod < 5 || p.RSIPeriod > 30:
		return models.Validationf("rsi_period %d outside [5, 30]", p.RSIPeriod)
	case p.StopLoss < -30 || p.StopLoss > 0:
		return models.Validationf("stop_loss %g outside [-30, 0]", p.StopLoss)
	case p.MaxPositions != 0 && (p.MaxPositions < 1 || p.MaxPositions > 20):
		return models.Validationf("max_positions %d outside [1, 20]", p.MaxPositions)
	}
	return nil
}

func clone(c *models.LiveConfiguration) *models.LiveConfiguration {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
