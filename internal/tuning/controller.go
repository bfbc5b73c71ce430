// Package tuning drives one parameter-search run on the engine from start to
// the merge of its classified trials into history.
package tuning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/tunectl/internal/engine"
	"github.com/spachava753/tunectl/internal/events"
	"github.com/spachava753/tunectl/internal/metrics"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/poller"
	"github.com/spachava753/tunectl/internal/validator"
)

const (
	groupKey   = "tuning"
	dateLayout = "2006-01-02"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateCompleting State = "completing"
	StateStopping   State = "stopping"
	StateFailed     State = "failed"
)

// Engine is the subset of the engine API the controller uses.
type Engine interface {
	StartTuning(ctx context.Context, req engine.StartTuningRequest) (models.Ack, error)
	TuningStatus(ctx context.Context) (models.RunStatus, error)
	StopTuning(ctx context.Context) (models.Ack, error)
}

// History receives the classified trials of a completed run.
type History interface {
	Append(runID string, trials []models.ClassifiedTrial) int
}

// Progress is the part of the engine status that changes while a run is
// going.
type Progress struct {
	CurrentTrial int                `json:"current_trial"`
	TotalTrials  int                `json:"total_trials"`
	BestMetric   float64            `json:"best_sharpe"`
	BestParams   *models.Parameters `json:"best_params,omitempty"`
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	State     State                    `json:"state"`
	RunID     string                   `json:"run_id,omitempty"`
	Budget    int                      `json:"budget,omitempty"`
	Window    models.Window            `json:"window"`
	Progress  Progress                 `json:"progress"`
	Trials    []models.ClassifiedTrial `json:"trials,omitempty"`
	Error     *models.Error            `json:"error,omitempty"`
	StartedAt time.Time                `json:"started_at,omitzero"`
	UpdatedAt time.Time                `json:"updated_at,omitzero"`
}

// Controller owns the single tuning run slot.
type Controller struct {
	svc       Engine
	cfg       models.TuningConfig
	validator *validator.Validator
	history   History
	group     *poller.Group
	metrics   *metrics.Metrics
	publisher events.Publisher

	mu        sync.Mutex
	state     State
	runID     string
	budget    int
	window    models.Window
	progress  Progress
	trials    []models.ClassifiedTrial
	lastErr   *models.Error
	visited   map[int]struct{}
	startedAt time.Time
	updatedAt time.Time
	done      chan struct{} // closed when the run leaves Running
}

// NewController creates an idle Controller.
func NewController(svc Engine, cfg models.TuningConfig, v *validator.Validator, h History, group *poller.Group, m *metrics.Metrics, pub events.Publisher) *Controller {
	if group == nil {
		group = poller.NewGroup()
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 2000
	}
	c := &Controller{
		svc:       svc,
		cfg:       cfg,
		validator: v,
		history:   h,
		group:     group,
		metrics:   m,
		publisher: pub,
		state:     StateIdle,
	}
	m.SetRunState(string(StateIdle))
	return c
}

// Start validates the request, asks the engine to start the search and
// begins polling. Bad input is rejected before any engine call.
func (c *Controller) Start(ctx context.Context, budget int, window models.Window) (models.Ack, error) {
	if budget < c.cfg.MinTrials || budget > c.cfg.MaxTrials {
		return models.Ack{}, models.Validationf("trial budget %d outside [%d, %d]", budget, c.cfg.MinTrials, c.cfg.MaxTrials)
	}
	if err := ValidateWindow(window); err != nil {
		return models.Ack{}, err
	}

	c.mu.Lock()
	switch c.state {
	case StateIdle, StateFailed:
	default:
		state := c.state
		c.mu.Unlock()
		return models.Ack{}, models.NewError(models.ErrConflictType, "tuning", fmt.Sprintf("run already %s", state), nil)
	}
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	ack, err := c.svc.StartTuning(ctx, engine.StartTuningRequest{
		Trials:    budget,
		StartDate: window.StartDate,
		EndDate:   window.EndDate,
	})
	if err != nil {
		c.mu.Lock()
		if c.state == StateStarting {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
		slog.Error("tuning run failed to start", "budget", budget, "error", err)
		return models.Ack{}, fmt.Errorf("starting tuning run: %w", err)
	}

	runID := ack.SessionID
	if runID == "" {
		runID = uuid.NewString()
	}

	c.mu.Lock()
	if c.state != StateStarting {
		c.mu.Unlock()
		slog.Warn("tuning run stopped while starting", "run_id", runID)
		return ack, nil
	}
	now := time.Now()
	c.runID = runID
	c.budget = budget
	c.window = window
	c.progress = Progress{TotalTrials: budget}
	c.trials = nil
	c.lastErr = nil
	c.visited = make(map[int]struct{})
	c.startedAt, c.updatedAt = now, now
	c.done = make(chan struct{})
	c.setStateLocked(StateRunning)
	c.mu.Unlock()

	slog.Info("tuning run started", "run_id", runID, "budget", budget,
		"start_date", window.StartDate, "end_date", window.EndDate)

	c.group.Go(context.WithoutCancel(ctx), groupKey, func(ctx context.Context) {
		c.poll(ctx, runID)
	})

	ack.SessionID = runID
	return ack, nil
}

// Stop cancels polling, returns the controller to Idle and then asks the
// engine to stop. The state is Idle even when the engine call fails.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	prev := c.state
	if prev == StateIdle {
		c.mu.Unlock()
		return nil
	}
	runID := c.runID
	c.runID = ""
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.group.Cancel(groupKey)

	c.mu.Lock()
	c.finishLocked(StateIdle)
	c.mu.Unlock()
	slog.Info("tuning run stopped", "run_id", runID, "previous_state", prev)

	if prev != StateRunning && prev != StateStarting {
		return nil
	}
	events.Emit(ctx, c.publisher, events.Event{Type: events.TuningStopped, Key: runID})
	if _, err := c.svc.StopTuning(ctx); err != nil {
		slog.Warn("engine stop request failed", "run_id", runID, "error", err)
		return fmt.Errorf("stopping tuning run: %w", err)
	}
	return nil
}

// Close cancels polling without contacting the engine.
func (c *Controller) Close() {
	c.group.Cancel(groupKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning || c.state == StateStarting {
		c.finishLocked(StateIdle)
	}
}

// Wait blocks until the current run leaves Running or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:     c.state,
		RunID:     c.runID,
		Budget:    c.budget,
		Window:    c.window,
		Progress:  c.progress,
		Trials:    append([]models.ClassifiedTrial(nil), c.trials...),
		StartedAt: c.startedAt,
		UpdatedAt: c.updatedAt,
	}
	if c.lastErr != nil {
		e := *c.lastErr
		s.Error = &e
	}
	return s
}

func (c *Controller) poll(ctx context.Context, runID string) {
	cfg := poller.Config{
		Job:         groupKey,
		IntervalMs:  c.cfg.PollIntervalMs,
		MaxAttempts: c.cfg.MaxPollAttempts,
		Retry:       c.cfg.Retry,
	}
	for {
		res := poller.Poll(ctx, cfg, c.svc.TuningStatus,
			func(s models.RunStatus) bool { return !s.IsRunning },
			func(s models.RunStatus) { c.tick(runID, s) })

		switch res.Outcome {
		case poller.Completed:
			c.complete(ctx, runID, res.Last)
			return
		case poller.TimedOut:
			slog.Debug("tuning poll cycle exhausted, re-arming", "run_id", runID, "attempts", res.Attempts)
		case poller.Cancelled:
			return
		case poller.Failed:
			c.fail(ctx, runID, res.Err)
			return
		}
	}
}

// tick records progress only; trials are handled once the run finishes.
func (c *Controller) tick(runID string, s models.RunStatus) {
	c.metrics.PollTick(groupKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != runID || c.state != StateRunning {
		return
	}
	c.progress = Progress{
		CurrentTrial: s.CurrentTrial,
		TotalTrials:  s.TotalTrials,
		BestMetric:   s.BestMetric,
		BestParams:   s.BestParams,
	}
	c.updatedAt = time.Now()
	c.metrics.SetBestSharpe(s.BestMetric)
	slog.Debug("tuning progress", "run_id", runID, "trial", s.CurrentTrial, "total", s.TotalTrials, "best_sharpe", s.BestMetric)
}

func (c *Controller) complete(ctx context.Context, runID string, final models.RunStatus) {
	c.mu.Lock()
	if c.runID != runID || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateCompleting)
	fresh := make([]models.Trial, 0, len(final.Trials))
	for _, t := range final.Trials {
		if _, seen := c.visited[t.TrialNumber]; seen {
			continue
		}
		c.visited[t.TrialNumber] = struct{}{}
		fresh = append(fresh, t)
	}
	c.mu.Unlock()

	now := time.Now()
	classified := make([]models.ClassifiedTrial, 0, len(fresh))
	counts := make(map[models.Class]int, 3)
	for _, t := range fresh {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		ct := c.validator.ClassifyTrial(t)
		classified = append(classified, ct)
		counts[ct.Verdict.Class]++
		c.metrics.Classified(string(ct.Verdict.Class))
	}

	added := 0
	if c.history != nil {
		added = c.history.Append(runID, classified)
	}

	c.mu.Lock()
	if c.runID == runID {
		c.trials = append(c.trials, classified...)
		c.progress = Progress{
			CurrentTrial: final.CurrentTrial,
			TotalTrials:  final.TotalTrials,
			BestMetric:   final.BestMetric,
			BestParams:   final.BestParams,
		}
		c.updatedAt = now
		c.finishLocked(StateIdle)
	}
	c.mu.Unlock()

	slog.Info("tuning run completed", "run_id", runID, "trials", len(classified), "merged", added,
		"valid", counts[models.ClassValid], "overfit", counts[models.ClassOverfit], "invalid", counts[models.ClassInvalid],
		"best_sharpe", final.BestMetric)
	events.Emit(ctx, c.publisher, events.Event{
		Type: events.TuningCompleted,
		Key:  runID,
		Payload: map[string]any{
			"trials":      len(classified),
			"valid":       counts[models.ClassValid],
			"overfit":     counts[models.ClassOverfit],
			"invalid":     counts[models.ClassInvalid],
			"best_sharpe": final.BestMetric,
			"best_params": final.BestParams,
		},
	})
}

func (c *Controller) fail(ctx context.Context, runID string, err error) {
	c.metrics.PollFailure(groupKey)

	c.mu.Lock()
	if c.runID != runID || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	progress := c.progress
	jobErr := models.NewError(models.TypeOf(err), groupKey,
		fmt.Sprintf("polling failed at trial %d/%d", progress.CurrentTrial, progress.TotalTrials), err)
	if jobErr.Type == models.ErrInternalType {
		jobErr.Type = models.ErrTransportType
	}
	c.lastErr = jobErr
	c.updatedAt = time.Now()
	c.finishLocked(StateFailed)
	c.mu.Unlock()

	slog.Error("tuning run failed", "run_id", runID, "trial", progress.CurrentTrial,
		"total", progress.TotalTrials, "error", err)
	events.Emit(ctx, c.publisher, events.Event{Type: events.TuningFailed, Key: runID, Payload: jobErr})
}

// finishLocked leaves the running states. Caller holds mu.
func (c *Controller) finishLocked(state State) {
	c.setStateLocked(state)
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}

func (c *Controller) setStateLocked(state State) {
	c.state = state
	c.metrics.SetRunState(string(state))
}

// ValidateWindow accepts an empty window (engine default) or two dates in
// YYYY-MM-DD form with the end not before the start.
func ValidateWindow(w models.Window) error {
	if w.StartDate == "" && w.EndDate == "" {
		return nil
	}
	start, err := time.Parse(dateLayout, w.StartDate)
	if err != nil {
		return models.Validationf("malformed start date %q", w.StartDate)
	}
	end, err := time.Parse(dateLayout, w.EndDate)
	if err != nil {
		return models.Validationf("malformed end date %q", w.EndDate)
	}
	if end.Before(start) {
		return models.Validationf("end date %s before start date %s", w.EndDate, w.StartDate)
	}
	return nil
}
