// Package cache tracks the engine's market-data cache refresh job.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spachava753/tunectl/internal/events"
	"github.com/spachava753/tunectl/internal/metrics"
	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/poller"
)

const groupKey = "cache"

// Phase is the tracker's view of the refresh job.
type Phase string

const (
	PhaseUnknown       Phase = "unknown"
	PhaseIdle          Phase = "idle"
	PhaseStarting      Phase = "starting"
	PhaseRunning       Phase = "running"
	PhaseCompleted     Phase = "completed"
	PhaseFailedToStart Phase = "failed_to_start"
	PhasePollFailed    Phase = "poll_failed"
)

// Engine is the subset of the engine API the tracker uses.
type Engine interface {
	StartCacheRefresh(ctx context.Context) (models.Ack, error)
	CacheStatus(ctx context.Context) (models.CacheStatus, error)
}

// Snapshot is the latest known state of the refresh job.
type Snapshot struct {
	Status     models.CacheStatus `json:"status"`
	Phase      Phase              `json:"phase"`
	Error      string             `json:"error,omitempty"`
	ObservedAt time.Time          `json:"observed_at"`
}

// Tracker polls the cache status for the lifetime of Run.
type Tracker struct {
	svc       Engine
	cfg       models.CacheConfig
	group     *poller.Group
	metrics   *metrics.Metrics
	publisher events.Publisher

	mu         sync.Mutex
	snap       Snapshot
	sawRunning bool
	runCtx     context.Context
}

// NewTracker creates a Tracker. group may be shared with other components;
// the tracker only uses its own key.
func NewTracker(svc Engine, cfg models.CacheConfig, group *poller.Group, m *metrics.Metrics, pub events.Publisher) *Tracker {
	if group == nil {
		group = poller.NewGroup()
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 1500
	}
	return &Tracker{
		svc:       svc,
		cfg:       cfg,
		group:     group,
		metrics:   m,
		publisher: pub,
		snap:      Snapshot{Phase: PhaseUnknown},
	}
}

// Run polls until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	t.runCtx = ctx
	t.mu.Unlock()

	t.launch(ctx)
	<-ctx.Done()
	t.group.Cancel(groupKey)
	return nil
}

// Start asks the engine to refresh the cache. It returns once the engine
// accepted the request and supersedes the current poll cycle; completion is
// observed by polling.
func (t *Tracker) Start(ctx context.Context) error {
	t.update(func(s *Snapshot) {
		s.Phase = PhaseStarting
		s.Error = ""
	})

	if _, err := t.svc.StartCacheRefresh(ctx); err != nil {
		t.update(func(s *Snapshot) {
			s.Phase = PhaseFailedToStart
			s.Error = err.Error()
		})
		t.metrics.CacheRefresh(string(PhaseFailedToStart))
		slog.Error("cache refresh failed to start", "error", err)
		return models.NewError(models.ErrTransportType, "cache", "starting cache refresh", err)
	}
	slog.Info("cache refresh started")

	// the next not-running observation reports this refresh as completed
	t.group.Cancel(groupKey)
	t.mu.Lock()
	t.sawRunning = true
	runCtx := t.runCtx
	t.mu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return nil
	}
	t.launch(runCtx)
	return nil
}

// Snapshot returns the latest known state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	s.Status.Errors = append([]string(nil), s.Status.Errors...)
	return s
}

func (t *Tracker) launch(ctx context.Context) {
	t.group.Go(ctx, groupKey, t.loop)
}

// loop runs poll cycles back to back until ctx is done. A cycle ends when
// the job is not running; the next cycle keeps watching at the same cadence.
func (t *Tracker) loop(ctx context.Context) {
	cfg := poller.Config{
		Job:        groupKey,
		IntervalMs: t.cfg.PollIntervalMs,
		Retry:      t.cfg.Retry,
	}
	for ctx.Err() == nil {
		res := poller.Poll(ctx, cfg, t.svc.CacheStatus,
			func(s models.CacheStatus) bool { return !s.IsRunning },
			t.observe)

		switch res.Outcome {
		case poller.Cancelled:
			return
		case poller.Failed:
			t.metrics.PollFailure(groupKey)
			if errors.Is(res.Err, context.Canceled) {
				return
			}
			t.update(func(s *Snapshot) {
				s.Phase = PhasePollFailed
				s.Error = res.Err.Error()
			})
		}
	}
}

func (t *Tracker) observe(status models.CacheStatus) {
	t.metrics.PollTick(groupKey)

	t.mu.Lock()
	completed := t.sawRunning && !status.IsRunning
	t.sawRunning = status.IsRunning
	t.snap.Status = status
	t.snap.ObservedAt = time.Now()
	switch {
	case status.IsRunning:
		t.snap.Phase, t.snap.Error = PhaseRunning, ""
	case completed:
		t.snap.Phase, t.snap.Error = PhaseCompleted, ""
	case t.snap.Phase == PhaseCompleted, t.snap.Phase == PhaseFailedToStart:
		// sticky until the next start
	default:
		t.snap.Phase, t.snap.Error = PhaseIdle, ""
	}
	t.mu.Unlock()

	if completed {
		t.metrics.CacheRefresh(string(PhaseCompleted))
		slog.Info("cache refresh completed", "updated", status.Updated, "skipped", status.Skipped,
			"failed", status.Failed, "file_count", status.FileCount)
		events.Emit(context.Background(), t.publisher, events.Event{
			Type:    events.CacheCompleted,
			Key:     groupKey,
			Payload: status,
		})
	}
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
}
