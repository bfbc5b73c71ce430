// Package enginetest provides an in-memory engine.Service for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spachava753/tunectl/internal/engine"
	"github.com/spachava753/tunectl/internal/models"
)

// ErrUnavailable is returned by calls configured to fail.
var ErrUnavailable = errors.New("engine unavailable")

// Fake is a scriptable engine. Status sequences are consumed one element per
// call; the last element repeats once the sequence is exhausted.
type Fake struct {
	mu sync.Mutex

	// SessionID is returned by StartTuning; the engine usually omits it
	SessionID      string
	TuningStatuses []models.RunStatus
	TuningErrs     []error
	StartErr       error
	StopErr        error

	CacheStatuses []models.CacheStatus
	CacheErrs     []error
	CacheStartErr error

	HistoryEntries []models.HistoryEntry
	HistoryErr     error

	Live *models.LiveConfiguration

	// LiveErr fails live reads and writes; the others fail one side only
	LiveErr      error
	LiveReadErr  error
	LiveWriteErr error

	// WriteDelay holds live writes open to exercise concurrent promotions
	WriteDelay time.Duration

	BacktestResult models.Result
	BacktestErr    error

	Variables map[string]models.TuningVariable

	calls map[string]int
	reqs  []engine.StartTuningRequest
}

var _ engine.Service = (*Fake)(nil)

// New creates an empty Fake.
func New() *Fake {
	return &Fake{calls: make(map[string]int)}
}

// Calls returns how many times the named operation was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of operations invoked.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		n += c
	}
	return n
}

// StartRequests returns the start-tuning requests received.
func (f *Fake) StartRequests() []engine.StartTuningRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.StartTuningRequest(nil), f.reqs...)
}

// Update mutates the fake's script while holding its lock.
func (f *Fake) Update(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// SetTuningStatuses replaces the scripted tuning status sequence.
func (f *Fake) SetTuningStatuses(statuses ...models.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TuningStatuses = statuses
	f.calls["TuningStatus"] = 0
}

// SetCacheStatuses replaces the scripted cache status sequence.
func (f *Fake) SetCacheStatuses(statuses ...models.CacheStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CacheStatuses = statuses
	f.calls["CacheStatus"] = 0
}

func (f *Fake) record(op string) int {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	n := f.calls[op]
	f.calls[op] = n + 1
	return n
}

func pick[T any](seq []T, i int) (T, bool) {
	var zero T
	if len(seq) == 0 {
		return zero, false
	}
	if i >= len(seq) {
		return seq[len(seq)-1], true
	}
	return seq[i], true
}

func (f *Fake) StartTuning(ctx context.Context, req engine.StartTuningRequest) (models.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartTuning")
	f.reqs = append(f.reqs, req)
	if f.StartErr != nil {
		return models.Ack{}, f.StartErr
	}
	return models.Ack{Accepted: true, SessionID: f.SessionID}, nil
}

func (f *Fake) TuningStatus(ctx context.Context) (models.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.record("TuningStatus")
	if err, ok := pick(f.TuningErrs, i); ok && err != nil {
		return models.RunStatus{}, err
	}
	s, _ := pick(f.TuningStatuses, i)
	return s, nil
}

func (f *Fake) StopTuning(ctx context.Context) (models.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopTuning")
	if f.StopErr != nil {
		return models.Ack{}, f.StopErr
	}
	return models.Ack{Accepted: true}, nil
}

func (f *Fake) StartCacheRefresh(ctx context.Context) (models.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartCacheRefresh")
	if f.CacheStartErr != nil {
		return models.Ack{}, f.CacheStartErr
	}
	return models.Ack{Accepted: true}, nil
}

func (f *Fake) CacheStatus(ctx context.Context) (models.CacheStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.record("CacheStatus")
	if err, ok := pick(f.CacheErrs, i); ok && err != nil {
		return models.CacheStatus{}, err
	}
	s, _ := pick(f.CacheStatuses, i)
	return s, nil
}

func (f *Fake) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("History")
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	entries := f.HistoryEntries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]models.HistoryEntry(nil), entries...), nil
}

func (f *Fake) LiveConfiguration(ctx context.Context) (*models.LiveConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LiveConfiguration")
	if f.LiveReadErr != nil {
		return nil, f.LiveReadErr
	}
	if f.LiveErr != nil {
		return nil, f.LiveErr
	}
	if f.Live == nil {
		return nil, nil
	}
	live := *f.Live
	return &live, nil
}

func (f *Fake) SetLiveConfiguration(ctx context.Context, req engine.SetLiveRequest) (models.LiveConfiguration, error) {
	return f.writeLive(ctx, "SetLiveConfiguration", models.LiveConfiguration{
		Params: req.Params,
		Source: models.LiveManual,
		Notes:  req.Notes,
	})
}

func (f *Fake) PromoteLiveFromTrial(ctx context.Context, req engine.PromoteRequest) (models.LiveConfiguration, error) {
	trialID := req.TrialID
	return f.writeLive(ctx, "PromoteLiveFromTrial", models.LiveConfiguration{
		Params:  req.Params,
		Source:  models.LiveFromTuning,
		TrialID: &trialID,
		Notes:   req.Notes,
	})
}

func (f *Fake) writeLive(ctx context.Context, op string, live models.LiveConfiguration) (models.LiveConfiguration, error) {
	f.mu.Lock()
	f.record(op)
	delay, err := f.WriteDelay, f.LiveErr
	if f.LiveWriteErr != nil {
		err = f.LiveWriteErr
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.LiveConfiguration{}, ctx.Err()
		}
	}
	if err != nil {
		return models.LiveConfiguration{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	live.PromotedAt = time.Now()
	f.Live = &live
	return live, nil
}

func (f *Fake) RunBacktest(ctx context.Context, params models.Parameters) (models.BacktestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RunBacktest")
	if f.BacktestErr != nil {
		return models.BacktestRun{}, f.BacktestErr
	}
	return models.BacktestRun{Params: params, Result: f.BacktestResult, CreatedAt: time.Now()}, nil
}

func (f *Fake) TuningVariables(ctx context.Context) (map[string]models.TuningVariable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TuningVariables")
	out := make(map[string]models.TuningVariable, len(f.Variables))
	for k, v := range f.Variables {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SetTuningVariable(ctx context.Context, name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetTuningVariable")
	v, ok := f.Variables[name]
	if !ok {
		return errors.New("unknown variable " + name)
	}
	v.Enabled = enabled
	f.Variables[name] = v
	return nil
}
