// Package history combines the trials merged during this session with the
// engine's durable backtest history.
package history

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/tunectl/internal/metrics"
	"github.com/spachava753/tunectl/internal/models"
)

// DefaultCapacity is the size of the local tier.
const DefaultCapacity = 50

// Remote reads the engine's durable history.
type Remote interface {
	History(ctx context.Context, limit int) ([]models.HistoryEntry, error)
}

// Merger holds the local tier and reads the remote tier on demand.
type Merger struct {
	remote   Remote
	limit    int
	capacity int
	metrics  *metrics.Metrics

	mu    sync.Mutex
	local []models.HistoryEntry // newest first
	keys  map[string]struct{}
	now   func() time.Time
}

// NewMerger creates a Merger. Non-positive capacity and limit fall back to
// DefaultCapacity.
func NewMerger(remote Remote, cfg models.HistoryConfig, m *metrics.Metrics) *Merger {
	capacity := cfg.LocalCapacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	limit := cfg.RemoteLimit
	if limit <= 0 {
		limit = DefaultCapacity
	}
	return &Merger{
		remote:   remote,
		limit:    limit,
		capacity: capacity,
		metrics:  m,
		keys:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// Append adds the trials of a tuning run to the local tier. Trials already
// present under (runID, trial number) are skipped, so re-appending is a no-op.
// It returns the number of entries added.
func (m *Merger) Append(runID string, trials []models.ClassifiedTrial) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var added int
	for _, ct := range trials {
		verdict := ct.Verdict
		number := ct.Trial.TrialNumber
		entry := models.HistoryEntry{
			ID:          uuid.NewString(),
			RunID:       runID,
			TrialNumber: &number,
			Kind:        models.KindTuning,
			Source:      models.SourceLocal,
			Trial:       ct.Trial,
			Verdict:     &verdict,
			RecordedAt:  now,
		}
		if entry.Trial.CreatedAt.IsZero() {
			entry.Trial.CreatedAt = now
		}
		if m.insert(entry) {
			added++
		}
	}

	m.metrics.SetLocalHistory(len(m.local))
	if added > 0 {
		slog.Debug("merged trials into local history", "run_id", runID, "added", added, "size", len(m.local))
	}
	return added
}

// AppendBacktest records a single ad-hoc backtest. An older local entry with
// the same parameter fingerprint is superseded.
func (m *Merger) AppendBacktest(run models.BacktestRun, verdict *models.Verdict) models.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := run.CreatedAt
	if recorded.IsZero() {
		recorded = m.now()
	}
	entry := models.HistoryEntry{
		ID:         uuid.NewString(),
		Kind:       models.KindSingle,
		Source:     models.SourceLocal,
		Verdict:    verdict,
		RecordedAt: recorded,
		Trial: models.Trial{
			LookbackMonths: run.Params.LookbackMonths,
			Params:         run.Params,
			Result:         run.Result,
			CreatedAt:      recorded,
		},
	}

	fp := run.Params.Fingerprint()
	m.local = slices.DeleteFunc(m.local, func(e models.HistoryEntry) bool {
		if e.Kind == models.KindSingle && e.Trial.Params.Fingerprint() == fp {
			delete(m.keys, e.Key())
			return true
		}
		return false
	})
	m.insert(entry)
	m.metrics.SetLocalHistory(len(m.local))
	return entry
}

// insert puts e at the head of the local tier, evicting the oldest entry
// once the tier is full. Caller holds mu.
func (m *Merger) insert(e models.HistoryEntry) bool {
	key := e.Key()
	if _, ok := m.keys[key]; ok {
		return false
	}
	m.local = slices.Insert(m.local, 0, e)
	m.keys[key] = struct{}{}

	for len(m.local) > m.capacity {
		oldest := m.local[len(m.local)-1]
		m.local = m.local[:len(m.local)-1]
		delete(m.keys, oldest.Key())
	}
	return true
}

// Local returns a copy of the local tier, newest first.
func (m *Merger) Local() []models.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.local)
}

// List returns remote and local entries merged, newest first. The remote
// entry wins when both tiers hold the same key. A remote failure degrades to
// the local tier alone.
func (m *Merger) List(ctx context.Context) []models.HistoryEntry {
	remote, err := m.RefreshFromRemote(ctx)
	if err != nil {
		slog.Warn("remote history unavailable, serving local entries only",
			"error", models.NewError(models.ErrStaleReadType, "history", "reading remote history", err))
		remote = nil
	}
	return Merge(remote, m.Local())
}

// RefreshFromRemote returns the remote tier alone.
func (m *Merger) RefreshFromRemote(ctx context.Context) ([]models.HistoryEntry, error) {
	if m.remote == nil {
		return nil, nil
	}
	return m.remote.History(ctx, m.limit)
}

// Merge combines two tiers, preferring remote on duplicate keys, and orders
// the result newest first. Entries recorded at the same instant keep their
// remote-then-local order.
//
// Local tuning entries carry the run id tunectl assigned, which need not be
// the engine's session id, and remote rows may lack a trial number. A local
// tuning entry without an exact key match is therefore also matched against
// an unclaimed remote tuning row with the same configuration; each remote
// row absorbs at most one local entry.
func Merge(remote, local []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote)+len(local))
	unclaimed := make(map[string]int)
	for _, e := range remote {
		key := e.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if e.Kind == models.KindTuning {
			unclaimed[e.RunFingerprint()]++
		}
		out = append(out, e)
	}

	var pending []models.HistoryEntry
	for _, e := range local {
		key := e.Key()
		if _, ok := seen[key]; ok {
			if e.Kind == models.KindTuning {
				unclaimed[e.RunFingerprint()]--
			}
			continue
		}
		seen[key] = struct{}{}
		pending = append(pending, e)
	}
	for _, e := range pending {
		if e.Kind == models.KindTuning {
			fp := e.RunFingerprint()
			if unclaimed[fp] > 0 {
				unclaimed[fp]--
				continue
			}
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b models.HistoryEntry) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	return out
}

// Best returns the entry with the highest Sharpe ratio among entries whose
// verdict is not invalid.
func Best(entries []models.HistoryEntry) (models.HistoryEntry, bool) {
	var (
		best  models.HistoryEntry
		found bool
	)
	for _, e := range entries {
		if e.Verdict != nil && e.Verdict.Class == models.ClassInvalid {
			continue
		}
		if !found || cmp.Compare(e.Trial.Result.SharpeRatio, best.Trial.Result.SharpeRatio) > 0 {
			best, found = e, true
		}
	}
	return best, found
}

// FindTrial returns the local entry for trial n of run runID. An empty runID
// matches the most recent run holding trial n.
func (m *Merger) FindTrial(runID string, n int) (models.HistoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.local {
		if e.Kind != models.KindTuning || e.TrialNumber == nil || *e.TrialNumber != n {
			continue
		}
		if runID == "" || e.RunID == runID {
			return e, true
		}
	}
	return models.HistoryEntry{}, false
}
