package poller_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spachava753/tunectl/internal/models"
	"github.com/spachava753/tunectl/internal/poller"
)

func fastConfig(maxAttempts, retries int) poller.Config {
	return poller.Config{
		Job:         "test",
		IntervalMs:  1,
		MaxAttempts: maxAttempts,
		Retry: models.RetryConfig{
			MaxAttempts:    retries,
			InitialDelayMs: 1,
			MaxDelayMs:     2,
			Multiplier:     1.5,
		},
	}
}

func TestPollCompletesInFetchOrder(t *testing.T) {
	var n int
	fetch := func(ctx context.Context) (int, error) {
		n++
		return n, nil
	}

	var seen []int
	res := poller.Poll(context.Background(), fastConfig(0, 1), fetch,
		func(s int) bool { return s == 4 },
		func(s int) { seen = append(seen, s) })

	if res.Outcome != poller.Completed {
		t.Fatalf("expected completed, got %s (err %v)", res.Outcome, res.Err)
	}
	if res.Last != 4 {
		t.Errorf("expected last status 4, got %d", res.Last)
	}
	if res.Attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", res.Attempts)
	}
	for i, s := range seen {
		if s != i+1 {
			t.Fatalf("observations out of order: %v", seen)
		}
	}
}

func TestPollTimesOut(t *testing.T) {
	fetch := func(ctx context.Context) (string, error) { return "running", nil }

	res := poller.Poll(context.Background(), fastConfig(3, 1), fetch,
		func(s string) bool { return false }, nil)

	if res.Outcome != poller.TimedOut {
		t.Fatalf("expected timed_out, got %s", res.Outcome)
	}
	if res.Err != nil {
		t.Errorf("timed out is not an error, got %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if !res.Observed || res.Last != "running" {
		t.Errorf("expected last observation to be kept, got %+v", res)
	}
}

func TestPollTimesOutWithoutTrailingWait(t *testing.T) {
	cfg := fastConfig(1, 1)
	cfg.IntervalMs = 200
	fetch := func(ctx context.Context) (string, error) { return "running", nil }

	start := time.Now()
	res := poller.Poll(context.Background(), cfg, fetch,
		func(s string) bool { return false }, nil)
	elapsed := time.Since(start)

	if res.Outcome != poller.TimedOut || res.Attempts != 1 {
		t.Fatalf("expected timed_out after 1 attempt, got %s after %d", res.Outcome, res.Attempts)
	}
	if elapsed >= 350*time.Millisecond {
		t.Errorf("expected timeout right after the last attempt, took %v", elapsed)
	}
}

func TestPollStopsRetryingPastParentDeadline(t *testing.T) {
	cfg := fastConfig(0, 5)
	cfg.Retry.InitialDelayMs = 20
	cfg.Retry.MaxDelayMs = 20

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, fmt.Errorf("fetching status: %w", ctx.Err())
	}

	res := poller.Poll(ctx, cfg, fetch, func(int) bool { return false }, nil)
	if res.Outcome != poller.Cancelled {
		t.Fatalf("expected cancelled, got %s (err %v)", res.Outcome, res.Err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected no retries after the deadline, got %d fetches", n)
	}
}

func TestPollToleratesTransientErrors(t *testing.T) {
	var calls int
	fetch := func(ctx context.Context) (int, error) {
		calls++
		if calls%2 == 1 {
			return 0, errors.New("connection reset")
		}
		return calls, nil
	}

	res := poller.Poll(context.Background(), fastConfig(0, 3), fetch,
		func(s int) bool { return s >= 4 }, nil)

	if res.Outcome != poller.Completed {
		t.Fatalf("expected completed despite transient errors, got %s (err %v)", res.Outcome, res.Err)
	}
	if res.Attempts != 2 {
		t.Errorf("retries should not count as attempts, got %d", res.Attempts)
	}
}

func TestPollFailsBeyondTolerance(t *testing.T) {
	var calls int
	boom := errors.New("engine down")
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	}

	res := poller.Poll(context.Background(), fastConfig(0, 3), fetch,
		func(s int) bool { return false }, nil)

	if res.Outcome != poller.Failed {
		t.Fatalf("expected failed, got %s", res.Outcome)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected fetch error to surface, got %v", res.Err)
	}
	if calls != 3 {
		t.Errorf("expected 3 fetch calls, got %d", calls)
	}
}

func TestPollCancelStopsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var observed atomic.Int32
	fetch := func(ctx context.Context) (int, error) { return 1, nil }

	done := make(chan poller.Result[int])
	go func() {
		done <- poller.Poll(ctx, fastConfig(0, 1), fetch,
			func(int) bool { return false },
			func(int) { observed.Add(1) })
	}()

	for observed.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	res := <-done

	if res.Outcome != poller.Cancelled {
		t.Fatalf("expected cancelled, got %s", res.Outcome)
	}
	after := observed.Load()
	time.Sleep(20 * time.Millisecond)
	if observed.Load() != after {
		t.Error("observed a tick after cancellation returned")
	}
}

func TestPollNeverOverlapsFetches(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var n atomic.Int32
	fetch := func(ctx context.Context) (int32, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(3 * time.Millisecond)
		return n.Add(1), nil
	}

	poller.Poll(context.Background(), fastConfig(0, 1), fetch,
		func(s int32) bool { return s >= 5 }, nil)

	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most one fetch in flight, saw %d", maxInFlight.Load())
	}
}

func TestGroupSupersedesSameKey(t *testing.T) {
	g := poller.NewGroup()

	var mu sync.Mutex
	var exited []string

	run := func(name string) func(ctx context.Context) {
		return func(ctx context.Context) {
			<-ctx.Done()
			mu.Lock()
			exited = append(exited, name)
			mu.Unlock()
		}
	}

	g.Go(context.Background(), "cache", run("first"))
	g.Go(context.Background(), "cache", run("second"))

	mu.Lock()
	if len(exited) != 1 || exited[0] != "first" {
		t.Errorf("expected first loop to exit before second started, got %v", exited)
	}
	mu.Unlock()

	if !g.Active("cache") {
		t.Error("expected second loop to be active")
	}

	if !g.Cancel("cache") {
		t.Error("expected Cancel to report a running loop")
	}
	if g.Active("cache") {
		t.Error("expected no active loop after Cancel")
	}
	if g.Cancel("cache") {
		t.Error("expected Cancel on an idle key to report false")
	}
}

func TestGroupKeysAreIndependent(t *testing.T) {
	g := poller.NewGroup()
	block := func(ctx context.Context) { <-ctx.Done() }

	g.Go(context.Background(), "cache", block)
	g.Go(context.Background(), "tuning", block)

	g.Cancel("tuning")
	if !g.Active("cache") {
		t.Error("cancelling tuning must not stop the cache loop")
	}
	g.Cancel("cache")
}

func TestGroupReleasesFinishedLoop(t *testing.T) {
	g := poller.NewGroup()
	g.Go(context.Background(), "once", func(ctx context.Context) {})

	done := g.Done("once")
	if done != nil {
		<-done
	}
	if g.Active("once") {
		t.Error("expected finished loop to be released")
	}
}
