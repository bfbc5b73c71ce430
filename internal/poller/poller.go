// Package poller repeatedly fetches the status of a remote job until it
// finishes, times out, is cancelled, or keeps failing.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/spachava753/tunectl/internal/models"
)

// Outcome is the terminal state of a poll loop.
type Outcome string

const (
	Completed Outcome = "completed"
	// TimedOut means the attempt budget ran out while the job was presumably
	// still running; the caller should poll again later.
	TimedOut  Outcome = "timed_out"
	Cancelled Outcome = "cancelled"
	Failed    Outcome = "failed"
)

// Config controls the cadence and error tolerance of a poll loop.
type Config struct {
	Job         string
	IntervalMs  int
	MaxAttempts int // 0 means unlimited
	Retry       models.RetryConfig
}

// Result is reported exactly once when a poll loop terminates.
type Result[S any] struct {
	Outcome  Outcome
	Last     S
	Observed bool // at least one status was fetched
	Attempts int
	Err      error
}

// FetchFunc fetches the current job status.
type FetchFunc[S any] func(ctx context.Context) (S, error)

// Poll sleeps for the configured interval, fetches, hands the status to
// observe, and stops when isDone returns true. Fetches never overlap and
// observations arrive in fetch order. observe may be nil.
func Poll[S any](ctx context.Context, cfg Config, fetch FetchFunc[S], isDone func(S) bool, observe func(S)) Result[S] {
	var res Result[S]
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			res.Outcome = Cancelled
			return res
		case <-timer.C:
		}

		res.Attempts++

		status, err := fetchWithRetry(ctx, cfg, fetch)
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			return res
		}
		if err != nil {
			slog.Warn("poll failed", "job", cfg.Job, "attempt", res.Attempts, "error", err)
			res.Outcome = Failed
			res.Err = err
			return res
		}

		res.Last = status
		res.Observed = true
		if observe != nil {
			observe(status)
		}
		if isDone(status) {
			res.Outcome = Completed
			return res
		}
		if cfg.MaxAttempts > 0 && res.Attempts >= cfg.MaxAttempts {
			slog.Debug("poll attempts exhausted", "job", cfg.Job, "attempts", res.Attempts)
			res.Outcome = TimedOut
			return res
		}

		timer.Reset(interval)
	}
}

// fetchWithRetry retries transient fetch errors with exponential backoff.
// Retries are invisible to the caller of Poll.
func fetchWithRetry[S any](ctx context.Context, cfg Config, fetch FetchFunc[S]) (S, error) {
	tries := cfg.Retry.MaxAttempts
	if tries <= 0 {
		tries = 1
	}

	b := backoff.NewExponentialBackOff()
	if cfg.Retry.InitialDelayMs > 0 {
		b.InitialInterval = time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond
	}
	if cfg.Retry.MaxDelayMs > 0 {
		b.MaxInterval = time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
	}
	if cfg.Retry.Multiplier > 0 {
		b.Multiplier = cfg.Retry.Multiplier
	}

	return backoff.Retry(ctx, func() (S, error) {
		status, err := fetch(ctx)
		if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)) {
			return status, backoff.Permanent(err)
		}
		return status, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("poll fetch failed, retrying", "job", cfg.Job, "error", err, "wait", wait)
		}),
	)
}
