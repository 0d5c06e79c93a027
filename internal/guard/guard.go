// Package guard executes outbound calls with bounded retries, failure
// classification, credential rotation and exponential backoff. It is the
// single path between the pipeline and any quota-limited external service.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/credentials"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
	defaultCallTimeout = 45 * time.Second
)

// WorkFunc performs one attempt of a logical call using the supplied
// credential. The context carries the per-call timeout.
type WorkFunc func(ctx context.Context, cred *credentials.Credential) error

// Executor runs logical calls against named services. Safe for concurrent
// use; all shared state lives in the credential pools.
type Executor struct {
	registry    *credentials.Registry
	maxAttempts int
	baseBackoff time.Duration
	callTimeout time.Duration

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor over the credential registry. Zero config
// values fall back to the defaults (3 attempts, 2s base backoff, 45s
// per-call timeout).
func NewExecutor(registry *credentials.Registry, cfg config.GuardConfig) *Executor {
	e := &Executor{
		registry:    registry,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		callTimeout: cfg.CallTimeout,
		sleep:       sleepCtx,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.baseBackoff <= 0 {
		e.baseBackoff = defaultBaseBackoff
	}
	if e.callTimeout <= 0 {
		e.callTimeout = defaultCallTimeout
	}
	return e
}

// Execute runs work against a service until it succeeds, fails
// non-retryably, or the attempt budget is spent. Each attempt selects a
// usable credential, applies the per-call timeout, and reports the outcome
// back to the pool. A rate-limited credential rotates to the next usable
// one with no sleep; transient failures and an exhausted pool back off
// 2s, 4s, 8s. Credential state changes persist across attempts and are
// visible to concurrent callers immediately.
//
// The returned error is nil, the work's non-retryable error,
// credentials.ErrPoolExhausted, or an *ExhaustedError wrapping the last
// cause.
func (e *Executor) Execute(ctx context.Context, service string, work WorkFunc) error {
	pool, err := e.registry.Pool(service)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		cred, err := pool.Select()
		if err != nil {
			lastErr = err
			slog.Warn("no usable credential",
				"service", service,
				"attempt", attempt+1,
				"backoff", e.backoff(attempt),
			)
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err = work(callCtx, cred)
		cancel()

		if err == nil {
			pool.RecordSuccess(cred)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch Classify(err) {
		case FailureNonRetryable:
			return err

		case FailureRateLimited:
			pool.RecordFailure(cred, credentials.FailureRateLimited)
			lastErr = err
			slog.Warn("credential rate limited, rotating",
				"service", service,
				"credential", cred.ID(),
				"attempt", attempt+1,
			)
			// No sleep: the next iteration selects a different
			// credential if one is usable, and backs off via the
			// pool-exhausted branch if not.

		case FailureTransient:
			pool.RecordFailure(cred, credentials.FailureTransient)
			lastErr = err
			slog.Warn("transient failure, backing off",
				"service", service,
				"credential", cred.ID(),
				"attempt", attempt+1,
				"backoff", e.backoff(attempt),
				"error", err,
			)
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
		}
	}

	if errors.Is(lastErr, credentials.ErrPoolExhausted) {
		return lastErr
	}
	return &ExhaustedError{Service: service, Attempts: e.maxAttempts, LastCause: lastErr}
}

// backoff returns the wait for a zero-based attempt index: base, 2x, 4x...
func (e *Executor) backoff(attempt int) time.Duration {
	return e.baseBackoff << attempt
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
