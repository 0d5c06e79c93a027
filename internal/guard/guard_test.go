package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciforge/discoveryd/internal/config"
	"github.com/sciforge/discoveryd/internal/credentials"
)

func newTestExecutor(t *testing.T, secrets []string) (*Executor, *[]time.Duration) {
	t.Helper()

	reg := credentials.NewRegistry()
	pool, err := credentials.NewPool("svc", secrets, time.Hour)
	require.NoError(t, err)
	reg.Add(pool)

	e := NewExecutor(reg, config.GuardConfig{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		CallTimeout: 45 * time.Second,
	})

	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return e, &sleeps
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	e, sleeps := newTestExecutor(t, []string{"k1"})

	calls := 0
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		calls++
		assert.Equal(t, "k1", cred.Secret())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestExecuteRotatesOnRateLimitWithoutSleeping(t *testing.T) {
	e, sleeps := newTestExecutor(t, []string{"limited", "good"})

	var used []string
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		used = append(used, cred.Secret())
		if cred.Secret() == "limited" {
			return RateLimited(errors.New("quota exceeded"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"limited", "good"}, used)
	assert.Empty(t, *sleeps, "rotation must not back off")
}

func TestExecuteBacksOffOnTransientFailures(t *testing.T) {
	e, sleeps := newTestExecutor(t, []string{"k1"})

	calls := 0
	cause := errors.New("connection reset")
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		calls++
		return Transient(cause)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *sleeps)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "svc", exhausted.Service)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, credentials.ErrPoolExhausted)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	e, sleeps := newTestExecutor(t, []string{"k1"})

	calls := 0
	cause := errors.New("invalid request body")
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		calls++
		return NonRetryable(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestExecutePropagatesPoolExhausted(t *testing.T) {
	e, _ := newTestExecutor(t, []string{"k1"})

	// Burn out the only credential, then call again.
	_ = e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		return Transient(errors.New("down"))
	})

	calls := 0
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, credentials.ErrPoolExhausted)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "pool exhaustion is not a retry budget failure")
	assert.Zero(t, calls, "no work runs without a credential")
}

func TestExecuteRecoversMidCallAfterRateLimits(t *testing.T) {
	e, sleeps := newTestExecutor(t, []string{"a", "b"})

	// Both credentials rate-limit once; with the pool empty the third
	// attempt backs off and then finds nothing, so the pool error wins.
	err := e.Execute(context.Background(), "svc", func(ctx context.Context, cred *credentials.Credential) error {
		return RateLimited(errors.New("quota exceeded"))
	})

	assert.ErrorIs(t, err, credentials.ErrPoolExhausted)
	assert.Len(t, *sleeps, 1)
}

func TestExecuteUnknownService(t *testing.T) {
	e, _ := newTestExecutor(t, []string{"k1"})

	err := e.Execute(context.Background(), "other", func(ctx context.Context, cred *credentials.Credential) error {
		return nil
	})
	assert.ErrorIs(t, err, credentials.ErrUnknownService)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	e, _ := newTestExecutor(t, []string{"k1"})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Execute(ctx, "svc", func(ctx context.Context, cred *credentials.Credential) error {
		calls++
		cancel()
		return Transient(errors.New("interrupted"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"rate limited", RateLimited(errors.New("429")), FailureRateLimited},
		{"transient", Transient(errors.New("503")), FailureTransient},
		{"non-retryable", NonRetryable(errors.New("400")), FailureNonRetryable},
		{"wrapped", errors.Join(errors.New("outer"), RateLimited(errors.New("429"))), FailureRateLimited},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"unclassified", errors.New("mystery"), FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
