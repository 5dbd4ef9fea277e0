package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	p := NewLinearBackoff(time.Second)
	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 3*time.Second, p.Delay(3))
	require.Zero(t, NewLinearBackoff(0).Delay(4))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.False(t, Retryable(ctx, nil))
	require.True(t, Retryable(ctx, errors.New("boom")))
	require.True(t, Retryable(ctx, fmt.Errorf("relay: %w", context.DeadlineExceeded)),
		"a relay timeout is not the caller's deadline")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.False(t, Retryable(canceled, fmt.Errorf("wrapped: %w", context.Canceled)))
	require.False(t, Retryable(canceled, errors.New("boom")))
}

func TestProxyExhaustedError(t *testing.T) {
	t.Parallel()

	inner := errors.New("timeout")
	err := fmt.Errorf("collect: %w", &ProxyExhaustedError{
		URL: "https://example.com",
		Attempts: []*RelayError{
			{Relay: "a", Attempt: 1, Err: errors.New("503")},
			{Relay: "b", Attempt: 2, Err: inner},
		},
	})

	require.ErrorIs(t, err, ErrProxyExhausted)
	require.ErrorIs(t, err, inner)
	var exhausted *ProxyExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, "a,b", exhausted.Relays())
	require.Equal(t, "b", exhausted.Last().Relay)
	require.Contains(t, err.Error(), "after 2 attempts")
}

func TestJobUpdateApply(t *testing.T) {
	t.Parallel()

	job := Job{ID: "j", Status: JobStatusPending}
	status := JobStatusRunning
	started := time.Unix(10, 0)
	JobUpdate{
		Status:    &status,
		StartedAt: &started,
		Counters:  &JobCounters{TotalURLs: 3, ProcessedURLs: 1},
	}.Apply(&job)

	require.Equal(t, JobStatusRunning, job.Status)
	require.Equal(t, 3, job.TotalURLs)
	require.Equal(t, 1, job.ProcessedURLs)
	require.Equal(t, started, *job.StartedAt)
	require.Nil(t, job.CompletedAt)
	require.True(t, job.Status.Active())
	require.False(t, job.Status.Terminal())
}

func TestCompanyNameKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme corp", Company{Name: "  ACME \n Corp "}.NameKey())
}

func TestSettingsDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1500*time.Millisecond, Settings{DelayMs: 1500}.Delay())
	require.Zero(t, Settings{DelayMs: -1}.Delay())
	require.Equal(t, 50, DefaultSettings().ReviewLimit)
}
