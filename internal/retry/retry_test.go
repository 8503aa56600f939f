package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tablestore-io/gorange/internal/retry"
)

func TestRetryRunsExactlyMaxAttempts(t *testing.T) {
	r := retry.Start(context.Background(), retry.Options{Pause: time.Millisecond, MaxAttempts: 3})
	attempts := 0
	for r.Next() {
		attempts++
	}
	require.Equal(t, 3, attempts)
}

func TestRetryFirstAttemptDoesNotSleep(t *testing.T) {
	r := retry.Start(context.Background(), retry.Options{Pause: time.Hour, MaxAttempts: 2})
	start := time.Now()
	require.True(t, r.Next())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, 0, r.CurrentAttempt())
}

func TestRetryIsLastAttempt(t *testing.T) {
	r := retry.Start(context.Background(), retry.Options{Pause: time.Millisecond, MaxAttempts: 2})
	require.True(t, r.Next())
	require.False(t, r.IsLastAttempt())
	require.True(t, r.Next())
	require.True(t, r.IsLastAttempt())
	require.False(t, r.Next())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := retry.Start(ctx, retry.Options{Pause: time.Hour, MaxAttempts: 5})
	require.True(t, r.Next())
	cancel()
	require.False(t, r.Next())
}

func TestRetryZeroMaxAttemptsNeverRuns(t *testing.T) {
	r := retry.Start(context.Background(), retry.Options{Pause: time.Millisecond, MaxAttempts: 0})
	require.False(t, r.Next())
}
