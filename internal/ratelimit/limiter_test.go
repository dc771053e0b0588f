package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitAllowsWithinBurst(t *testing.T) {
	l := New(Options{DefaultRPM: 600, BurstSize: 5})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "example.com", false))
	}
}

func TestWaitTimesOutWhenDeadlineTooShort(t *testing.T) {
	l := New(Options{DefaultRPM: 60, BurstSize: 1})
	require.NoError(t, l.Wait(context.Background(), "example.com", false))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "example.com", false)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSlowHostUsesSmallerBucket(t *testing.T) {
	l := New(Options{DefaultRPM: 6000, SlowRPM: 60, BurstSize: 1})

	require.NoError(t, l.Wait(context.Background(), "slow.com", true))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "slow.com", true)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSnapshotCounters(t *testing.T) {
	l := New(Options{DefaultRPM: 6000, BurstSize: 2})
	require.NoError(t, l.Wait(context.Background(), "example.com", false))
	require.NoError(t, l.Wait(context.Background(), "example.com", false))

	snap := l.Snapshot()
	require.Equal(t, int64(2), snap.NonThrottled)
}
