package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClosedAllowsUntilThreshold(t *testing.T) {
	b := New(Options{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenMax: 3})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow("example.com"))
		b.ReportFailure("example.com")
	}
	require.Equal(t, Closed, b.Snapshot("example.com").State)

	b.ReportFailure("example.com")
	require.Equal(t, Open, b.Snapshot("example.com").State)
}

func TestSingleFailureOpensWithThresholdOne(t *testing.T) {
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMax: 3})

	require.NoError(t, b.Allow("example.com"))
	b.ReportFailure("example.com")

	require.ErrorIs(t, b.Allow("example.com"), ErrOpen)
}

func TestOpenRejectsUntilRecovery(t *testing.T) {
	fakeNow := time.Now()
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond, HalfOpenMax: 2})
	b.now = func() time.Time { return fakeNow }

	require.NoError(t, b.Allow("example.com"))
	b.ReportFailure("example.com")
	require.ErrorIs(t, b.Allow("example.com"), ErrOpen)

	fakeNow = fakeNow.Add(40 * time.Millisecond)
	require.NoError(t, b.Allow("example.com")) // transitions to half-open, admits probe
	require.Equal(t, HalfOpen, b.Snapshot("example.com").State)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	fakeNow := time.Now()
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMax: 3})
	b.now = func() time.Time { return fakeNow }

	require.NoError(t, b.Allow("h"))
	b.ReportFailure("h")

	fakeNow = fakeNow.Add(10 * time.Millisecond)
	require.NoError(t, b.Allow("h"))
	b.ReportFailure("h")

	require.Equal(t, Open, b.Snapshot("h").State)
}

func TestHalfOpenMajoritySuccessCloses(t *testing.T) {
	fakeNow := time.Now()
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMax: 3})
	b.now = func() time.Time { return fakeNow }

	require.NoError(t, b.Allow("h"))
	b.ReportFailure("h")
	fakeNow = fakeNow.Add(10 * time.Millisecond)

	// majority of 3 is 2.
	require.NoError(t, b.Allow("h"))
	b.ReportSuccess("h")
	require.NoError(t, b.Allow("h"))
	b.ReportSuccess("h")

	require.Equal(t, Closed, b.Snapshot("h").State)
}

func TestHalfOpenExcessRejected(t *testing.T) {
	fakeNow := time.Now()
	b := New(Options{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMax: 1})
	b.now = func() time.Time { return fakeNow }

	require.NoError(t, b.Allow("h"))
	b.ReportFailure("h")
	fakeNow = fakeNow.Add(10 * time.Millisecond)

	require.NoError(t, b.Allow("h")) // admits the one half-open probe
	require.ErrorIs(t, b.Allow("h"), ErrOpen)
}
