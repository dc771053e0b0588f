package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	g := New(Options{GlobalConcurrency: 2, PerDomainLimit: 1})

	lease, err := g.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, lease)

	lease.Release()
	lease.Release() // idempotent
}

func TestPerHostLimitEnforced(t *testing.T) {
	g := New(Options{GlobalConcurrency: 100, PerDomainLimit: 1})

	lease1, err := g.Acquire(context.Background(), "example.com")
	require.NoError(t, err)
	defer lease1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "example.com")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestGlobalConcurrencyCap(t *testing.T) {
	g := New(Options{GlobalConcurrency: 1, PerDomainLimit: 10})

	lease1, err := g.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	defer lease1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "b.com")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestConcurrentAcquireNeverExceedsCaps(t *testing.T) {
	g := New(Options{GlobalConcurrency: 3, PerDomainLimit: 2})

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			lease, err := g.Acquire(ctx, "example.com")
			if err != nil {
				return
			}
			defer lease.Release()

			cur := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxActive, int32(3))
}

func TestMarkSlowShrinksCap(t *testing.T) {
	g := New(Options{GlobalConcurrency: 10, PerDomainLimit: 5, SlowDomainLimit: 1})
	g.MarkSlow("slow.com")
	require.True(t, g.IsSlow("slow.com"))

	lease1, err := g.Acquire(context.Background(), "slow.com")
	require.NoError(t, err)
	defer lease1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, "slow.com")
	require.ErrorIs(t, err, ErrTimeout)
}
