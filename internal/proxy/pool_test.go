package proxy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBorrowReportMonotonicCounters(t *testing.T) {
	p := New([]string{"proxy1:8080", "proxy2:8080"}, Options{})

	pr := p.Borrow()
	require.NotNil(t, pr)
	require.Equal(t, int64(1), pr.Allocations())

	p.Report(pr, OutcomeSuccess)
	p.Report(pr, OutcomeFailure)

	require.GreaterOrEqual(t, pr.Allocations(), pr.successes+pr.failures)
	require.Equal(t, int64(1), pr.successes)
	require.Equal(t, int64(1), pr.failures)
}

func TestBorrowEmptyPoolReturnsNil(t *testing.T) {
	p := New([]string{"only:8080"}, Options{})
	pr := p.Borrow()
	require.NotNil(t, pr)
	pr.discarded.Store(true)

	require.Nil(t, p.Borrow())
}

func TestWeightedSelectionExcludesFloor(t *testing.T) {
	p := New([]string{"good:8080", "bad:8080"}, Options{MinSuccessRate: 0.10, MinObservations: 8})

	var good, bad *Proxy
	for _, pr := range p.proxies {
		if pr.Endpoint == "good:8080" {
			good = pr
		} else {
			bad = pr
		}
	}

	for i := 0; i < 20; i++ {
		p.Report(good, OutcomeSuccess)
		p.Report(bad, OutcomeFailure)
	}

	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		pr := p.Borrow()
		counts[pr.Endpoint]++
	}

	require.Greater(t, counts["good:8080"], counts["bad:8080"])
}

func TestConcurrentBorrowReport(t *testing.T) {
	p := New([]string{"a:1", "b:1", "c:1"}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pr := p.Borrow()
			if pr != nil {
				p.Report(pr, OutcomeCancelled)
			}
		}()
	}
	wg.Wait()

	var totalAlloc int64
	for _, pr := range p.proxies {
		totalAlloc += pr.Allocations()
		require.Equal(t, int64(0), pr.successes+pr.failures)
	}
	require.Equal(t, int64(50), totalAlloc)
}
