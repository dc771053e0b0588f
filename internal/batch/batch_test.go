package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/metrics"
	"github.com/waltagan/scraper-api/internal/orchestrator"
	"github.com/waltagan/scraper-api/internal/scrapectx"
	"github.com/waltagan/scraper-api/internal/searchclient"
)

const samplePage = `<!doctype html><html><body><h1>Acme Ltda</h1><p>We sell widgets.</p></body></html>`

type recordingSink struct {
	mu     sync.Mutex
	pages  int
	status []metrics.Snapshot
}

func (s *recordingSink) SavePages(_ context.Context, _, _ string, result orchestrator.ScrapeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages += len(result.Pages)
	return nil
}

func (s *recordingSink) SaveStatus(_ context.Context, _ string, snap metrics.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, snap)
	return nil
}

func newTestManager(t *testing.T, sink Sink) (*Manager, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	t.Cleanup(srv.Close)

	sc := scrapectx.New(scrapectx.Options{})
	m := New(sc, orchestrator.Config{}, searchclient.NewNoop(), sink, Options{Concurrency: 4, CompanyDeadline: 5 * time.Second})
	return m, srv
}

func TestSubmitRunsAllCompaniesAndCompletes(t *testing.T) {
	sink := &recordingSink{}
	m, srv := newTestManager(t, sink)

	id := m.Submit(context.Background(), []CompanyRequest{
		{RegistrationID: "1", URL: srv.URL},
		{RegistrationID: "2", URL: srv.URL},
		{RegistrationID: "3", URL: srv.URL},
	})

	b, ok := m.Get(id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return b.Status() == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	snap := m.Snapshot(b)
	require.Equal(t, int64(3), snap.Total)
	require.Equal(t, int64(3), snap.Processed)
	require.Equal(t, int64(0), snap.Remaining)
}

func TestSubmitUnknownBatchNotFound(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, ok := m.Get("does-not-exist")
	require.False(t, ok)
}

func TestProcessOneRecordsErrorWhenNoCandidateURL(t *testing.T) {
	m, _ := newTestManager(t, nil)

	id := m.Submit(context.Background(), []CompanyRequest{
		{RegistrationID: "no-url"},
	})
	b, ok := m.Get(id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return b.Status() == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	snap := m.Snapshot(b)
	require.Len(t, snap.LastErrors, 1)
	require.Equal(t, "no-url", snap.LastErrors[0].ID)
}

func TestProcessOneFeedsLatencyAndPageMetrics(t *testing.T) {
	sink := &recordingSink{}
	m, srv := newTestManager(t, sink)

	id := m.Submit(context.Background(), []CompanyRequest{
		{RegistrationID: "1", URL: srv.URL},
	})
	b, ok := m.Get(id)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return b.Status() == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	snap := m.Snapshot(b)
	require.Greater(t, snap.ProcessingTimeMS.Max, float64(0))
	require.Greater(t, snap.PagesPerCompanyAvg, float64(0))
}

func TestInfraReportsGateAndBreakerSnapshots(t *testing.T) {
	m, _ := newTestManager(t, nil)
	infra := m.Infra()
	require.GreaterOrEqual(t, infra.Concurrency.GlobalCapacity, int64(0))
	require.Equal(t, 0, infra.CircuitBreaker.TotalHosts)
}
