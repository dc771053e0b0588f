// Package batch is the batch/company work manager. It is the seam
// between the out-of-scope batch entry API (spec.md §6) and the
// scraping fabric: one Batch owns a bounded worker pool of Orchestrator
// tasks over a list of companies, and assembles spec.md §6's stable
// status object from the fabric's metrics, gate, limiter and breaker
// snapshots.
//
// Grounded on raito/internal/crawl/jobs.go's Manager/Job pattern
// (in-memory map of ID → job, a goroutine-per-job launcher, status
// transitions guarded by a mutex), generalized from one crawl job to a
// batch of many company-scrape tasks running under a shared
// scrapectx.Context.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waltagan/scraper-api/internal/breaker"
	"github.com/waltagan/scraper-api/internal/gate"
	"github.com/waltagan/scraper-api/internal/metrics"
	"github.com/waltagan/scraper-api/internal/orchestrator"
	"github.com/waltagan/scraper-api/internal/ratelimit"
	"github.com/waltagan/scraper-api/internal/scrapectx"
	"github.com/waltagan/scraper-api/internal/searchclient"
)

// CompanyRequest is one entry of a batch entry API request (spec.md
// §6: `{registration_id, url?, trade_name?, city?}`).
type CompanyRequest struct {
	RegistrationID string
	URL            string
	TradeName      string
	City           string
}

// Status is the lifecycle state of a Batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Sink persists per-company results and periodic status snapshots.
// Implemented by internal/store; kept as an interface here so Manager
// has no direct Postgres dependency.
type Sink interface {
	SavePages(ctx context.Context, batchID, companyID string, result orchestrator.ScrapeResult) error
	SaveStatus(ctx context.Context, batchID string, snapshot metrics.Snapshot) error
}

// Batch tracks one accepted batch entry request's lifecycle.
type Batch struct {
	ID        string
	status    atomic.Value // Status
	total     int64
	processed int64
	createdAt time.Time

	mu         sync.Mutex
	lastErrors []lastError
}

type lastError struct {
	id    string
	url   string
	err   string
	at    time.Time
}

func newBatch(id string, total int) *Batch {
	b := &Batch{ID: id, total: int64(total), createdAt: time.Now()}
	b.status.Store(StatusPending)
	return b
}

func (b *Batch) setStatus(s Status) { b.status.Store(s) }
func (b *Batch) Status() Status     { return b.status.Load().(Status) }

func (b *Batch) recordError(id, url, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErrors = append(b.lastErrors, lastError{id: id, url: url, err: errMsg, at: time.Now()})
	if len(b.lastErrors) > 20 {
		b.lastErrors = b.lastErrors[len(b.lastErrors)-20:]
	}
}

// Options configures a Manager's worker pool.
type Options struct {
	Concurrency     int
	CompanyDeadline time.Duration
}

// Manager launches and tracks batches. It holds the process-wide
// scrapectx.Context (proxy pool, gate, limiter, breaker, metrics are
// shared across every batch the process ever runs — spec.md §9 Design
// Note "Global mutable state → explicit context" scopes this sharing
// to the process, not to a single batch, so the status object's
// totals/processed below are tracked per-Batch while error_breakdown,
// latency and infrastructure sections come from the shared Metrics).
type Manager struct {
	ctx     *scrapectx.Context
	orch    *orchestrator.Orchestrator
	search  searchclient.Client
	sink    Sink
	opts    Options

	mu      sync.RWMutex
	batches map[string]*Batch
}

// New constructs a Manager. sink may be nil, in which case results are
// not persisted (useful for tests or a dry-run deployment).
func New(sc *scrapectx.Context, orchCfg orchestrator.Config, search searchclient.Client, sink Sink, opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 50
	}
	if opts.CompanyDeadline <= 0 {
		opts.CompanyDeadline = 45 * time.Second
	}
	return &Manager{
		ctx:     sc,
		orch:    orchestrator.New(sc, orchCfg),
		search:  search,
		sink:    sink,
		opts:    opts,
		batches: make(map[string]*Batch),
	}
}

// Submit accepts a batch entry request, returns its id immediately and
// launches the worker pool in the background (spec.md §6: "the scraper
// returns immediately with an opaque batch_id").
func (m *Manager) Submit(ctx context.Context, requests []CompanyRequest) string {
	id := uuid.New().String()
	b := newBatch(id, len(requests))

	m.mu.Lock()
	m.batches[id] = b
	m.mu.Unlock()

	go m.run(context.Background(), b, requests)

	return id
}

// Get returns the batch for id, if known to this process.
func (m *Manager) Get(id string) (*Batch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	return b, ok
}

func (m *Manager) run(ctx context.Context, b *Batch, requests []CompanyRequest) {
	b.setStatus(StatusRunning)

	sem := make(chan struct{}, m.opts.Concurrency)
	var wg sync.WaitGroup

	for _, req := range requests {
		req := req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			m.processOne(ctx, b, req)
		}()
	}

	wg.Wait()
	b.setStatus(StatusCompleted)
	if m.sink != nil {
		m.sink.SaveStatus(ctx, b.ID, m.Snapshot(b))
	}
}

func (m *Manager) processOne(ctx context.Context, b *Batch, req CompanyRequest) {
	m.ctx.Metrics.StartCompany()

	url := req.URL
	if url == "" && m.search != nil {
		candidates, _ := m.search.FindCandidates(ctx, req.TradeName, req.City, req.RegistrationID)
		if len(candidates) > 0 {
			url = candidates[0]
		}
	}

	if url == "" {
		m.ctx.Metrics.FinishCompany(false, "scrape:error")
		b.recordError(req.RegistrationID, "", "no candidate url")
		atomic.AddInt64(&b.processed, 1)
		return
	}

	deadline := time.Now().Add(m.opts.CompanyDeadline)
	start := time.Now()
	result := m.orch.Process(ctx, orchestrator.Request{
		RegistrationID: req.RegistrationID,
		URL:            url,
		Deadline:       deadline,
	})
	m.ctx.Metrics.RecordLatency(time.Since(start).Milliseconds())
	m.ctx.Metrics.RecordPages(int64(len(result.Pages)))

	ok := result.MainPageFailReason == "" && len(result.Pages) > 0
	m.ctx.Metrics.FinishCompany(ok, string(result.MainPageFailReason))
	if !ok {
		b.recordError(req.RegistrationID, url, string(result.MainPageFailReason))
	}

	if m.sink != nil {
		if err := m.sink.SavePages(ctx, b.ID, req.RegistrationID, result); err != nil {
			b.recordError(req.RegistrationID, url, fmt.Sprintf("persist failed: %v", err))
		}
	}

	atomic.AddInt64(&b.processed, 1)
}

// Snapshot assembles spec.md §6's stable status object for b, merging
// the batch-local total/processed/last_errors with the shared fabric's
// metrics and infrastructure snapshots.
func (m *Manager) Snapshot(b *Batch) metrics.Snapshot {
	snap := m.ctx.Metrics.Snapshot()
	snap.Total = atomic.LoadInt64(&b.total)
	snap.Processed = atomic.LoadInt64(&b.processed)
	snap.Remaining = 0
	if snap.Total > snap.Processed {
		snap.Remaining = snap.Total - snap.Processed
	}

	b.mu.Lock()
	snap.LastErrors = make([]metrics.LastError, 0, len(b.lastErrors))
	for _, e := range b.lastErrors {
		snap.LastErrors = append(snap.LastErrors, metrics.LastError{
			ID:    e.id,
			URL:   e.url,
			Error: e.err,
			Time:  e.at,
		})
	}
	b.mu.Unlock()

	return snap
}

// InfraSnapshot reports the shared fabric's gate/limiter/breaker state,
// for the status object's `infrastructure` section (spec.md §6).
type InfraSnapshot struct {
	Concurrency   gate.Stats
	RateLimiter   ratelimit.Stats
	CircuitBreaker breaker.GlobalStats
	ProxyPool     proxyPoolStats
}

type proxyPoolStats struct {
	ProxiesAnalyzed int
	ProxiesActive   int
	ProxiesUnused   int
}

// ExportPrometheus renders the shared fabric's counters as Prometheus
// exposition text for the /metrics scrape endpoint.
func (m *Manager) ExportPrometheus() string {
	return m.ctx.Metrics.Export()
}

// Infra returns the current infrastructure snapshot.
func (m *Manager) Infra() InfraSnapshot {
	poolStats := m.ctx.Pool.Snapshot()
	return InfraSnapshot{
		Concurrency:    m.ctx.Gate.Snapshot(),
		RateLimiter:    m.ctx.Limiter.Snapshot(),
		CircuitBreaker: m.ctx.Breaker.GlobalSnapshot(),
		ProxyPool: proxyPoolStats{
			ProxiesAnalyzed: poolStats.ProxiesAnalyzed,
			ProxiesActive:   poolStats.ProxiesActive,
			ProxiesUnused:   poolStats.ProxiesUnused,
		},
	}
}
