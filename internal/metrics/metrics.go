// Package metrics implements Metrics & Status (spec.md §4.11): an
// explicit, instance-owned set of atomic counters and a latency
// reservoir sampler, snapshotted at up to 10 Hz into the batch-status
// object's shape.
//
// Grounded on the counter/Export shape of the teacher's package-level
// metrics.go, redesigned per spec.md §9 ("Global mutable state ->
// explicit context") as a *Metrics instance rather than package
// globals. Every batch that uses the same instance (the process-wide
// scrapectx.Context holds one) adds to the same counters.
package metrics

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const reservoirSize = 4096

// Metrics owns every counter and sample behind the status object's
// shared sections. All exported methods are safe for concurrent use.
type Metrics struct {
	total       int64
	processed   int64
	successes   int64
	errors      int64
	inProgress  int64
	peakInFlight int64
	totalRetries int64

	linksInHTML      int64
	linksAfterFilter int64
	linksSelected    int64
	companiesSeen    int64
	zeroLinkCompanies int64

	mainPageFailures int64
	subpagesAttempted int64
	subpagesOK        int64
	subpagesFailed    int64
	totalPages        int64

	mu                  sync.Mutex
	errorBreakdown      map[string]int64
	mainPageFailReasons map[string]int64
	subpageErrorBreakdown map[string]int64
	lastErrors          []LastError

	latencyMu sync.Mutex
	latencies []int64 // reservoir, bounded to reservoirSize
	latencySeen int64

	throughputMu sync.Mutex
	throughputWindow []throughputSample

	startedAt time.Time
}

// LastError is one entry in the bounded recent-error ring (spec.md
// §6's `last_errors`).
type LastError struct {
	ID    string
	URL   string
	Error string
	Time  time.Time
}

const maxLastErrors = 20

type throughputSample struct {
	at time.Time
}

// New constructs an empty Metrics instance.
func New() *Metrics {
	return &Metrics{
		errorBreakdown:        make(map[string]int64),
		mainPageFailReasons:   make(map[string]int64),
		subpageErrorBreakdown: make(map[string]int64),
		startedAt:             time.Now(),
	}
}

// IncTotal records total_companies once a batch's size is known.
func (m *Metrics) IncTotal(n int64) { atomic.AddInt64(&m.total, n) }

// StartCompany marks one company's work as in-flight.
func (m *Metrics) StartCompany() {
	cur := atomic.AddInt64(&m.inProgress, 1)
	for {
		peak := atomic.LoadInt64(&m.peakInFlight)
		if cur <= peak || atomic.CompareAndSwapInt64(&m.peakInFlight, peak, cur) {
			return
		}
	}
}

// FinishCompany records the terminal state of one company's work.
func (m *Metrics) FinishCompany(success bool, reason string) {
	atomic.AddInt64(&m.inProgress, -1)
	atomic.AddInt64(&m.processed, 1)
	if success {
		atomic.AddInt64(&m.successes, 1)
	} else {
		atomic.AddInt64(&m.errors, 1)
		if reason != "" {
			m.mu.Lock()
			m.errorBreakdown[reason]++
			m.mu.Unlock()
		}
	}

	m.throughputMu.Lock()
	m.throughputWindow = append(m.throughputWindow, throughputSample{at: time.Now()})
	m.throughputMu.Unlock()
}

// RecordRetry increments the batch-wide retry counter.
func (m *Metrics) RecordRetry() { atomic.AddInt64(&m.totalRetries, 1) }

// RecordMainPageFailure records the one-per-company main-page failure
// reason (spec.md §8 invariant 6).
func (m *Metrics) RecordMainPageFailure(reason string) {
	atomic.AddInt64(&m.mainPageFailures, 1)
	m.mu.Lock()
	m.mainPageFailReasons[reason]++
	m.mu.Unlock()
}

// RecordSubpageOutcome records one subpage fetch's outcome.
func (m *Metrics) RecordSubpageOutcome(ok bool, reason string) {
	atomic.AddInt64(&m.subpagesAttempted, 1)
	if ok {
		atomic.AddInt64(&m.subpagesOK, 1)
		return
	}
	atomic.AddInt64(&m.subpagesFailed, 1)
	if reason != "" {
		m.mu.Lock()
		m.subpageErrorBreakdown[reason]++
		m.mu.Unlock()
	}
}

// RecordPages adds one company's saved page count, feeding
// pages_per_company_avg in the status object.
func (m *Metrics) RecordPages(n int64) { atomic.AddInt64(&m.totalPages, n) }

// RecordLinks records one company's link-selection funnel.
func (m *Metrics) RecordLinks(inHTML, afterFilter, selected int) {
	atomic.AddInt64(&m.linksInHTML, int64(inHTML))
	atomic.AddInt64(&m.linksAfterFilter, int64(afterFilter))
	atomic.AddInt64(&m.linksSelected, int64(selected))
	atomic.AddInt64(&m.companiesSeen, 1)
	if selected == 0 {
		atomic.AddInt64(&m.zeroLinkCompanies, 1)
	}
}

// RecordLatency adds one company's end-to-end processing time (ms) to
// the reservoir sampler. Once the reservoir is full, later samples
// replace a uniformly random existing entry (classic reservoir
// sampling), so percentile estimates stay representative of the whole
// run without unbounded memory.
func (m *Metrics) RecordLatency(ms int64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	m.latencySeen++
	if len(m.latencies) < reservoirSize {
		m.latencies = append(m.latencies, ms)
		return
	}
	j := rand.Int63n(m.latencySeen)
	if j < reservoirSize {
		m.latencies[j] = ms
	}
}

// RecordError appends one entry to the bounded recent-error ring.
func (m *Metrics) RecordError(id, url, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErrors = append(m.lastErrors, LastError{ID: id, URL: url, Error: errMsg, Time: time.Now()})
	if len(m.lastErrors) > maxLastErrors {
		m.lastErrors = m.lastErrors[len(m.lastErrors)-maxLastErrors:]
	}
}

// LatencyStats is the processing_time_ms section of the status object.
type LatencyStats struct {
	Avg, Min, Max                             float64
	P50, P60, P70, P80, P90, P95, P99 float64
}

func (m *Metrics) latencyStats() LatencyStats {
	m.latencyMu.Lock()
	values := append([]int64(nil), m.latencies...)
	m.latencyMu.Unlock()

	if len(values) == 0 {
		return LatencyStats{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	var sum int64
	for _, v := range values {
		sum += v
	}

	pct := func(p float64) float64 {
		idx := int(p / 100 * float64(len(values)-1))
		return float64(values[idx])
	}

	return LatencyStats{
		Avg: float64(sum) / float64(len(values)),
		Min: float64(values[0]),
		Max: float64(values[len(values)-1]),
		P50: pct(50), P60: pct(60), P70: pct(70), P80: pct(80),
		P90: pct(90), P95: pct(95), P99: pct(99),
	}
}

// throughputPerMinute counts completions in the trailing 60s window.
func (m *Metrics) throughputPerMinute() float64 {
	cutoff := time.Now().Add(-60 * time.Second)
	m.throughputMu.Lock()
	defer m.throughputMu.Unlock()

	kept := m.throughputWindow[:0]
	count := 0
	for _, s := range m.throughputWindow {
		if s.at.After(cutoff) {
			kept = append(kept, s)
			count++
		}
	}
	m.throughputWindow = kept
	return float64(count)
}

// Snapshot is an immutable, point-in-time render of the status object
// (spec.md §6). Readers never block writers: Snapshot copies every
// field it needs while holding locks only briefly, then releases them.
type Snapshot struct {
	Total, Processed, SuccessCount, ErrorCount int64
	SuccessRatePct                             float64
	Remaining, InProgress, PeakInProgress      int64
	ThroughputPerMin                           float64
	ElapsedSeconds                             float64
	ProcessingTimeMS                           LatencyStats
	ErrorBreakdown                             map[string]int64
	PagesPerCompanyAvg                         float64
	TotalRetries                               int64

	LinksInHTMLTotal      int64
	LinksAfterFilter      int64
	LinksSelected         int64
	LinksPerCompanyAvg    float64
	SelectedPerCompanyAvg float64
	ZeroLinksCompanies    int64
	ZeroLinksPct          float64
	MainPageFailures      int64
	MainPageFailReasons   map[string]int64
	SubpagesAttempted     int64
	SubpagesOK            int64
	SubpagesFailed        int64
	SubpageSuccessRatePct float64
	SubpageErrorBreakdown map[string]int64

	LastErrors []LastError
}

// Snapshot computes the current status object. Intended to be called
// at up to 10 Hz by the batch status endpoint.
func (m *Metrics) Snapshot() Snapshot {
	total := atomic.LoadInt64(&m.total)
	processed := atomic.LoadInt64(&m.processed)
	successes := atomic.LoadInt64(&m.successes)
	errs := atomic.LoadInt64(&m.errors)

	var successRate float64
	if processed > 0 {
		successRate = float64(successes) / float64(processed) * 100
	}

	m.mu.Lock()
	errBreakdown := copyMap(m.errorBreakdown)
	failReasons := copyMap(m.mainPageFailReasons)
	subErrBreakdown := copyMap(m.subpageErrorBreakdown)
	lastErrors := append([]LastError(nil), m.lastErrors...)
	m.mu.Unlock()

	companiesSeen := atomic.LoadInt64(&m.companiesSeen)
	var linksPerCompany, selectedPerCompany, zeroLinksPct float64
	if companiesSeen > 0 {
		linksPerCompany = float64(atomic.LoadInt64(&m.linksAfterFilter)) / float64(companiesSeen)
		selectedPerCompany = float64(atomic.LoadInt64(&m.linksSelected)) / float64(companiesSeen)
		zeroLinksPct = float64(atomic.LoadInt64(&m.zeroLinkCompanies)) / float64(companiesSeen) * 100
	}

	subAttempted := atomic.LoadInt64(&m.subpagesAttempted)
	subOK := atomic.LoadInt64(&m.subpagesOK)
	var subSuccessRate float64
	if subAttempted > 0 {
		subSuccessRate = float64(subOK) / float64(subAttempted) * 100
	}

	var pagesPerCompany float64
	if processed > 0 {
		pagesPerCompany = float64(atomic.LoadInt64(&m.totalPages)) / float64(processed)
	}

	return Snapshot{
		Total:              total,
		Processed:          processed,
		SuccessCount:       successes,
		ErrorCount:         errs,
		SuccessRatePct:     successRate,
		Remaining:          total - processed,
		InProgress:         atomic.LoadInt64(&m.inProgress),
		PeakInProgress:     atomic.LoadInt64(&m.peakInFlight),
		ThroughputPerMin:   m.throughputPerMinute(),
		ElapsedSeconds:     time.Since(m.startedAt).Seconds(),
		ProcessingTimeMS:   m.latencyStats(),
		ErrorBreakdown:     errBreakdown,
		PagesPerCompanyAvg: pagesPerCompany,
		TotalRetries:       atomic.LoadInt64(&m.totalRetries),

		LinksInHTMLTotal:      atomic.LoadInt64(&m.linksInHTML),
		LinksAfterFilter:      atomic.LoadInt64(&m.linksAfterFilter),
		LinksSelected:         atomic.LoadInt64(&m.linksSelected),
		LinksPerCompanyAvg:    linksPerCompany,
		SelectedPerCompanyAvg: selectedPerCompany,
		ZeroLinksCompanies:    atomic.LoadInt64(&m.zeroLinkCompanies),
		ZeroLinksPct:          zeroLinksPct,
		MainPageFailures:      atomic.LoadInt64(&m.mainPageFailures),
		MainPageFailReasons:   failReasons,
		SubpagesAttempted:     subAttempted,
		SubpagesOK:            subOK,
		SubpagesFailed:        atomic.LoadInt64(&m.subpagesFailed),
		SubpageSuccessRatePct: subSuccessRate,
		SubpageErrorBreakdown: subErrBreakdown,

		LastErrors: lastErrors,
	}
}

func copyMap(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Export renders the same counters as Prometheus exposition text, for
// the /metrics scrape endpoint alongside the JSON status object.
func (m *Metrics) Export() string {
	snap := m.Snapshot()
	var b strings.Builder

	b.WriteString("# HELP scraper_companies_processed_total Companies processed\n")
	b.WriteString("# TYPE scraper_companies_processed_total counter\n")
	fmt.Fprintf(&b, "scraper_companies_processed_total %d\n", snap.Processed)

	b.WriteString("# HELP scraper_companies_success_total Companies completed successfully\n")
	b.WriteString("# TYPE scraper_companies_success_total counter\n")
	fmt.Fprintf(&b, "scraper_companies_success_total %d\n", snap.SuccessCount)

	b.WriteString("# HELP scraper_in_progress Companies currently in flight\n")
	b.WriteString("# TYPE scraper_in_progress gauge\n")
	fmt.Fprintf(&b, "scraper_in_progress %d\n", snap.InProgress)

	b.WriteString("# HELP scraper_main_page_fail_reasons_total Main-page failures by reason\n")
	b.WriteString("# TYPE scraper_main_page_fail_reasons_total counter\n")
	var reasons []string
	for r := range snap.MainPageFailReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "scraper_main_page_fail_reasons_total{reason=%q} %d\n", r, snap.MainPageFailReasons[r])
	}

	b.WriteString("# HELP scraper_subpages_total Subpage fetch outcomes\n")
	b.WriteString("# TYPE scraper_subpages_total counter\n")
	fmt.Fprintf(&b, "scraper_subpages_total{outcome=\"ok\"} %d\n", snap.SubpagesOK)
	fmt.Fprintf(&b, "scraper_subpages_total{outcome=\"failed\"} %d\n", snap.SubpagesFailed)

	return b.String()
}
