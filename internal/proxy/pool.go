// Package proxy implements the Proxy Pool (spec.md §4.1): proxy
// health-checking at startup and weighted-random allocation based on
// each proxy's observed success rate.
//
// Grounded on the pool/quarantine shape of
// original_source/app/services/scraper_manager/proxy_manager.py,
// redesigned per spec.md §4.1 to select by weighted-random over
// success rate rather than quarantine-and-skip.
package proxy

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome is the tri-state result of a borrowed proxy's use. A
// cancelled outcome is reported separately from success/failure so
// that requests aborted by a deadline do not degrade the proxy's
// success-rate weighting (spec.md §9 Open Question 1, DESIGN.md).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeCancelled
)

// Proxy is one pool member. Identity fields never change after
// construction; the counters are monotonic for the lifetime of the
// process (spec.md §3).
type Proxy struct {
	ID       string
	Endpoint string

	allocations int64
	successes   int64
	failures    int64
	discarded   atomic.Bool
}

// SuccessRate returns successes / max(1, successes+failures).
func (p *Proxy) SuccessRate() float64 {
	s := atomic.LoadInt64(&p.successes)
	f := atomic.LoadInt64(&p.failures)
	total := s + f
	if total == 0 {
		return 0
	}
	return float64(s) / float64(total)
}

// Observations returns the number of reported (non-cancelled) outcomes.
func (p *Proxy) Observations() int64 {
	return atomic.LoadInt64(&p.successes) + atomic.LoadInt64(&p.failures)
}

// Allocations returns the number of times this proxy was handed out by
// Borrow, whether or not an outcome was ever reported for it. Report
// raises it where needed so it is never below successes+failures.
func (p *Proxy) Allocations() int64 {
	return atomic.LoadInt64(&p.allocations)
}

// Discarded reports whether the proxy was dropped during the
// startup health check.
func (p *Proxy) Discarded() bool {
	return p.discarded.Load()
}

// Pool holds every configured proxy, health-checks them at startup,
// and routes Borrow calls via weighted-random selection over observed
// success rate (spec.md §4.1). Proxy counters are owned exclusively by
// the Pool; everything else only reads them through this package's
// exported accessors.
type Pool struct {
	minSuccessRate  float64
	minObservations int64

	mu      sync.RWMutex
	proxies []*Proxy
	byID    map[string]*Proxy
}

// Options configures a new Pool.
type Options struct {
	// MinSuccessRate is the floor below which a proxy (once it has at
	// least MinObservations reported outcomes) is excluded from
	// selection weights. Default 0.10 per spec.md §6.
	MinSuccessRate float64
	// MinObservations is the number of reported outcomes a proxy must
	// accumulate before the floor is enforced. Default 8.
	MinObservations int
}

// New constructs a Pool from a list of proxy endpoints. Proxies are
// not health-checked until HealthCheck is called.
func New(endpoints []string, opts Options) *Pool {
	if opts.MinSuccessRate <= 0 {
		opts.MinSuccessRate = 0.10
	}
	if opts.MinObservations <= 0 {
		opts.MinObservations = 8
	}

	p := &Pool{
		minSuccessRate:  opts.MinSuccessRate,
		minObservations: int64(opts.MinObservations),
		byID:            make(map[string]*Proxy, len(endpoints)),
	}
	for _, ep := range endpoints {
		pr := &Proxy{ID: uuid.New().String(), Endpoint: ep}
		p.proxies = append(p.proxies, pr)
		p.byID[pr.ID] = pr
	}
	return p
}

// HealthCheck probes every proxy in parallel against target with the
// given per-proxy timeout and marks unreachable proxies as discarded.
// A proxy is considered dead if the probe times out or the proxy
// itself answers with a 5xx status (spec.md §4.1).
func (p *Pool) HealthCheck(ctx context.Context, target string, timeout time.Duration) {
	p.mu.RLock()
	proxies := append([]*Proxy(nil), p.proxies...)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, pr := range proxies {
		wg.Add(1)
		go func(pr *Proxy) {
			defer wg.Done()
			if !probeProxy(ctx, pr.Endpoint, target, timeout) {
				pr.discarded.Store(true)
			}
		}(pr)
	}
	wg.Wait()
}

func probeProxy(ctx context.Context, endpoint, target string, timeout time.Duration) bool {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := &http.Transport{}
	if proxyURL, err := parseProxyURL(endpoint); err == nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		return false
	}
	client := &http.Client{Transport: transport, Timeout: timeout}

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// Borrow selects a proxy via weighted-random over success rate.
// Proxies with at least MinObservations reported outcomes and a
// success rate below MinSuccessRate are excluded from the weighting.
// Unobserved proxies get a neutral weight of 0.5. If no proxy carries
// positive weight, Borrow falls back to a uniformly random active
// proxy. Borrow never blocks on pool emptiness; an empty active set
// returns nil and callers must treat that as proxy:connection
// (spec.md B4).
func (p *Pool) Borrow() *Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	active := make([]*Proxy, 0, len(p.proxies))
	weights := make([]float64, 0, len(p.proxies))
	var totalWeight float64

	for _, pr := range p.proxies {
		if pr.Discarded() {
			continue
		}
		active = append(active, pr)

		w := 0.0
		if pr.Observations() < p.minObservations || pr.SuccessRate() >= p.minSuccessRate {
			w = math.Max(1e-6, pr.SuccessRate())
			if pr.Observations() == 0 {
				// Unobserved proxies get a neutral weight so they are
				// sampled enough to accumulate observations.
				w = 0.5
			}
		}
		weights = append(weights, w)
		totalWeight += w
	}

	if len(active) == 0 {
		return nil
	}

	if totalWeight <= 0 {
		chosen := active[rand.Intn(len(active))]
		atomic.AddInt64(&chosen.allocations, 1)
		return chosen
	}

	r := rand.Float64() * totalWeight
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			atomic.AddInt64(&active[i].allocations, 1)
			return active[i]
		}
	}
	// Floating point rounding fallback.
	chosen := active[len(active)-1]
	atomic.AddInt64(&chosen.allocations, 1)
	return chosen
}

// Configured returns the number of proxies the pool was constructed
// with, regardless of discard state. Callers use this to distinguish
// "no proxies configured, fetch directly" from "every proxy died in
// health check, fail fast" (spec.md B4).
func (p *Pool) Configured() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}

// Report records the outcome of a previously borrowed proxy.
// OutcomeCancelled is recorded only against allocations: it never
// moves successes or failures, so cancelled requests do not degrade a
// proxy's weighting (spec.md §5, §9 Open Question 1). A proxy reused
// for several requests (one borrow per subpage mini-batch) reports more
// outcomes than it had allocations; Report then raises allocations so
// they never fall below successes+failures.
func (p *Pool) Report(pr *Proxy, outcome Outcome) {
	if pr == nil {
		return
	}
	switch outcome {
	case OutcomeSuccess:
		atomic.AddInt64(&pr.successes, 1)
	case OutcomeFailure:
		atomic.AddInt64(&pr.failures, 1)
	case OutcomeCancelled:
		// allocations already incremented by Borrow; nothing else to do.
		return
	}
	for {
		alloc := atomic.LoadInt64(&pr.allocations)
		obs := pr.Observations()
		if alloc >= obs || atomic.CompareAndSwapInt64(&pr.allocations, alloc, obs) {
			return
		}
	}
}

// Stats summarises pool-wide observability (spec.md §4.1).
type Stats struct {
	ProxiesAnalyzed int
	ProxiesUnused   int // discarded during health check
	ProxiesActive   int
	Buckets         [6]int // 0-10,10-30,30-50,50-70,70-90,90-100 % success rate
	StdDev          float64
	P10, P25, P50, P75, P90 float64
	Worst5, Best5   []string
}

// Snapshot computes a Stats summary over the current proxy set.
func (p *Pool) Snapshot() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Stats{ProxiesAnalyzed: len(p.proxies)}

	type rated struct {
		id   string
		rate float64
	}
	var rates []rated

	for _, pr := range p.proxies {
		if pr.Discarded() {
			st.ProxiesUnused++
			continue
		}
		st.ProxiesActive++
		rate := pr.SuccessRate() * 100
		rates = append(rates, rated{pr.ID, rate})
		bucketInto(&st.Buckets, rate)
	}

	if len(rates) == 0 {
		return st
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i].rate < rates[j].rate })

	values := make([]float64, len(rates))
	var sum float64
	for i, r := range rates {
		values[i] = r.rate
		sum += r.rate
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	st.StdDev = math.Sqrt(variance)

	st.P10 = percentile(values, 10)
	st.P25 = percentile(values, 25)
	st.P50 = percentile(values, 50)
	st.P75 = percentile(values, 75)
	st.P90 = percentile(values, 90)

	n := 5
	if n > len(rates) {
		n = len(rates)
	}
	for i := 0; i < n; i++ {
		st.Worst5 = append(st.Worst5, rates[i].id)
		st.Best5 = append(st.Best5, rates[len(rates)-1-i].id)
	}

	return st
}

func bucketInto(buckets *[6]int, rate float64) {
	switch {
	case rate < 10:
		buckets[0]++
	case rate < 30:
		buckets[1]++
	case rate < 50:
		buckets[2]++
	case rate < 70:
		buckets[3]++
	case rate < 90:
		buckets[4]++
	default:
		buckets[5]++
	}
}

// percentile computes a simple linear-interpolation percentile over a
// pre-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
