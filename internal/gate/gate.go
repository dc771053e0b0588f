// Package gate implements the Concurrency Gate (spec.md §4.2): a
// global in-flight cap plus a per-host cap with a bounded acquire
// timeout, and "slow host" tracking that lowers the per-host cap.
//
// Grounded on the global/per-domain semaphore pair in
// original_source/app/services/scraper_manager/concurrency_manager.py,
// implemented with golang.org/x/sync/semaphore.Weighted (the pack's
// own dependency for exactly this primitive) instead of hand-rolled
// channels.
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/waltagan/scraper-api/internal/hostkey"
)

// ErrTimeout is returned when the deadline expires before both the
// global and per-host slots are acquired.
var ErrTimeout = errors.New("gate: acquire timeout")

const shardCount = 64

// Options configures a Gate.
type Options struct {
	GlobalConcurrency int
	PerDomainLimit    int
	SlowDomainLimit   int
}

// Gate enforces spec.md §4.2's two-tier cap. Per-host state lives in a
// sharded map guarded by per-shard mutexes so that hosts on different
// shards never contend with each other for the bookkeeping lock (the
// semaphores themselves are independent of the map lock once
// retrieved).
type Gate struct {
	global *semaphore.Weighted

	globalCapacity  int64
	inFlight        int64
	perDomainLimit  int64
	slowDomainLimit int64

	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	sem  *semaphore.Weighted
	cap  int64
	slow bool
}

// New constructs a Gate from Options, applying spec.md §6 defaults for
// any zero-valued field.
func New(opts Options) *Gate {
	if opts.GlobalConcurrency <= 0 {
		opts.GlobalConcurrency = 200
	}
	if opts.PerDomainLimit <= 0 {
		opts.PerDomainLimit = 5
	}
	if opts.SlowDomainLimit <= 0 {
		opts.SlowDomainLimit = 2
	}

	g := &Gate{
		global:          semaphore.NewWeighted(int64(opts.GlobalConcurrency)),
		globalCapacity:  int64(opts.GlobalConcurrency),
		perDomainLimit:  int64(opts.PerDomainLimit),
		slowDomainLimit: int64(opts.SlowDomainLimit),
	}
	for i := range g.shards {
		g.shards[i].hosts = make(map[string]*hostState)
	}
	return g
}

// Lease is the opaque handle returned by Acquire. Release is idempotent
// and safe to call multiple times or under defer on every exit path.
type Lease struct {
	g         *Gate
	hostSem   *semaphore.Weighted
	released  bool
	mu        sync.Mutex
}

// Release returns the held slots to both the global and per-host
// semaphores. Safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if l.hostSem != nil {
		l.hostSem.Release(1)
	}
	l.g.global.Release(1)
	atomic.AddInt64(&l.g.inFlight, -1)
}

func (g *Gate) shardFor(host string) *shard {
	return &g.shards[hostkey.Shard(host, shardCount)]
}

func (g *Gate) stateFor(host string) *hostState {
	sh := g.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	hs, ok := sh.hosts[host]
	if !ok {
		hs = &hostState{sem: semaphore.NewWeighted(g.perDomainLimit), cap: g.perDomainLimit}
		sh.hosts[host] = hs
	}
	return hs
}

// Acquire acquires a global slot, then a per-host slot for host, both
// under the same deadline (ctx). Acquisition is FIFO per host because
// semaphore.Weighted serves waiters in arrival order; no ordering is
// guaranteed across hosts. On ctx expiry before both slots are held,
// Acquire releases whatever it already holds and returns ErrTimeout.
func (g *Gate) Acquire(ctx context.Context, host string) (*Lease, error) {
	if err := g.global.Acquire(ctx, 1); err != nil {
		return nil, ErrTimeout
	}

	hs := g.stateFor(host)
	if err := hs.sem.Acquire(ctx, 1); err != nil {
		g.global.Release(1)
		return nil, ErrTimeout
	}

	atomic.AddInt64(&g.inFlight, 1)
	return &Lease{g: g, hostSem: hs.sem}, nil
}

// Stats reports the gate's global capacity and current in-flight count
// for the status endpoint's infrastructure.concurrency section.
type Stats struct {
	GlobalCapacity int64
	GlobalInFlight int64
	HostsTracked   int
}

// Snapshot returns a point-in-time read of the gate's global counters.
func (g *Gate) Snapshot() Stats {
	hosts := 0
	for i := range g.shards {
		g.shards[i].mu.Lock()
		hosts += len(g.shards[i].hosts)
		g.shards[i].mu.Unlock()
	}
	return Stats{
		GlobalCapacity: g.globalCapacity,
		GlobalInFlight: atomic.LoadInt64(&g.inFlight),
		HostsTracked:   hosts,
	}
}

// MarkSlow flags host as slow, shrinking its effective per-host cap to
// SlowDomainLimit. Slots already held against the old, larger capacity
// are unaffected until released; new acquires contend for the smaller
// capacity going forward, matching the "recreate with a smaller
// semaphore" behavior in the original concurrency manager: the host's
// semaphore is replaced at once by a new one of the smaller size, and
// leases already held keep releasing into the old one, so they do not
// count against the new cap.
func (g *Gate) MarkSlow(host string) {
	sh := g.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	hs, ok := sh.hosts[host]
	if !ok {
		sh.hosts[host] = &hostState{sem: semaphore.NewWeighted(g.slowDomainLimit), cap: g.slowDomainLimit, slow: true}
		return
	}
	if hs.slow {
		return
	}
	hs.slow = true
	hs.cap = g.slowDomainLimit
	hs.sem = semaphore.NewWeighted(g.slowDomainLimit)
}

// IsSlow reports whether host is currently flagged slow.
func (g *Gate) IsSlow(host string) bool {
	sh := g.shardFor(host)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	hs, ok := sh.hosts[host]
	return ok && hs.slow
}
