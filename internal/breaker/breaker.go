// Package breaker implements the per-host Circuit Breaker (spec.md
// §4.4): a three-state (CLOSED/OPEN/HALF_OPEN) breaker with
// failure-counting, timed recovery, and a bounded half-open probe
// count.
//
// Grounded on
// original_source/app/services/scraper_manager/circuit_breaker.py,
// with the HALF_OPEN -> CLOSED transition rule taken from spec.md
// §4.4 (majority of half_open_max_tests) rather than the original's
// "all tests must pass" rule — see DESIGN.md Open Question 3.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/waltagan/scraper-api/internal/hostkey"
)

// ErrOpen is returned by Allow when the breaker is OPEN or when the
// host has exhausted its half-open probe budget.
var ErrOpen = errors.New("breaker: circuit open")

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const shardCount = 64

// Options configures a Breaker.
type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMax      int
}

// Breaker tracks one DomainState per host (spec.md §3). Each host's
// state is guarded by its own mutex so that breaker transitions are
// linearisable per host without a single global lock serialising
// unrelated hosts.
type Breaker struct {
	threshold   int
	recovery    time.Duration
	halfOpenMax int

	shards [shardCount]shard

	now func() time.Time
}

type shard struct {
	mu    sync.Mutex
	hosts map[string]*circuit
}

type circuit struct {
	mu                 sync.Mutex
	state              State
	consecutiveFails   int
	openedAt           time.Time
	halfOpenInFlight   int
	halfOpenSuccesses  int
	halfOpenDecided    bool
}

// New constructs a Breaker from Options, applying spec.md §6 defaults.
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 12
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = 3
	}

	b := &Breaker{
		threshold:   opts.FailureThreshold,
		recovery:    opts.RecoveryTimeout,
		halfOpenMax: opts.HalfOpenMax,
		now:         time.Now,
	}
	for i := range b.shards {
		b.shards[i].hosts = make(map[string]*circuit)
	}
	return b
}

func (b *Breaker) circuitFor(host string) *circuit {
	sh := &b.shards[hostkey.Shard(host, shardCount)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.hosts[host]
	if !ok {
		c = &circuit{state: Closed}
		sh.hosts[host] = c
	}
	return c
}

// Allow decides whether a request to host may proceed. A CLOSED host
// is always allowed. An OPEN host is allowed only once the recovery
// timeout has elapsed, at which point the breaker transitions to
// HALF_OPEN and the call is admitted as the first probe; until that
// time, or once HalfOpenMax probes are already in flight, Allow
// returns ErrOpen (infra:circuit_open — spec.md §4.4, §7).
func (b *Breaker) Allow(host string) error {
	c := b.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(c.openedAt) >= b.recovery {
			c.state = HalfOpen
			c.halfOpenInFlight = 0
			c.halfOpenSuccesses = 0
			c.halfOpenDecided = false
		} else {
			return ErrOpen
		}
		fallthrough
	case HalfOpen:
		if c.halfOpenDecided {
			return ErrOpen
		}
		if c.halfOpenInFlight >= b.halfOpenMax {
			return ErrOpen
		}
		c.halfOpenInFlight++
		return nil
	}
	return nil
}

// ReportSuccess records a success for host. In CLOSED it resets the
// consecutive-failure counter. In HALF_OPEN it counts toward the
// ceil(HalfOpenMax/2) majority needed to close the circuit.
func (b *Breaker) ReportSuccess(host string) {
	c := b.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		c.consecutiveFails = 0
	case HalfOpen:
		if c.halfOpenDecided {
			return
		}
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= majorityOf(b.halfOpenMax) {
			c.state = Closed
			c.consecutiveFails = 0
			c.halfOpenDecided = true
		}
	}
}

// ReportFailure records a failure for host. In CLOSED it increments
// the consecutive-failure counter, opening the circuit once it reaches
// FailureThreshold. In HALF_OPEN, the first observed failure reopens
// the circuit immediately (spec.md §4.4).
func (b *Breaker) ReportFailure(host string) {
	c := b.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		c.consecutiveFails++
		if c.consecutiveFails >= b.threshold {
			c.state = Open
			c.openedAt = b.now()
		}
	case HalfOpen:
		if c.halfOpenDecided {
			return
		}
		c.state = Open
		c.openedAt = b.now()
		c.halfOpenDecided = true
	}
}

// Snapshot reports the current state of host without mutating it.
type Snapshot struct {
	State            State
	ConsecutiveFails int
	OpenedAt         time.Time
}

// Snapshot returns a point-in-time read of host's breaker state.
func (b *Breaker) Snapshot(host string) Snapshot {
	c := b.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, ConsecutiveFails: c.consecutiveFails, OpenedAt: c.openedAt}
}

func majorityOf(halfOpenMax int) int {
	return (halfOpenMax + 1) / 2
}

// GlobalStats reports how many tracked hosts currently sit in each
// breaker state, for the status endpoint's infrastructure.circuit_breaker
// section.
type GlobalStats struct {
	TotalHosts    int
	OpenHosts     int
	HalfOpenHosts int
	ClosedHosts   int
}

// Snapshot aggregates every tracked host's current state. Named
// GlobalSnapshot to avoid colliding with the per-host Snapshot method.
func (b *Breaker) GlobalSnapshot() GlobalStats {
	var st GlobalStats
	for i := range b.shards {
		b.shards[i].mu.Lock()
		for _, c := range b.shards[i].hosts {
			c.mu.Lock()
			st.TotalHosts++
			switch c.state {
			case Open:
				st.OpenHosts++
			case HalfOpen:
				st.HalfOpenHosts++
			default:
				st.ClosedHosts++
			}
			c.mu.Unlock()
		}
		b.shards[i].mu.Unlock()
	}
	return st
}
