// Package scrapectx wires the fabric's shared resources — Proxy Pool,
// Concurrency Gate, Rate Limiter, Circuit Breaker, Fetcher, and
// Metrics — into one explicit struct passed to every orchestrator
// task, instead of package-level globals.
//
// Grounded on spec.md §9's design note ("Global mutable state ->
// explicit context"): the teacher repo's metrics package uses
// package-level counters, while here the fabric's state is one explicit
// value built in main (and afresh in each test). Every batch a process
// runs shares that one Context, its resources and its Metrics.
package scrapectx

import (
	"github.com/waltagan/scraper-api/internal/breaker"
	"github.com/waltagan/scraper-api/internal/fetch"
	"github.com/waltagan/scraper-api/internal/gate"
	"github.com/waltagan/scraper-api/internal/metrics"
	"github.com/waltagan/scraper-api/internal/prober"
	"github.com/waltagan/scraper-api/internal/proxy"
	"github.com/waltagan/scraper-api/internal/ratelimit"
)

// Context bundles every shared resource the Scrape Orchestrator needs
// to process one company. A single Context is shared read-only (its
// fields never change after New) across every concurrent company task
// in a batch; all mutation happens inside the resources themselves,
// each of which is already internally concurrency-safe.
type Context struct {
	Pool    *proxy.Pool
	Gate    *gate.Gate
	Limiter *ratelimit.Limiter
	Breaker *breaker.Breaker
	Fetcher *fetch.Fetcher
	Prober  *prober.Prober
	Metrics *metrics.Metrics

	SuccessfulStrategy *strategyMemo
}

// Options configures a new Context's resource sizing. Zero values fall
// through to each component's own spec.md §6 defaults.
type Options struct {
	ProxyEndpoints []string
	ProxyOptions   proxy.Options
	GateOptions    gate.Options
	LimiterOptions ratelimit.Options
	BreakerOptions breaker.Options
}

// New constructs a Context with freshly built resources, all sharing
// one Fetcher so the Prober's soft-404 cache benefits main-page
// fetches in the same run.
func New(opts Options) *Context {
	f := fetch.New()
	return &Context{
		Pool:               proxy.New(opts.ProxyEndpoints, opts.ProxyOptions),
		Gate:               gate.New(opts.GateOptions),
		Limiter:            ratelimit.New(opts.LimiterOptions),
		Breaker:            breaker.New(opts.BreakerOptions),
		Fetcher:            f,
		Prober:             prober.New(f),
		Metrics:            metrics.New(),
		SuccessfulStrategy: newStrategyMemo(),
	}
}
