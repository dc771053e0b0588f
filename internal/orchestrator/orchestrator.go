// Package orchestrator implements the Scrape Orchestrator (spec.md
// §4.10): the per-company state machine that drives probe, analyze,
// strategy selection, main-page fetch with rescue, link extraction and
// prioritisation, and batched subpage fetching into one aggregated
// ScrapeResult.
//
// Grounded on the per-job control flow of internal/jobs/runner.go
// (acquire resources, do work, record outcome, never leak a held
// resource on any exit path), generalised from that package's single
// HTTP-handler job into the full probe/analyze/fetch/extract pipeline
// named in spec.md §4.10.
package orchestrator

import (
	"context"
	"strings"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/waltagan/scraper-api/internal/analyzer"
	"github.com/waltagan/scraper-api/internal/fetch"
	"github.com/waltagan/scraper-api/internal/hostkey"
	"github.com/waltagan/scraper-api/internal/links"
	"github.com/waltagan/scraper-api/internal/prober"
	"github.com/waltagan/scraper-api/internal/proxy"
	"github.com/waltagan/scraper-api/internal/scrapectx"
	"github.com/waltagan/scraper-api/internal/strategy"
	"github.com/waltagan/scraper-api/internal/taxonomy"
)

// Page is one fetched-and-converted page in a ScrapeResult.
type Page struct {
	URL   string
	Text  string
	Bytes int
}

// SubpageStats summarises the subpage batch-fetch stage.
type SubpageStats struct {
	Attempted       int
	OK              int
	Failed          int
	ReasonHistogram map[string]int
}

// ScrapeResult is the Orchestrator's output for one company (spec.md
// §3). Exactly one of {len(Pages) > 0, MainPageFailReason != ""} holds
// (spec.md §8 invariant 6).
type ScrapeResult struct {
	Pages              []Page
	MainPageFailReason taxonomy.Reason
	SubpageStats       SubpageStats
	LinksSeen          int
	LinksSelected      int
	Retries            int
}

// Request is one company's work item (spec.md §3 CompanyWork, reduced
// to what the Orchestrator itself needs).
type Request struct {
	RegistrationID string
	URL            string
	Deadline       time.Time
}

// Config holds the tunables spec.md §6 lists for the orchestrator
// itself, as opposed to the resources in scrapectx.Context.
type Config struct {
	MaxRetries     int
	RescueMinChars int
	MaxSubpages    int
	BatchSize      int
	ProbeTimeout   time.Duration
}

func applyDefaults(c Config) Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.RescueMinChars <= 0 {
		c.RescueMinChars = 500
	}
	if c.MaxSubpages < 0 {
		c.MaxSubpages = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// Orchestrator runs the per-company pipeline against a shared
// scrapectx.Context.
type Orchestrator struct {
	ctx *scrapectx.Context
	cfg Config
}

// New constructs an Orchestrator.
func New(sc *scrapectx.Context, cfg Config) *Orchestrator {
	return &Orchestrator{ctx: sc, cfg: applyDefaults(cfg)}
}

// Process runs the full pipeline for one company and returns its
// ScrapeResult. Process never panics across company boundaries: a
// recovered panic during HTML parsing is translated to scrape:error
// (spec.md §7 "Fatal" class) and only fails that one company.
func (o *Orchestrator) Process(ctx context.Context, req Request) (result ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ScrapeResult{MainPageFailReason: taxonomy.ReasonScrapeError}
		}
	}()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	host := hostkey.Extract(req.URL)

	probeDeadline := req.Deadline
	if probeDeadline.IsZero() || time.Until(probeDeadline) > o.cfg.ProbeTimeout {
		probeDeadline = time.Now().Add(o.cfg.ProbeTimeout)
	}

	probeProxy := o.ctx.Pool.Borrow()
	profile, err := o.ctx.Prober.Probe(ctx, req.URL, probeProxy, probeDeadline)
	if err != nil {
		reason := taxonomy.ReasonProbeUnknown
		if pf, ok := err.(prober.Fail); ok {
			reason = pf.Reason
		}
		return ScrapeResult{MainPageFailReason: reason}
	}

	profile = analyzer.Analyze(profile)
	plan := strategy.Select(profile)
	if plan.ForceSlow {
		o.ctx.Gate.MarkSlow(host)
	}

	mainHTML, mainURL, mainReason, retries := o.fetchMainPage(ctx, host, profile, plan, req.Deadline)
	result.Retries = retries
	req.URL = mainURL

	if mainHTML == nil {
		o.ctx.Metrics.RecordMainPageFailure(string(mainReason))
		result.MainPageFailReason = mainReason
		return result
	}

	mainText := toText(mainHTML, req.URL)
	linkList, linksAfterFilter := o.extractLinks(mainHTML, req.URL)
	result.LinksSeen = linksAfterFilter
	result.LinksSelected = len(linkList)
	o.ctx.Metrics.RecordLinks(linksAfterFilter, linksAfterFilter, len(linkList))

	if len(strings.TrimSpace(mainText)) < o.cfg.RescueMinChars && len(linkList) > 0 {
		if rescued, rescuedURL, ok := o.rescue(ctx, host, linkList, req.Deadline); ok {
			mainText = rescued
			result.Pages = append(result.Pages, Page{URL: rescuedURL, Text: rescued, Bytes: len(rescued)})
		}
	}

	if len(result.Pages) == 0 {
		result.Pages = append(result.Pages, Page{URL: req.URL, Text: mainText, Bytes: len(mainText)})
	}

	result.SubpageStats = o.fetchSubpages(ctx, host, linkList, req.Deadline, &result)
	return result
}

// fetchMainPage tries the Selector's strategy list in order, at most
// MaxRetries+1 attempts per strategy with a fresh proxy each time. If
// the Prober already returned an exploitable body, that is used
// directly with zero extra network I/O (spec.md §4.10). Returns the
// body, the URL it was actually fetched from, the failure reason (set
// when every strategy and its retries were exhausted, or at once when
// an attempt fails with an infra-origin reason), and the number of
// retries consumed.
func (o *Orchestrator) fetchMainPage(ctx context.Context, host string, profile prober.SiteProfile, plan strategy.Plan, deadline time.Time) ([]byte, string, taxonomy.Reason, int) {
	if len(profile.CachedHTML) > 0 {
		return profile.CachedHTML, profile.CanonicalURL, "", 0
	}

	retries := 0
	var lastReason taxonomy.Reason = taxonomy.ReasonScrapeError

	remembered, hasRemembered := o.ctx.SuccessfulStrategy.Get(host)

	for i, strat := range plan.Strategies {
		if i == 0 && hasRemembered {
			strat = remembered
		}
		for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				retries++
				o.ctx.Metrics.RecordRetry()
			}
			out := o.attempt(ctx, host, profile.CanonicalURL, strat, deadline)
			if out.Status == "ok" {
				o.ctx.SuccessfulStrategy.Remember(host, strat)
				return out.Body, out.FinalURL, "", retries
			}
			lastReason = out.Reason
			if taxonomy.IsInfra(out.Reason) {
				return nil, "", lastReason, retries
			}
		}
	}
	return nil, "", lastReason, retries
}

func toText(body []byte, baseURL string) string {
	converter := htmlmd.NewConverter(hostkey.Extract(baseURL), true, nil)
	md, err := converter.ConvertString(string(body))
	if err != nil {
		return string(body)
	}
	return md
}

func (o *Orchestrator) extractLinks(body []byte, baseURL string) ([]string, int) {
	all, err := links.Extract(body, baseURL, 0)
	if err != nil {
		return nil, 0
	}
	selected := all
	if len(selected) > o.cfg.MaxSubpages {
		selected = selected[:o.cfg.MaxSubpages]
	}
	return selected, len(all)
}

func (o *Orchestrator) rescue(ctx context.Context, host string, candidates []string, deadline time.Time) (string, string, bool) {
	limit := 3
	if len(candidates) < limit {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		out := o.attempt(ctx, host, candidates[i], fetch.Standard, deadline)
		if out.Status == "ok" {
			text := toText(out.Body, candidates[i])
			if len(strings.TrimSpace(text)) >= o.cfg.RescueMinChars {
				return text, candidates[i], true
			}
		}
	}
	return "", "", false
}

func (o *Orchestrator) fetchSubpages(ctx context.Context, host string, urls []string, deadline time.Time, result *ScrapeResult) SubpageStats {
	stats := SubpageStats{ReasonHistogram: make(map[string]int)}

	for start := 0; start < len(urls); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batchProxy := o.ctx.Pool.Borrow()

		for _, u := range urls[start:end] {
			stats.Attempted++
			out := o.attemptWithProxy(ctx, host, u, fetch.Standard, deadline, batchProxy)
			if out.Status == "ok" {
				stats.OK++
				text := toText(out.Body, u)
				result.Pages = append(result.Pages, Page{URL: u, Text: text, Bytes: len(text)})
				o.ctx.Metrics.RecordSubpageOutcome(true, "")
			} else {
				stats.Failed++
				stats.ReasonHistogram[string(out.Reason)]++
				o.ctx.Metrics.RecordSubpageOutcome(false, string(out.Reason))
			}
		}
	}
	return stats
}

// attempt runs the full resource chain (Gate -> Breaker -> RateLimiter
// -> borrow a fresh proxy -> Fetch -> report outcome) for one URL.
func (o *Orchestrator) attempt(ctx context.Context, host, url string, strat fetch.Strategy, deadline time.Time) fetch.Outcome {
	return o.attemptWithProxy(ctx, host, url, strat, deadline, nil)
}

// attemptWithProxy is like attempt but uses pr if non-nil instead of
// borrowing a new proxy (spec.md §4.10: subpages in one mini-batch
// share a proxy).
func (o *Orchestrator) attemptWithProxy(ctx context.Context, host, rawURL string, strat fetch.Strategy, deadline time.Time, pr *proxy.Proxy) fetch.Outcome {
	lease, err := o.ctx.Gate.Acquire(ctx, host)
	if err != nil {
		return fetch.Outcome{Status: "fail", Reason: taxonomy.ReasonInfraConcurrency}
	}
	defer lease.Release()

	if err := o.ctx.Breaker.Allow(host); err != nil {
		return fetch.Outcome{Status: "fail", Reason: taxonomy.ReasonInfraCircuitOpen}
	}

	if err := o.ctx.Limiter.Wait(ctx, host, o.ctx.Gate.IsSlow(host)); err != nil {
		return fetch.Outcome{Status: "fail", Reason: taxonomy.ReasonInfraRateLimit}
	}

	borrowed := pr
	if borrowed == nil {
		borrowed = o.ctx.Pool.Borrow()
		if borrowed == nil && o.ctx.Pool.Configured() > 0 {
			return fetch.Outcome{Status: "fail", Reason: taxonomy.ReasonProxyConnection}
		}
	}

	out := o.ctx.Fetcher.Fetch(ctx, fetch.Request{URL: rawURL, Proxy: borrowed, Strategy: strat, Deadline: deadline})

	if borrowed != nil {
		switch {
		case out.Status == "ok":
			o.ctx.Pool.Report(borrowed, proxy.OutcomeSuccess)
		case taxonomy.IsInfra(out.Reason):
			o.ctx.Pool.Report(borrowed, proxy.OutcomeCancelled)
		default:
			o.ctx.Pool.Report(borrowed, proxy.OutcomeFailure)
		}
	}

	switch {
	case out.Status == "ok":
		o.ctx.Breaker.ReportSuccess(host)
	case taxonomy.IsInfra(out.Reason):
		// infra-origin failures never reached the network; they do not
		// count against the breaker.
	default:
		o.ctx.Breaker.ReportFailure(host)
	}

	return out
}
