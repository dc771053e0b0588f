// Package prober implements the URL Prober (spec.md §4.6): it fans a
// single raw URL out into up to four concrete variants and returns
// whichever resolves first.
//
// Grounded on the fan-out/first-win pattern the example pack uses
// golang.org/x/sync/errgroup for (errgroup.WithContext +
// group.Go + shared cancellation), applied here to four concurrent
// fetches instead of a worker pool.
package prober

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waltagan/scraper-api/internal/fetch"
	"github.com/waltagan/scraper-api/internal/proxy"
	"github.com/waltagan/scraper-api/internal/taxonomy"
)

// Protection is the closed set of protection classifications a site
// can be assigned by the Site Analyzer (spec.md §3).
type Protection string

const (
	ProtectionNone       Protection = "none"
	ProtectionCloudflare Protection = "cloudflare"
	ProtectionWAF        Protection = "waf"
	ProtectionCaptcha    Protection = "captcha"
	ProtectionRateLimit  Protection = "rate_limit"
	ProtectionUnknown    Protection = "unknown"
)

// Kind is the closed set of site kinds (spec.md §3).
type Kind string

const (
	KindStatic Kind = "static"
	KindSPA    Kind = "spa"
	KindHybrid Kind = "hybrid"
)

// SiteProfile describes a single URL after probing (spec.md §3).
// Invariant: Reachable implies CanonicalURL is one of the four probed
// variants.
type SiteProfile struct {
	Reachable    bool
	Protection   Protection
	Kind         Kind
	LatencyMS    int64
	CanonicalURL string
	CachedHTML   []byte
	CachedHeader map[string][]string
}

// Fail is returned when every probed variant fails.
type Fail struct {
	Reason taxonomy.Reason
}

func (f Fail) Error() string { return "prober: " + string(f.Reason) }

// Prober fans a raw URL out to its four {http,https}x{www,apex}
// variants and returns the first to succeed.
type Prober struct {
	fetcher *fetch.Fetcher
}

// New constructs a Prober around an existing Fetcher so probe fetches
// share the fetcher's soft-404 cache with main-page fetches.
func New(fetcher *fetch.Fetcher) *Prober {
	return &Prober{fetcher: fetcher}
}

type variantResult struct {
	variant string
	outcome fetch.Outcome
}

// Probe fans out up to four variants of rawURL in parallel, sharing
// one deadline, and returns the canonical URL plus a partially-built
// SiteProfile (Reachable, CanonicalURL, LatencyMS, CachedHTML,
// CachedHeader) on first success. Losing fetches are cancelled. If
// every variant fails, Probe returns a Fail carrying the most-severe
// of the four failure reasons (spec.md §4.6).
func (p *Prober) Probe(ctx context.Context, rawURL string, pr *proxy.Proxy, deadline time.Time) (SiteProfile, error) {
	variants, err := buildVariants(rawURL)
	if err != nil || len(variants) == 0 {
		return SiteProfile{}, Fail{Reason: taxonomy.ReasonProbeUnknown}
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)

	results := make(chan variantResult, len(variants))
	start := time.Now()

	for i, v := range variants {
		v := v
		i := i
		g.Go(func() error {
			out := p.fetcher.Fetch(gctx, fetch.Request{
				URL:      v,
				Proxy:    pr,
				Strategy: fetch.Fast,
				Deadline: deadline,
				Attempt:  i,
			})
			select {
			case results <- variantResult{variant: v, outcome: out}:
			case <-gctx.Done():
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	var failures []taxonomy.Reason
	for res := range results {
		if res.outcome.Status == "ok" {
			cancel() // stop the remaining in-flight fetches
			return SiteProfile{
				Reachable:    true,
				CanonicalURL: res.variant,
				LatencyMS:    time.Since(start).Milliseconds(),
				CachedHTML:   res.outcome.Body,
				CachedHeader: map[string][]string(res.outcome.Headers),
			}, nil
		}
		failures = append(failures, toProbeReason(res.outcome.Reason))
	}

	return SiteProfile{}, Fail{Reason: taxonomy.MostSevereProbeReason(failures)}
}

// toProbeReason maps a Fetcher-origin reason onto the probe-origin
// taxonomy (spec.md §4.5: TLS errors classify as probe:ssl when the
// Fetcher is invoked from the Prober).
func toProbeReason(r taxonomy.Reason) taxonomy.Reason {
	switch r {
	case taxonomy.ReasonProbeSSL, taxonomy.ReasonProxyConnection:
		return taxonomy.ReasonProbeSSL
	case taxonomy.ReasonProxyTimeout:
		return taxonomy.ReasonProbeTimeout
	case taxonomy.ReasonProxyHTTP5xx:
		return taxonomy.ReasonProbeServerError
	case taxonomy.ReasonProxyHTTP403, taxonomy.ReasonProxyHTTP429:
		return taxonomy.ReasonProbeBlocked
	default:
		return taxonomy.ReasonProbeUnknown
	}
}

// buildVariants produces the four {http,https}x{www,apex} candidates
// for rawURL, keeping its path and query, in a fixed order (https
// before http, apex before www) whatever scheme and host rawURL
// carries; a rawURL without a scheme is read as https.
func buildVariants(rawURL string) ([]string, error) {
	normalized := rawURL
	if !strings.Contains(normalized, "://") {
		normalized = "https://" + normalized
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, err
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if host == "" {
		return nil, err
	}

	variants := make([]string, 0, 4)
	for _, scheme := range []string{"https", "http"} {
		for _, h := range []string{host, "www." + host} {
			v := *u
			v.Scheme = scheme
			v.Host = h
			variants = append(variants, v.String())
		}
	}
	return variants, nil
}
