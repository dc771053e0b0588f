// Package fetch implements the HTTP Fetcher (spec.md §4.5): a single
// (url, proxy, strategy, deadline) -> FetchOutcome primitive with no
// internal retry logic. Retries, rescue attempts, and strategy
// escalation are the Scrape Orchestrator's responsibility.
//
// Grounded on the net/http + goquery request shape of
// internal/scraper/scraper.go, extended with per-proxy transports,
// strategy-specific timeouts, and Accept-Encoding negotiation via
// github.com/andybalholm/brotli and github.com/klauspost/compress/gzip
// (both already depended on elsewhere in the example pack for exactly
// this purpose).
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/waltagan/scraper-api/internal/proxy"
	"github.com/waltagan/scraper-api/internal/taxonomy"
)

// maxBodyBytes caps how much of a response body the fetcher will read,
// guarding against unbounded or deliberately oversized responses.
const maxBodyBytes = 8 << 20 // 8 MiB

// softNotFoundMaxLen is the byte threshold below which a 200 response
// is checked against the soft-404 heuristics (spec.md §4.5).
const softNotFoundMaxLen = 500

var softNotFoundMarkers = []string{
	"not found",
	"página não encontrada",
	"pagina nao encontrada",
	"page not found",
	"conteúdo não encontrado",
}

// Outcome is the result of a single fetch attempt, matching spec.md
// §3's FetchOutcome data model. Exactly one of the ok-branch fields or
// Reason is meaningful, selected by Status.
type Outcome struct {
	Status     string // "ok" or "fail"
	Bytes      int
	HTTPStatus int
	FinalURL   string
	ElapsedMS  int64
	Body       []byte
	Headers    http.Header

	Reason taxonomy.Reason
}

// Request bundles a single fetch attempt's inputs.
type Request struct {
	URL      string
	Proxy    *proxy.Proxy
	Strategy Strategy
	Deadline time.Time
	Attempt  int // rotates the UA pool for the AGGRESSIVE strategy
}

// Fetcher issues single HTTP GET attempts against arbitrary hosts,
// routed through an optionally-supplied proxy, with strategy-specific
// timeouts and UA behavior. Its only per-host state is the soft-404
// cache of canonical not-found pages; all resource control
// (concurrency, rate, breaker) lives upstream of it.
type Fetcher struct {
	mu           sync.Mutex
	canonical404 map[string][]byte
}

// New constructs a Fetcher.
func New() *Fetcher {
	return &Fetcher{canonical404: make(map[string][]byte)}
}

// Fetch performs one HTTP GET per req, never retrying internally.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Outcome {
	start := time.Now()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	prof := profileFor(req.Strategy, 10*time.Second, 15*time.Second)

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: prof.connectTimeout}).DialContext,
		TLSHandshakeTimeout: prof.connectTimeout,
	}
	if req.Proxy != nil {
		proxyURL, err := url.Parse(req.Proxy.Endpoint)
		if err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   prof.connectTimeout + prof.readTimeout,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if !prof.followRedirect || len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Outcome{Status: "fail", Reason: taxonomy.ReasonProxyOther, ElapsedMS: elapsedMS(start)}
	}
	httpReq.Header.Set("User-Agent", userAgentFor(req.Strategy, req.Attempt))
	httpReq.Header.Set("Accept-Encoding", prof.acceptEncoding)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Outcome{Status: "fail", Reason: classifyTransportError(ctx, err), ElapsedMS: elapsedMS(start)}
	}
	defer resp.Body.Close()

	body, readErr := readBody(resp)
	elapsed := elapsedMS(start)

	if readErr != nil {
		return Outcome{Status: "fail", Reason: taxonomy.ReasonProxyTimeout, ElapsedMS: elapsed}
	}

	if reason, isFail := classifyStatus(resp.StatusCode); isFail {
		return Outcome{Status: "fail", Reason: reason, HTTPStatus: resp.StatusCode, ElapsedMS: elapsed}
	}

	if len(body) == 0 {
		return Outcome{Status: "fail", Reason: taxonomy.ReasonProxyEmptyResponse, HTTPStatus: resp.StatusCode, ElapsedMS: elapsed}
	}

	if f.isSoftNotFound(req.URL, body) {
		return Outcome{Status: "fail", Reason: taxonomy.ReasonProxyEmptyResponse, HTTPStatus: resp.StatusCode, ElapsedMS: elapsed}
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Outcome{
		Status:     "ok",
		Bytes:      len(body),
		HTTPStatus: resp.StatusCode,
		FinalURL:   finalURL,
		ElapsedMS:  elapsed,
		Body:       body,
		Headers:    resp.Header,
	}
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

func readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

// classifyStatus maps an HTTP status code to a failure reason. Only
// codes the taxonomy names are treated as failing; everything else
// (including redirects already resolved by the client and all 2xx/3xx
// codes) is left to the caller to treat as ok.
func classifyStatus(status int) (taxonomy.Reason, bool) {
	switch {
	case status == http.StatusForbidden:
		return taxonomy.ReasonProxyHTTP403, true
	case status == http.StatusTooManyRequests:
		return taxonomy.ReasonProxyHTTP429, true
	case status >= 500:
		return taxonomy.ReasonProxyHTTP5xx, true
	case status >= 400:
		return taxonomy.ReasonProxyOther, true
	default:
		return "", false
	}
}

// classifyTransportError maps a transport-level error into the
// taxonomy. Cancellation is reported as infra:cancelled so the
// orchestrator can tell it apart from proxy misbehavior (spec.md §7);
// an expired deadline is reported as proxy:timeout, like any other
// timeout.
func classifyTransportError(ctx context.Context, err error) taxonomy.Reason {
	if errors.Is(err, context.Canceled) {
		return taxonomy.ReasonInfraCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return taxonomy.ReasonProxyTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return taxonomy.ReasonProxyTimeout
	}

	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return taxonomy.ReasonProbeSSL
	}
	if isTLSError(err) {
		return taxonomy.ReasonProbeSSL
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return taxonomy.ReasonProxyConnection
	}

	return taxonomy.ReasonProxyConnection
}

func isTLSError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "x509:") ||
		strings.Contains(msg, "certificate")
}

// isSoftNotFound applies the soft-404 heuristics to a 200 body. A body
// shorter than softNotFoundMaxLen is a soft 404 only when it contains
// one of softNotFoundMarkers; a short body without a marker passes.
// A matching body is stored as the host's canonical 404 page, and a
// body of softNotFoundMaxLen bytes or more is flagged only when it is
// byte-identical to that stored page. Since only short bodies are
// stored, a long body is never flagged, and long bodies are not
// searched for marker phrases.
func (f *Fetcher) isSoftNotFound(rawURL string, body []byte) bool {
	host := hostOf(rawURL)

	if len(body) >= softNotFoundMaxLen {
		f.mu.Lock()
		cached, ok := f.canonical404[host]
		f.mu.Unlock()
		return ok && bytes.Equal(cached, body)
	}

	lower := strings.ToLower(string(body))
	for _, marker := range softNotFoundMarkers {
		if strings.Contains(lower, marker) {
			f.mu.Lock()
			f.canonical404[host] = append([]byte(nil), body...)
			f.mu.Unlock()
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
