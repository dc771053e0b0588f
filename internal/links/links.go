// Package links implements the Link Extractor & Prioritiser (spec.md
// §4.9): parses a fetched page's HTML, keeps only same-registrable-
// domain links, and orders them by a keyword-weighted priority score.
//
// Grounded on internal/scraper/scraper.go's goquery link-walking
// (doc.Find("a[href]"), href resolution against the base URL), adapted
// here toward filtering and ranking instead of metadata capture.
package links

import (
	"bytes"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxDepth = 3

var keywordWeights = map[string]int{
	"about":      10,
	"sobre":      10,
	"empresa":    9,
	"quem-somos": 9,
	"produtos":   7,
	"products":   7,
	"services":   7,
	"servicos":   7,
	"contato":    6,
	"contact":    6,
	"portfolio":  5,
	"clientes":   5,
}

var blockedHosts = map[string]bool{
	"facebook.com":  true,
	"instagram.com": true,
	"linkedin.com":  true,
	"twitter.com":   true,
	"x.com":         true,
	"youtube.com":   true,
	"tiktok.com":    true,
	"wa.me":         true,
	"whatsapp.com":  true,
	"g.page":        true,
	"maps.google.com": true,
	"goo.gl":        true,
}

var nonHTMLExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".svg": true, ".zip": true, ".rar": true, ".mp4": true, ".mp3": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".css": true,
	".js": true, ".webp": true, ".ico": true,
}

// Extract parses body (resolved against baseURL) and returns the
// subset of discovered links that belong to the same registrable
// domain as baseURL, ordered by priority score descending (ties
// broken by shorter path), capped at maxSubpages.
func Extract(body []byte, baseURL string, maxSubpages int) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	registrable := registrableDomain(base.Hostname())

	type candidate struct {
		url   string
		score int
		path  string
	}
	seen := make(map[string]bool)
	var candidates []candidate

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}

		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if !linkURL.IsAbs() {
			linkURL = base.ResolveReference(linkURL)
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""

		if registrableDomain(linkURL.Hostname()) != registrable {
			return
		}
		if blockedHosts[strings.TrimPrefix(linkURL.Hostname(), "www.")] {
			return
		}
		if nonHTMLExtensions[strings.ToLower(path.Ext(linkURL.Path))] {
			return
		}
		if depthOf(linkURL.Path) > maxDepth {
			return
		}

		// Drop query-only diffs against the base URL.
		normalized := linkURL.Scheme + "://" + linkURL.Host + linkURL.Path
		if normalized == base.Scheme+"://"+base.Host+base.Path {
			return
		}

		final := linkURL.String()
		if seen[final] {
			return
		}
		seen[final] = true

		candidates = append(candidates, candidate{
			url:   final,
			score: scoreOf(linkURL.Path),
			path:  linkURL.Path,
		})
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return len(candidates[i].path) < len(candidates[j].path)
	})

	if maxSubpages > 0 && len(candidates) > maxSubpages {
		candidates = candidates[:maxSubpages]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out, nil
}

func scoreOf(urlPath string) int {
	lower := strings.ToLower(urlPath)
	score := 0
	for kw, weight := range keywordWeights {
		if strings.Contains(lower, kw) {
			score += weight
		}
	}
	return score
}

func depthOf(urlPath string) int {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

// registrableDomain returns the last two labels of host (e.g.
// "a.b.example.co.uk" -> "example.co.uk" is not handled precisely for
// multi-part public suffixes; this mirrors the "example.co.uk, not
// a.b.example.co.uk" illustration in spec.md §GLOSSARY without a full
// public-suffix-list dependency).
func registrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
