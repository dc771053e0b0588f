// Package analyzer implements the Site Analyzer (spec.md §4.7): a
// pure function over an already-fetched response that classifies
// protection and static/SPA kind. It performs no network I/O beyond
// what the Prober already did.
//
// Grounded on the header/meta inspection style of
// internal/scraper/scraper.go's goquery usage, redirected here toward
// classification instead of extraction.
package analyzer

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/waltagan/scraper-api/internal/prober"
)

// maxInspectBytes bounds how much of the body the analyzer looks at,
// per spec.md §4.7 ("first ~32 KB of HTML").
const maxInspectBytes = 32 * 1024

var captchaKeywords = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"cloudflare-challenge",
	"verifying you are human",
	"verifique que você é humano",
	"checking your browser",
}

// Analyze classifies protection and kind from the already-fetched
// response headers and body, filling in the rest of the SiteProfile
// the Prober started (spec.md §3/§4.7).
func Analyze(profile prober.SiteProfile) prober.SiteProfile {
	body := profile.CachedHTML
	if len(body) > maxInspectBytes {
		body = body[:maxInspectBytes]
	}
	lower := strings.ToLower(string(body))

	profile.Protection = classifyProtection(profile.CachedHeader, lower)
	profile.Kind = classifyKind(body, lower)
	return profile
}

func classifyProtection(headers map[string][]string, lowerBody string) prober.Protection {
	if headerContains(headers, "Cf-Ray") || headerHasValue(headers, "Server", "cloudflare") {
		if strings.Contains(lowerBody, "challenge-form") || containsAny(lowerBody, captchaKeywords) {
			return prober.ProtectionCloudflare
		}
		return prober.ProtectionCloudflare
	}
	if containsAny(lowerBody, captchaKeywords) {
		return prober.ProtectionCaptcha
	}
	if strings.Contains(lowerBody, "challenge-form") {
		return prober.ProtectionWAF
	}
	if headerHasValue(headers, "Retry-After", "") {
		return prober.ProtectionRateLimit
	}
	return prober.ProtectionNone
}

func classifyKind(body []byte, lowerBody string) prober.Kind {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return prober.KindStatic
	}

	bodyText := strings.TrimSpace(doc.Find("body").Text())
	hasSPARoot := doc.Find("#root, #app, #__next").Length() > 0

	if len(bodyText) < 200 && hasSPARoot {
		return prober.KindSPA
	}
	if len(bodyText) < 200 && doc.Find("script").Length() > 0 {
		return prober.KindSPA
	}
	if hasSPARoot && len(bodyText) < 800 {
		return prober.KindHybrid
	}
	return prober.KindStatic
}

func headerContains(headers map[string][]string, key string) bool {
	for k := range headers {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func headerHasValue(headers map[string][]string, key, substr string) bool {
	for k, values := range headers {
		if !strings.EqualFold(k, key) {
			continue
		}
		if substr == "" {
			return true
		}
		for _, v := range values {
			if strings.Contains(strings.ToLower(v), substr) {
				return true
			}
		}
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
