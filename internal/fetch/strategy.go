package fetch

import "time"

// Strategy is one of the closed set of fetch profiles named in
// spec.md §4.5. Each bundles UA rotation behavior, header set, and
// connect/read timeouts for one HTTP attempt.
type Strategy int

const (
	Fast Strategy = iota
	Standard
	Robust
	Aggressive
)

func (s Strategy) String() string {
	switch s {
	case Fast:
		return "fast"
	case Standard:
		return "standard"
	case Robust:
		return "robust"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// profile holds the concrete settings for one Strategy.
type profile struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	rotateUA       bool
	acceptEncoding string
	followRedirect bool
}

var stableUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// aggressiveUAPool is rotated through for the AGGRESSIVE strategy, per
// spec.md §4.5 ("rotating pool of >=10 UAs").
var aggressiveUAPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edg/124.0.0.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

func profileFor(s Strategy, cfgFast, cfgSlow time.Duration) profile {
	switch s {
	case Fast:
		return profile{connectTimeout: 8 * time.Second, readTimeout: 10 * time.Second, rotateUA: false, acceptEncoding: "gzip", followRedirect: true}
	case Standard:
		return profile{connectTimeout: 10 * time.Second, readTimeout: 15 * time.Second, rotateUA: false, acceptEncoding: "gzip", followRedirect: true}
	case Robust:
		return profile{connectTimeout: 12 * time.Second, readTimeout: 20 * time.Second, rotateUA: false, acceptEncoding: "gzip, br", followRedirect: true}
	case Aggressive:
		return profile{connectTimeout: 10 * time.Second, readTimeout: 20 * time.Second, rotateUA: true, acceptEncoding: "gzip, br", followRedirect: true}
	default:
		return profile{connectTimeout: cfgFast, readTimeout: cfgSlow, rotateUA: false, acceptEncoding: "gzip", followRedirect: true}
	}
}

func userAgentFor(s Strategy, attempt int) string {
	p := profileFor(s, 0, 0)
	if !p.rotateUA {
		return stableUA
	}
	return aggressiveUAPool[attempt%len(aggressiveUAPool)]
}
