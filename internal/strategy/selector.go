// Package strategy implements the Strategy Selector (spec.md §4.8): a
// pure function from a SiteProfile's protection/kind to an ordered
// fallback list of fetch.Strategy values.
//
// Grounded on spec.md §9's "dynamic dispatch -> tagged variants" note:
// the selector switches exhaustively over two closed enumerations
// rather than dispatching through an interface hierarchy.
package strategy

import (
	"github.com/waltagan/scraper-api/internal/fetch"
	"github.com/waltagan/scraper-api/internal/prober"
)

// Plan is the Selector's output: an ordered fallback list of
// strategies to try, plus whether the site is likely terminal (no
// further escalation is expected to help) and whether the host should
// be flagged slow to the Gate/RateLimiter.
type Plan struct {
	Strategies     []fetch.Strategy
	LikelyTerminal bool
	ForceSlow      bool
}

// Select maps a SiteProfile to a Plan per spec.md §4.8's default
// table.
func Select(profile prober.SiteProfile) Plan {
	switch profile.Protection {
	case prober.ProtectionCloudflare:
		return Plan{Strategies: []fetch.Strategy{fetch.Aggressive, fetch.Robust}}
	case prober.ProtectionWAF, prober.ProtectionCaptcha:
		return Plan{Strategies: []fetch.Strategy{fetch.Aggressive}, LikelyTerminal: true}
	case prober.ProtectionRateLimit:
		return Plan{Strategies: []fetch.Strategy{fetch.Robust}, ForceSlow: true}
	}

	switch profile.Kind {
	case prober.KindSPA:
		return Plan{Strategies: []fetch.Strategy{fetch.Standard, fetch.Robust}}
	case prober.KindHybrid:
		return Plan{Strategies: []fetch.Strategy{fetch.Standard, fetch.Robust}}
	default:
		return Plan{Strategies: []fetch.Strategy{fetch.Fast, fetch.Standard}}
	}
}
