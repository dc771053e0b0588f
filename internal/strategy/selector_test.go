package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/fetch"
	"github.com/waltagan/scraper-api/internal/prober"
)

func TestSelectStaticNoProtection(t *testing.T) {
	plan := Select(prober.SiteProfile{Protection: prober.ProtectionNone, Kind: prober.KindStatic})
	require.Equal(t, []fetch.Strategy{fetch.Fast, fetch.Standard}, plan.Strategies)
	require.False(t, plan.LikelyTerminal)
}

func TestSelectSPA(t *testing.T) {
	plan := Select(prober.SiteProfile{Protection: prober.ProtectionNone, Kind: prober.KindSPA})
	require.Equal(t, []fetch.Strategy{fetch.Standard, fetch.Robust}, plan.Strategies)
}

func TestSelectCloudflare(t *testing.T) {
	plan := Select(prober.SiteProfile{Protection: prober.ProtectionCloudflare})
	require.Equal(t, []fetch.Strategy{fetch.Aggressive, fetch.Robust}, plan.Strategies)
}

func TestSelectWAFIsTerminal(t *testing.T) {
	plan := Select(prober.SiteProfile{Protection: prober.ProtectionWAF})
	require.True(t, plan.LikelyTerminal)
	require.Equal(t, []fetch.Strategy{fetch.Aggressive}, plan.Strategies)
}

func TestSelectRateLimitForcesSlow(t *testing.T) {
	plan := Select(prober.SiteProfile{Protection: prober.ProtectionRateLimit})
	require.True(t, plan.ForceSlow)
	require.Equal(t, []fetch.Strategy{fetch.Robust}, plan.Strategies)
}
