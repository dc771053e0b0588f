package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/fetch"
)

func TestProbeFirstSuccessWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>hello there, plenty of content here</body></html>"))
	}))
	defer srv.Close()

	p := New(fetch.New())
	profile, err := p.Probe(context.Background(), srv.URL, nil, time.Now().Add(5*time.Second))

	require.NoError(t, err)
	require.True(t, profile.Reachable)
	require.NotEmpty(t, profile.CanonicalURL)
	require.NotEmpty(t, profile.CachedHTML)
}

func TestProbeAllFailReturnsMostSevere(t *testing.T) {
	p := New(fetch.New())
	_, err := p.Probe(context.Background(), "http://127.0.0.1:1", nil, time.Now().Add(2*time.Second))

	require.Error(t, err)
	var fail Fail
	require.ErrorAs(t, err, &fail)
}

func TestBuildVariantsProducesFour(t *testing.T) {
	variants, err := buildVariants("example.com/about")
	require.NoError(t, err)
	require.Len(t, variants, 4)
}
