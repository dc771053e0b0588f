package fetch

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/taxonomy"
)

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("<html><body>hello world</body></html>", 5)))
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "ok", out.Status)
	require.Equal(t, http.StatusOK, out.HTTPStatus)
	require.NotZero(t, out.Bytes)
}

func TestFetchGzipDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(strings.Repeat("compressed content here", 20)))
		gz.Close()
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "ok", out.Status)
	require.Contains(t, string(out.Body), "compressed content here")
}

func TestFetchHTTP500Classified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyHTTP5xx, out.Reason)
}

func TestFetchHTTP403Classified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyHTTP403, out.Reason)
}

func TestFetchHTTP429Classified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyHTTP429, out.Reason)
}

func TestFetchEmptyBodyClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyEmptyResponse, out.Reason)
}

func TestFetchSoftNotFoundMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Página não encontrada</body></html>"))
	}))
	defer srv.Close()

	f := New()
	out := f.Fetch(context.Background(), Request{URL: srv.URL, Strategy: Standard})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyEmptyResponse, out.Reason)
}

func TestFetchConnectionRefused(t *testing.T) {
	f := New()
	out := f.Fetch(context.Background(), Request{URL: "http://127.0.0.1:1", Strategy: Fast})

	require.Equal(t, "fail", out.Status)
	require.Equal(t, taxonomy.ReasonProxyConnection, out.Reason)
}

func TestFetchContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New()
	out := f.Fetch(ctx, Request{URL: srv.URL, Strategy: Fast})

	require.Equal(t, "fail", out.Status)
}
