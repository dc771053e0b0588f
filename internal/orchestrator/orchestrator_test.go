package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/breaker"
	"github.com/waltagan/scraper-api/internal/gate"
	"github.com/waltagan/scraper-api/internal/ratelimit"
	"github.com/waltagan/scraper-api/internal/scrapectx"
)

func newTestContext() *scrapectx.Context {
	return scrapectx.New(scrapectx.Options{
		GateOptions:    gate.Options{GlobalConcurrency: 50, PerDomainLimit: 10},
		LimiterOptions: ratelimit.Options{DefaultRPM: 6000, BurstSize: 100},
		BreakerOptions: breaker.Options{FailureThreshold: 12, RecoveryTimeout: time.Minute, HalfOpenMax: 3},
	})
}

func TestProcessHappyPath(t *testing.T) {
	page := strings.Repeat("<p>Empresa de soluções industriais para o mercado B2B brasileiro. ", 40) + `</p>
		<a href="/sobre">Sobre</a><a href="/contato">Contato</a><a href="/produtos">Produtos</a>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + page + "</body></html>"))
	}))
	defer srv.Close()

	sc := newTestContext()
	o := New(sc, Config{MaxSubpages: 5})

	result := o.Process(context.Background(), Request{RegistrationID: "1", URL: srv.URL, Deadline: time.Now().Add(10 * time.Second)})

	require.Empty(t, result.MainPageFailReason)
	require.NotEmpty(t, result.Pages)
	require.Equal(t, 3, result.SubpageStats.Attempted)
	require.Equal(t, 3, result.SubpageStats.OK)
}

func TestProcessDeadHostSetsMainPageFailReason(t *testing.T) {
	sc := newTestContext()
	o := New(sc, Config{ProbeTimeout: time.Second})

	result := o.Process(context.Background(), Request{RegistrationID: "1", URL: "http://127.0.0.1:1", Deadline: time.Now().Add(5 * time.Second)})

	require.NotEmpty(t, result.MainPageFailReason)
	require.Empty(t, result.Pages)
}

func TestProcessMaxSubpagesZeroAttemptsNone(t *testing.T) {
	page := strings.Repeat("substantial marketing copy about the company and its services. ", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + page + `<a href="/sobre">Sobre</a></body></html>`))
	}))
	defer srv.Close()

	sc := newTestContext()
	o := New(sc, Config{MaxSubpages: 0})

	result := o.Process(context.Background(), Request{RegistrationID: "1", URL: srv.URL, Deadline: time.Now().Add(10 * time.Second)})

	require.Equal(t, 0, result.SubpageStats.Attempted)
}

func TestProcessRescuesShortMainPageFromSubpage(t *testing.T) {
	substantial := strings.Repeat("Detailed company history, leadership, and capability overview. ", 20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sobre" {
			w.Write([]byte("<html><body>" + substantial + "</body></html>"))
			return
		}
		w.Write([]byte(`<html><body>short<a href="/sobre">Sobre</a></body></html>`))
	}))
	defer srv.Close()

	sc := newTestContext()
	o := New(sc, Config{RescueMinChars: 200, MaxSubpages: 5})

	result := o.Process(context.Background(), Request{RegistrationID: "1", URL: srv.URL, Deadline: time.Now().Add(10 * time.Second)})

	require.Empty(t, result.MainPageFailReason)
	require.NotEmpty(t, result.Pages)
}
