package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waltagan/scraper-api/internal/batch"
	"github.com/waltagan/scraper-api/internal/config"
	"github.com/waltagan/scraper-api/internal/orchestrator"
	"github.com/waltagan/scraper-api/internal/scrapectx"
	"github.com/waltagan/scraper-api/internal/searchclient"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sc := scrapectx.New(scrapectx.Options{})
	manager := batch.New(sc, orchestrator.Config{}, searchclient.NewNoop(), nil, batch.Options{
		Concurrency:     2,
		CompanyDeadline: 2 * time.Second,
	})
	cfg := &config.Config{Server: config.ServerConfig{Host: "127.0.0.1", Port: 0}}
	return NewServer(cfg, manager, nil)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitBatchRejectsEmptyCompanies(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitRequest{})
	req := httptest.NewRequest(http.MethodPost, "/v1/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitBatchRejectsMissingRegistrationID(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitRequest{Companies: []batchEntry{{URL: "https://example.com"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitBatchThenStatus(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitRequest{Companies: []batchEntry{
		{RegistrationID: "12345678000199", URL: "https://example.invalid"},
	}})
	req := httptest.NewRequest(http.MethodPost, "/v1/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.BatchID)

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/batch/"+submitted.BatchID+"/status", nil)
	statusResp, err := s.app.Test(statusReq, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status statusDTO
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	require.Equal(t, submitted.BatchID, status.BatchID)
	require.Equal(t, int64(1), status.Total)
}

func TestBatchStatusUnknownID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/batch/does-not-exist/status", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
