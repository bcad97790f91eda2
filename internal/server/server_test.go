package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SableWorks/SableBrowser/core/internal/config"
	"github.com/SableWorks/SableBrowser/core/internal/logging"
	"github.com/SableWorks/SableBrowser/core/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Sweep.Enabled = false
	cfg.RateLimit.Enabled = false

	srv, err := New(cfg, nil, logging.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	info := decode[session.Info](t, w)
	assert.True(t, strings.HasPrefix(info.ID, "sess"))
	assert.DirExists(t, info.StoragePath)

	w = doJSON(t, srv, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Sessions, 1)

	w = doJSON(t, srv, http.MethodGet, "/sessions/"+info.ID+"/environment", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "environment_id")

	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoDirExists(t, info.StoragePath)

	// Disposing an unknown session is a quiet success.
	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionDuplicateID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sessions", map[string]string{"id": "mysession"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/sessions", map[string]string{"id": "mysession"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionInvalidID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sessions", map[string]string{"id": "../escape"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSanitizeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sanitize", map[string]string{
		"url": "https://shop.example.com/item?id=42&fbclid=abc&utm_source=news",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		SanitizedURL string   `json:"sanitized_url"`
		Removed      []string `json:"removed_params"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "https://shop.example.com/item?id=42", res.SanitizedURL)
	assert.ElementsMatch(t, []string{"fbclid", "utm_source"}, res.Removed)

	w = doJSON(t, srv, http.MethodGet, "/sanitize/metrics/shop.example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/sanitize", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecideEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/navigation/decide", map[string]string{
		"url": "https://example.com/?gclid=x",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var dec struct {
		Action string `json:"action"`
		Target string `json:"target"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, "redirect", dec.Action)
	assert.Equal(t, "https://example.com/", dec.Target)

	// The redirect target comes back clean.
	w = doJSON(t, srv, http.MethodPost, "/navigation/decide", map[string]string{"url": dec.Target})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, "continue", dec.Action)
}

func TestLoadRulesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sanitize/rules",
		strings.NewReader(`{"trackingParams":["custom_tag"]}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	res := doJSON(t, srv, http.MethodPost, "/sanitize", map[string]string{
		"url": "https://example.com/?custom_tag=1&fbclid=2",
	})
	var out struct {
		Removed []string `json:"removed_params"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	// The reload replaced the defaults wholesale.
	assert.Equal(t, []string{"custom_tag"}, out.Removed)
}

func createTestSession(t *testing.T, srv *Server) session.Info {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[session.Info](t, w)
}

func uploadDownload(t *testing.T, srv *Server, sid, name, contentType, content string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sid+"/downloads",
		strings.NewReader(content))
	req.Header.Set("X-File-Name", name)
	req.Header.Set("X-Source-Url", "https://files.example.com/"+name)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestDownloadQuarantineAndPromote(t *testing.T) {
	srv := newTestServer(t)
	info := createTestSession(t, srv)

	w := uploadDownload(t, srv, info.ID, "report.pdf", "application/pdf", "pdf bytes here")
	require.Equal(t, http.StatusCreated, w.Code)

	var rec struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		Hash           string `json:"hash"`
		QuarantinePath string `json:"quarantine_path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "quarantined", rec.Status)
	assert.NotEmpty(t, rec.Hash)
	assert.FileExists(t, rec.QuarantinePath)
	assert.True(t, strings.HasPrefix(rec.QuarantinePath, info.StoragePath))

	w = doJSON(t, srv, http.MethodGet, "/sessions/"+info.ID+"/downloads", nil)
	assert.Contains(t, w.Body.String(), rec.ID)

	dest := filepath.Join(t.TempDir(), "saved", "report.pdf")
	w = doJSON(t, srv, http.MethodPost, "/sessions/"+info.ID+"/downloads/"+rec.ID+"/promote",
		map[string]string{"destination": dest})
	require.Equal(t, http.StatusOK, w.Code)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes here", string(data))
	assert.NoFileExists(t, rec.QuarantinePath)

	// A promoted download cannot be promoted again.
	w = doJSON(t, srv, http.MethodPost, "/sessions/"+info.ID+"/downloads/"+rec.ID+"/promote",
		map[string]string{"destination": dest})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDownloadDelete(t *testing.T) {
	srv := newTestServer(t)
	info := createTestSession(t, srv)

	w := uploadDownload(t, srv, info.ID, "notes.txt", "text/plain", "secret notes")
	require.Equal(t, http.StatusCreated, w.Code)
	var rec struct {
		ID             string `json:"id"`
		QuarantinePath string `json:"quarantine_path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID+"/downloads/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":true`)
	assert.NoFileExists(t, rec.QuarantinePath)

	// Second delete finds nothing quarantined.
	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID+"/downloads/"+rec.ID, nil)
	assert.Contains(t, w.Body.String(), `"deleted":false`)
}

func TestDownloadBlocked(t *testing.T) {
	srv := newTestServer(t)
	info := createTestSession(t, srv)

	w := uploadDownload(t, srv, info.ID, "setup.exe", "application/octet-stream", "MZ")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = uploadDownload(t, srv, info.ID, "tool.bin", "application/x-msdownload", "MZ")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/sessions/"+info.ID+"/downloads", nil)
	var list struct {
		Downloads []json.RawMessage `json:"downloads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Downloads)
}

func TestDownloadUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	w := uploadDownload(t, srv, "sessnothere", "a.txt", "text/plain", "x")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDisposeRemovesQuarantine(t *testing.T) {
	srv := newTestServer(t)
	info := createTestSession(t, srv)

	w := uploadDownload(t, srv, info.ID, "keepme.txt", "text/plain", "undecided")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NoDirExists(t, info.StoragePath)

	// The gate is gone with the session.
	w = doJSON(t, srv, http.MethodGet, "/sessions/"+info.ID+"/downloads", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrometheusSeriesRecorded(t *testing.T) {
	srv := newTestServer(t)
	m := srv.metrics

	createdBefore := testutil.ToFloat64(m.SessionsCreated)
	disposedBefore := testutil.ToFloat64(m.SessionsDisposed)
	bytesBefore := testutil.ToFloat64(m.QuarantinedBytes)

	info := createTestSession(t, srv)
	assert.Equal(t, createdBefore+1, testutil.ToFloat64(m.SessionsCreated))

	body := "bytes under quarantine"
	w := uploadDownload(t, srv, info.ID, "data.txt", "text/plain", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, bytesBefore+float64(len(body)), testutil.ToFloat64(m.QuarantinedBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DownloadsActive))

	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID+"/downloads/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DownloadsActive))

	w = doJSON(t, srv, http.MethodDelete, "/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, disposedBefore+1, testutil.ToFloat64(m.SessionsDisposed))

	// Disposing an unknown session leaves the disposal counter alone.
	w = doJSON(t, srv, http.MethodDelete, "/sessions/sessghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, disposedBefore+1, testutil.ToFloat64(m.SessionsDisposed))
}

func TestSweepEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/sessions/sweep", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reaped")
}
