package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func writeEnvelope(w http.ResponseWriter, env map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func TestClient_UnwrapsData(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mjr/am/health", r.URL.Path)
		writeEnvelope(w, map[string]any{
			"ok":   true,
			"data": map[string]any{"status": "ok", "version": "1.2.3"},
		})
	})

	var out struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	require.NoError(t, c.get("/health", &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "1.2.3", out.Version)
}

func TestClient_BusinessErrorBecomesAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"ok":    false,
			"error": "asset not found",
			"code":  "NOT_FOUND",
		})
	})

	err := c.get("/asset/99", nil)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.True(t, apiErr.IsNotFound())
}

func TestClient_MutationHeaders(t *testing.T) {
	var gotCSRF, gotToken string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotCSRF = r.Header.Get("X-Requested-With")
		gotToken = r.Header.Get("X-MJR-Token")
		writeEnvelope(w, map[string]any{"ok": true})
	})

	require.NoError(t, c.WithToken("s3cret").post("/scan", map[string]any{"scope": "output"}, nil))
	assert.Equal(t, "majoorctl", gotCSRF)
	assert.Equal(t, "s3cret", gotToken)
}

func TestClient_RateLimitMeta(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]any{
			"ok":    false,
			"error": "too many requests",
			"code":  "RATE_LIMITED",
			"meta":  map[string]any{"retry_after": 7},
		})
	})

	err := c.get("/autocomplete", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.EqualValues(t, 7, apiErr.Meta["retry_after"])
}

func TestClient_NonOKStatusIsHTTPError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	err := c.get("/health", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_ERROR", apiErr.Code)
}
