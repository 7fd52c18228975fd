package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/config"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/maintenance"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/search"
	"github.com/majoor-app/majoor/pkg/security"
	"github.com/majoor-app/majoor/pkg/settings"
	"github.com/majoor-app/majoor/pkg/storage"
)

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	outDir   string
	settings *settings.Store
	flag     *maintenance.Flag
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	outDir := t.TempDir()
	t.Setenv("MAJOOR_OUTPUT_DIRECTORY", outDir)

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg, err := roots.NewRegistry(roots.Config{})
	require.NoError(t, err)

	store := settings.NewStore(db, time.Second)
	flag := maintenance.NewFlag()
	ix := index.New(db, reg, nil, nil, flag, index.Config{})
	searcher := search.New(db, reg, ix.Pause(), nil)

	limiter := security.NewRateLimiter(security.RateLimiterConfig{
		Rules: map[string]security.Rule{
			"autocomplete": {Max: 30, Window: time.Minute},
		},
	})
	guard, err := security.NewGuard(security.Config{}, limiter)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Config:   config.Default(),
		Engine:   db,
		Registry: reg,
		Settings: store,
		Searcher: searcher,
		Indexer:  ix,
		Flag:     flag,
		Events:   maintenance.NewBroadcaster(),
		Guard:    guard,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, outDir: outDir, settings: store, flag: flag}
}

func (e *testEnv) seedFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(e.outDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (e *testEnv) scan(t *testing.T) {
	t.Helper()
	_, err := e.srv.indexer.ScanDirectory(context.Background(),
		e.outDir, index.Options{Recursive: true, Incremental: true, Fast: true})
	require.NoError(t, err)
}

// postJSON sends a mutating request with the CSRF headers a browser
// client would attach.
func (e *testEnv) postJSON(t *testing.T, path string, payload any) Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) get(t *testing.T, path string) (Response, *http.Response) {
	t.Helper()
	resp, err := e.ts.Client().Get(e.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out, resp
}

func dataMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is not an object: %#v", resp.Data)
	return m
}

func TestRatingRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	path := env.seedFile(t, "render.png", []byte("png-bytes"))

	resp := env.postJSON(t, "/mjr/am/asset/rating",
		map[string]any{"filepath": path, "rating": 4})
	require.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
	data := dataMap(t, resp)
	assert.EqualValues(t, 4, data["rating"])

	id := int64(data["id"].(float64))
	got, _ := env.get(t, fmt.Sprintf("/mjr/am/asset/%d", id))
	require.True(t, got.OK)
	assert.EqualValues(t, 4, dataMap(t, got)["rating"])
}

func TestMutationWithoutCSRFHeaderRejected(t *testing.T) {
	env := newTestEnv(t)
	path := env.seedFile(t, "render.png", []byte("png-bytes"))

	body, _ := json.Marshal(map[string]any{"filepath": path, "rating": 2})
	resp, err := env.ts.Client().Post(env.ts.URL+"/mjr/am/asset/rating",
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out.OK)
	assert.Equal(t, "CSRF", out.Code)
}

func TestRateLimitDeniesCallThirtyOne(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 30; i++ {
		resp, _ := env.get(t, "/mjr/am/autocomplete?q=re")
		require.True(t, resp.OK, "call %d unexpectedly limited", i+1)
	}

	resp, httpResp := env.get(t, "/mjr/am/autocomplete?q=re")
	assert.False(t, resp.OK)
	assert.Equal(t, "RATE_LIMITED", resp.Code)

	retry, ok := resp.Meta["retry_after"].(float64)
	require.True(t, ok, "meta.retry_after missing: %#v", resp.Meta)
	assert.GreaterOrEqual(t, retry, float64(1))
	assert.NotEmpty(t, httpResp.Header.Get("Retry-After"))
}

func TestMaintenanceFencesDuplicateAlerts(t *testing.T) {
	env := newTestEnv(t)

	require.True(t, env.flag.Raise())
	resp, _ := env.get(t, "/mjr/am/duplicates/alerts")
	assert.False(t, resp.OK)
	assert.Equal(t, "DB_MAINTENANCE", resp.Code)

	env.flag.Lower()
	resp, _ = env.get(t, "/mjr/am/duplicates/alerts")
	assert.True(t, resp.OK)
}

func TestBulkDeleteReportsPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.settings.Set(context.Background(), settings.KeyAllowDelete, "true"))

	path1 := env.seedFile(t, "a.png", []byte("a"))
	path2 := env.seedFile(t, "b.png", []byte("b"))
	env.scan(t)

	id1 := assetID(t, env, path1)
	id2 := assetID(t, env, path2)

	// Turn the second path into a non-empty directory so the unlink
	// fails while the row stays behind.
	require.NoError(t, os.Remove(path2))
	require.NoError(t, os.MkdirAll(filepath.Join(path2, "child"), 0o755))

	resp := env.postJSON(t, "/mjr/am/assets/delete",
		map[string]any{"ids": []int64{id1, id2}})
	require.True(t, resp.OK)
	data := dataMap(t, resp)

	assert.Equal(t, []any{float64(id1)}, data["deleted_ids"].([]any))
	assert.Equal(t, []any{float64(id2)}, data["failed_ids"].([]any))
	errs := data["errors"].(map[string]any)
	assert.Contains(t, errs, fmt.Sprintf("%d", id2))
	assert.Equal(t, true, resp.Meta["partial"])

	// The failed asset keeps its row.
	got, _ := env.get(t, fmt.Sprintf("/mjr/am/asset/%d", id2))
	assert.True(t, got.OK)
	gone, _ := env.get(t, fmt.Sprintf("/mjr/am/asset/%d", id1))
	assert.Equal(t, "NOT_FOUND", gone.Code)
}

func TestListLimitZeroReturnsTotalOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedFile(t, "a.png", []byte("a"))
	env.seedFile(t, "b.png", []byte("b"))
	env.scan(t)

	resp, _ := env.get(t, "/mjr/am/list?scope=output&limit=0")
	require.True(t, resp.OK, "error: %s", resp.Error)
	data := dataMap(t, resp)
	assert.Empty(t, data["assets"])
	assert.EqualValues(t, 2, data["total"])
}

func TestListTargetTraversalRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedFile(t, "sub/a.png", []byte("a"))
	env.scan(t)

	// Filesystem listings sanitize the target before joining it.
	resp, _ := env.get(t, "/mjr/am/list?scope=browser&target=../outside")
	assert.False(t, resp.OK)
	assert.Equal(t, "INVALID_INPUT", resp.Code)

	resp, _ = env.get(t, "/mjr/am/list?scope=browser&target=sub")
	require.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
	assert.EqualValues(t, 1, dataMap(t, resp)["total"])
}

func TestListOffsetBeyondMaxRejected(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, fmt.Sprintf("/mjr/am/list?scope=output&offset=%d", search.MaxListOffset+1))
	assert.False(t, resp.OK)
	assert.Equal(t, "INVALID_INPUT", resp.Code)
}

func TestRenameToExistingTargetConflicts(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.settings.Set(context.Background(), settings.KeyAllowRename, "true"))

	path1 := env.seedFile(t, "a.png", []byte("a"))
	env.seedFile(t, "b.png", []byte("b"))
	env.scan(t)
	id1 := assetID(t, env, path1)

	resp := env.postJSON(t, "/mjr/am/asset/rename",
		map[string]any{"asset_id": id1, "new_name": "b.png"})
	assert.False(t, resp.OK)
	assert.Equal(t, "CONFLICT", resp.Code)

	// A case-only rename of the same file is allowed.
	resp = env.postJSON(t, "/mjr/am/asset/rename",
		map[string]any{"asset_id": id1, "new_name": "A.png"})
	require.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
	assert.Equal(t, "A.png", dataMap(t, resp)["filename"])
}

func TestSettingsRejectUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postJSON(t, "/mjr/am/settings",
		map[string]any{"settings": map[string]string{"not.a.key": "1"}})
	assert.False(t, resp.OK)
	assert.Equal(t, "INVALID_INPUT", resp.Code)
}

func TestCollectionsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	path := env.seedFile(t, "a.png", []byte("a"))
	env.scan(t)

	saved := env.postJSON(t, "/mjr/am/collections",
		map[string]any{"name": "favorites", "filepaths": []string{path}})
	require.True(t, saved.OK, "error: %s %s", saved.Code, saved.Error)
	id := dataMap(t, saved)["id"].(string)

	got, _ := env.get(t, "/mjr/am/collections/"+id)
	require.True(t, got.OK)
	data := dataMap(t, got)
	assert.Equal(t, "favorites", data["name"])
	assert.Len(t, data["asset_ids"], 1)

	removed := env.postJSON(t, "/mjr/am/collections/remove", map[string]any{"id": id})
	require.True(t, removed.OK)
	gone, _ := env.get(t, "/mjr/am/collections/"+id)
	assert.Equal(t, "NOT_FOUND", gone.Code)
}

// serveRaw drives the router directly so the test controls the peer
// address, which httptest's real listener always sets to loopback.
func (e *testEnv) serveRaw(t *testing.T, req *http.Request) Response {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func ratingRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{"filepath": path, "rating": 3})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/mjr/am/asset/rating", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req
}

func TestForwardedHeadersIgnoredFromUntrustedPeers(t *testing.T) {
	env := newTestEnv(t)
	path := env.seedFile(t, "render.png", []byte("png-bytes"))

	// A remote peer claiming to be loopback must not gain the loopback
	// write exemption; no proxies are trusted in this configuration.
	req := ratingRequest(t, path)
	req.RemoteAddr = "203.0.113.5:40000"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("X-Real-IP", "127.0.0.1")
	resp := env.serveRaw(t, req)
	require.False(t, resp.OK)
	assert.Equal(t, "AUTH_REQUIRED", resp.Code)

	// The same request from a genuine loopback peer goes through.
	req = ratingRequest(t, path)
	req.RemoteAddr = "127.0.0.1:50000"
	resp = env.serveRaw(t, req)
	assert.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
}

func TestBrowserScopeIsLoopbackOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedFile(t, "a.png", []byte("a"))

	req := httptest.NewRequest(http.MethodGet, "/mjr/am/list?scope=browser", nil)
	req.RemoteAddr = "203.0.113.5:40000"
	resp := env.serveRaw(t, req)
	assert.False(t, resp.OK)
	assert.Equal(t, "FORBIDDEN", resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/mjr/am/list?scope=browser", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	resp = env.serveRaw(t, req)
	assert.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
}

func TestSafeModeBlocksWritesUntilOptIn(t *testing.T) {
	env := newTestEnv(t)
	path := env.seedFile(t, "render.png", []byte("png-bytes"))
	require.NoError(t, env.settings.Set(context.Background(), settings.KeySafeMode, "true"))

	resp := env.postJSON(t, "/mjr/am/asset/rating",
		map[string]any{"filepath": path, "rating": 2})
	assert.False(t, resp.OK)
	assert.Equal(t, "FORBIDDEN", resp.Code)

	// Writes resume only after allow_write is explicitly set.
	require.NoError(t, env.settings.Set(context.Background(), settings.KeyAllowWrite, "true"))
	resp = env.postJSON(t, "/mjr/am/asset/rating",
		map[string]any{"filepath": path, "rating": 2})
	assert.True(t, resp.OK, "error: %s %s", resp.Code, resp.Error)
}

func assetID(t *testing.T, env *testEnv, path string) int64 {
	t.Helper()
	rows, err := env.srv.engine.Query(context.Background(),
		`SELECT id FROM assets WHERE filepath = ?`, path)
	require.NoError(t, err)
	require.Len(t, rows, 1, "asset not indexed: %s", path)
	return rows[0].Int64("id")
}
