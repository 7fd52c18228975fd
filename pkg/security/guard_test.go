package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/settings"
	"github.com/majoor-app/majoor/pkg/storage"
)

func newGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	g, err := NewGuard(cfg, NewRateLimiter(RateLimiterConfig{}))
	require.NoError(t, err)
	return g
}

func postReq(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://localhost:8188/mjr/am/asset/rating", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestCSRF_RequiresHeader(t *testing.T) {
	g := newGuard(t, Config{})

	err := g.CheckCSRF(postReq("127.0.0.1:5000", nil))
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.CSRF))

	err = g.CheckCSRF(postReq("127.0.0.1:5000", map[string]string{"X-Requested-With": "XMLHttpRequest"}))
	assert.NoError(t, err)
}

func TestCSRF_GETExempt(t *testing.T) {
	g := newGuard(t, Config{})
	r := httptest.NewRequest(http.MethodGet, "http://localhost:8188/mjr/am/list", nil)
	assert.NoError(t, g.CheckCSRF(r))
}

func TestCSRF_OriginChecks(t *testing.T) {
	g := newGuard(t, Config{})
	base := map[string]string{"X-Requested-With": "XMLHttpRequest"}

	withOrigin := func(origin string) map[string]string {
		h := map[string]string{"Origin": origin}
		for k, v := range base {
			h[k] = v
		}
		return h
	}

	assert.Error(t, g.CheckCSRF(postReq("1.2.3.4:9", withOrigin("null"))))
	assert.Error(t, g.CheckCSRF(postReq("1.2.3.4:9", withOrigin("http://evil.example:8188"))))
	assert.NoError(t, g.CheckCSRF(postReq("127.0.0.1:9", withOrigin("http://localhost:8188"))))
	// Loopback aliases are equivalent when ports match.
	assert.NoError(t, g.CheckCSRF(postReq("127.0.0.1:9", withOrigin("http://127.0.0.1:8188"))))
}

func TestTrustedProxy_UniverseRejected(t *testing.T) {
	_, err := NewGuard(Config{TrustedProxies: []string{"0.0.0.0/0"}}, nil)
	require.Error(t, err)

	g, err := NewGuard(Config{TrustedProxies: []string{"0.0.0.0/0"}, InsecureTrustAll: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestClientID_ForwardedOnlyFromTrustedProxy(t *testing.T) {
	g := newGuard(t, Config{TrustedProxies: []string{"10.0.0.0/8"}})

	r := postReq("10.1.2.3:9", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.1.2.3"})
	assert.Equal(t, "203.0.113.7", g.ClientID(r))

	r = postReq("192.168.1.50:9", map[string]string{"X-Forwarded-For": "203.0.113.7"})
	assert.Equal(t, "192.168.1.50", g.ClientID(r))
}

func TestWriteAccess_TokenPolicy(t *testing.T) {
	// No token configured: loopback ok, remote gated by AllowRemoteWrite.
	g := newGuard(t, Config{})
	assert.NoError(t, g.CheckWriteAccess(postReq("127.0.0.1:9", nil)))
	assert.Error(t, g.CheckWriteAccess(postReq("203.0.113.7:9", nil)))

	g = newGuard(t, Config{AllowRemoteWrite: true})
	assert.NoError(t, g.CheckWriteAccess(postReq("203.0.113.7:9", nil)))

	// Token configured: remote must present it; loopback exempt.
	g = newGuard(t, Config{WriteToken: "secret"})
	assert.NoError(t, g.CheckWriteAccess(postReq("127.0.0.1:9", nil)))
	assert.Error(t, g.CheckWriteAccess(postReq("203.0.113.7:9", nil)))
	assert.NoError(t, g.CheckWriteAccess(postReq("203.0.113.7:9", map[string]string{"X-MJR-Token": "secret"})))
	assert.NoError(t, g.CheckWriteAccess(postReq("203.0.113.7:9", map[string]string{"Authorization": "Bearer secret"})))
	assert.Error(t, g.CheckWriteAccess(postReq("203.0.113.7:9", map[string]string{"X-MJR-Token": "wrong"})))

	// RequireAuth extends to loopback.
	g = newGuard(t, Config{WriteToken: "secret", RequireAuth: true})
	assert.Error(t, g.CheckWriteAccess(postReq("127.0.0.1:9", nil)))
}

func TestWriteAccess_HashedToken(t *testing.T) {
	sum := sha256.Sum256([]byte("secret" + "pepper"))
	g := newGuard(t, Config{
		WriteToken:  "sha256:" + hex.EncodeToString(sum[:]),
		TokenPepper: "pepper",
	})
	assert.NoError(t, g.CheckWriteAccess(postReq("203.0.113.7:9", map[string]string{"X-MJR-Token": "secret"})))
	assert.Error(t, g.CheckWriteAccess(postReq("203.0.113.7:9", map[string]string{"X-MJR-Token": "other"})))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Rules: map[string]Rule{"rating": {Max: 30, Window: time.Minute}},
	})

	for i := 0; i < 30; i++ {
		ok, _ := l.Allow("1.2.3.4", "rating")
		require.True(t, ok, "request %d should pass", i+1)
	}
	ok, retry := l.Allow("1.2.3.4", "rating")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, retry, 1)

	// Other clients are unaffected.
	ok, _ = l.Allow("5.6.7.8", "rating")
	assert.True(t, ok)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		Rules: map[string]Rule{"op": {Max: 1, Window: time.Minute}},
	})
	now := time.Now()
	l.now = func() time.Time { return now }

	ok, _ := l.Allow("c", "op")
	require.True(t, ok)
	ok, _ = l.Allow("c", "op")
	require.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow("c", "op")
	assert.True(t, ok)
}

func TestRateLimiter_OverflowSharesBucket(t *testing.T) {
	l := NewRateLimiter(RateLimiterConfig{
		MaxClients: 2,
		Rules:      map[string]Rule{"op": {Max: 2, Window: time.Minute}},
	})
	l.Allow("a", "op")
	l.Allow("b", "op")

	// Clients beyond the LRU cap land in the shared overflow bucket.
	ok, _ := l.Allow("c", "op")
	require.True(t, ok)
	ok, _ = l.Allow("d", "op")
	require.True(t, ok)
	ok, _ = l.Allow("e", "op")
	assert.False(t, ok)
}

func TestRequireOperationEnabled(t *testing.T) {
	engine, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	store := settings.NewStore(engine, 0)
	ctx := context.Background()

	// Non-destructive writes pass by default.
	assert.NoError(t, RequireOperationEnabled(ctx, store, OpWrite))

	// Destructive ops need an explicit opt-in.
	err = RequireOperationEnabled(ctx, store, OpDelete)
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.Forbidden))

	require.NoError(t, store.Set(ctx, settings.KeyAllowDelete, "1"))
	assert.NoError(t, RequireOperationEnabled(ctx, store, OpDelete))

	// Safe mode alone blocks writes; allow_write must be opted in.
	require.NoError(t, store.Set(ctx, settings.KeySafeMode, "1"))
	assert.Error(t, RequireOperationEnabled(ctx, store, OpWrite))

	require.NoError(t, store.Set(ctx, settings.KeyAllowWrite, "true"))
	assert.NoError(t, RequireOperationEnabled(ctx, store, OpWrite))
}
