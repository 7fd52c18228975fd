package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	e, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return NewStore(e, 50*time.Millisecond)
}

func TestSettings_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyAllowDelete, "1"))

	v, ok, err := s.Get(ctx, KeyAllowDelete)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings_VersionStrictlyIncreases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prev, err := s.Version(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, "k", "v"))
		cur, err := s.Version(ctx)
		require.NoError(t, err)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestSettings_CacheInvalidatedOnWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v1"))
	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.Set(ctx, "k", "v2"))
	v, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestSettings_GetBool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.GetBool(ctx, KeyAllowWrite, true))
	assert.False(t, s.GetBool(ctx, KeyAllowWrite, false))

	require.NoError(t, s.Set(ctx, KeyAllowWrite, "true"))
	assert.True(t, s.GetBool(ctx, KeyAllowWrite, false))

	require.NoError(t, s.Set(ctx, KeyAllowWrite, "0"))
	assert.False(t, s.GetBool(ctx, KeyAllowWrite, true))
}

func TestSettings_ReservedKeyRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.Set(context.Background(), VersionKey, "7")
	assert.Error(t, err)
}
