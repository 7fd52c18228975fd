package collections

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Engine, string) {
	t.Helper()
	indexDir := t.TempDir()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(func() string { return indexDir }, db), db, indexDir
}

func seedAsset(t *testing.T, db *storage.Engine, path string) int64 {
	t.Helper()
	_, err := db.Execute(context.Background(),
		`INSERT INTO assets (filepath, filename, subfolder, source, kind, ext, size_bytes, mtime, mtime_ns, hash_state, created_at, updated_at, indexed_at)
		 VALUES (?, ?, '', 'output', 'image', 'png', 1, 1, 1, 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		path, filepath.Base(path))
	require.NoError(t, err)
	rows, err := db.Query(context.Background(), `SELECT id FROM assets WHERE filepath = ?`, path)
	require.NoError(t, err)
	return rows[0].Int64("id")
}

func TestStore_SaveListRemove(t *testing.T) {
	store, _, indexDir := newTestStore(t)

	saved, err := store.Save(Collection{Name: "favorites", Filepaths: []string{"/out/a.png"}})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	// One file per collection under the collections directory.
	entries, err := os.ReadDir(filepath.Join(indexDir, "collections"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, saved.ID+".json", entries[0].Name())

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "favorites", list[0].Name)

	require.NoError(t, store.Remove(saved.ID))
	list, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	// Removing again is not an error.
	assert.NoError(t, store.Remove(saved.ID))
}

func TestStore_UpdatePreservesCreatedAt(t *testing.T) {
	store, _, _ := newTestStore(t)

	saved, err := store.Save(Collection{Name: "wip", Filepaths: []string{"/out/a.png"}})
	require.NoError(t, err)
	created := saved.CreatedAt

	time.Sleep(10 * time.Millisecond)
	updated, err := store.Save(Collection{ID: saved.ID, Name: "done", Filepaths: []string{"/out/a.png", "/out/b.png"}})
	require.NoError(t, err)
	assert.Equal(t, created, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created))
	assert.Equal(t, "done", updated.Name)
}

func TestStore_GetHydratesAssetIDs(t *testing.T) {
	store, db, _ := newTestStore(t)
	id1 := seedAsset(t, db, "/out/a.png")
	seedAsset(t, db, "/out/b.png")

	saved, err := store.Save(Collection{Name: "mixed", Filepaths: []string{"/out/a.png", "/out/missing.png"}})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{id1}, got.AssetIDs)
	// Unindexed members stay in the collection.
	assert.Equal(t, []string{"/out/a.png", "/out/missing.png"}, got.Filepaths)
}

func TestStore_Validation(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Save(Collection{Name: "   "})
	assert.Error(t, err)

	_, err = store.Save(Collection{ID: "not-a-uuid", Name: "x"})
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestStore_SaveDedupesMembers(t *testing.T) {
	store, _, _ := newTestStore(t)
	saved, err := store.Save(Collection{Name: "d", Filepaths: []string{"/out/a.png", "/out/a.png", "/out/b.png"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/a.png", "/out/b.png"}, saved.Filepaths)
}
