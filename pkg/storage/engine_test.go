package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Config{Path: filepath.Join(t.TempDir(), "assets.sqlite"), AutoReset: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func insertAsset(t *testing.T, e *Engine, path string) int64 {
	t.Helper()
	_, err := e.Execute(context.Background(),
		`INSERT INTO assets (filepath, filename, subfolder, source, kind, ext, size_bytes, mtime, mtime_ns, hash_state, created_at, updated_at, indexed_at)
		 VALUES (?, ?, '', 'output', 'image', 'png', 10, 1.0, 1000000000, 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		path, filepath.Base(path))
	require.NoError(t, err)
	rows, err := e.Query(context.Background(), "SELECT id FROM assets WHERE filepath = ?", path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].Int64("id")
}

func TestEngine_ExecuteAndQuery(t *testing.T) {
	e := openTestEngine(t)
	id := insertAsset(t, e, "/out/a.png")
	assert.Greater(t, id, int64(0))

	rows, err := e.Query(context.Background(), "SELECT filepath, kind FROM assets WHERE id = ?", id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/out/a.png", rows[0].String("filepath"))
	assert.Equal(t, "image", rows[0].String("kind"))
}

func TestEngine_FTSMirrorsAssets(t *testing.T) {
	e := openTestEngine(t)
	insertAsset(t, e, "/out/sunset_beach.png")
	insertAsset(t, e, "/out/forest.png")

	rows, err := e.Query(context.Background(),
		"SELECT rowid FROM assets_fts WHERE assets_fts MATCH ?", "sunset")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEngine_TransactionRollsBackOnError(t *testing.T) {
	e := openTestEngine(t)
	sentinel := errors.New("boom")

	err := e.Transaction(context.Background(), TxImmediate, func(tx *Tx) error {
		_, err := tx.Execute(
			`INSERT INTO assets (filepath, filename, source, kind, hash_state, created_at, updated_at, indexed_at)
			 VALUES ('/out/tx.png', 'tx.png', 'output', 'image', 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	rows, err := e.Query(context.Background(), "SELECT id FROM assets WHERE filepath = '/out/tx.png'")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEngine_QueryInChunks(t *testing.T) {
	e := openTestEngine(t)
	var paths []any
	for i := 0; i < 25; i++ {
		p := fmt.Sprintf("/out/chunk_%03d.png", i)
		insertAsset(t, e, p)
		paths = append(paths, p)
	}

	rows, err := e.QueryIn(context.Background(),
		"SELECT id, filepath FROM assets WHERE filepath IN (?...) AND kind = ?", paths, "image")
	require.NoError(t, err)
	assert.Len(t, rows, 25)
}

func TestEngine_QueryInEmptyValues(t *testing.T) {
	e := openTestEngine(t)
	rows, err := e.QueryIn(context.Background(),
		"SELECT id FROM assets WHERE filepath IN (?...)", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEngine_ResetReinitializesEmptySchema(t *testing.T) {
	e := openTestEngine(t)
	insertAsset(t, e, "/out/a.png")

	require.NoError(t, e.Reset())

	rows, err := e.Query(context.Background(), "SELECT COUNT(*) AS n FROM assets")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].Int64("n"))
}

func TestEngine_ForeignKeyGuardsMetadata(t *testing.T) {
	e := openTestEngine(t)
	id := insertAsset(t, e, "/out/a.png")

	_, err := e.Execute(context.Background(),
		"INSERT INTO asset_metadata (asset_id, rating, tags, tags_text, metadata_quality, updated_at) VALUES (?, 3, '[]', '', 'full', CURRENT_TIMESTAMP)", id)
	require.NoError(t, err)

	// Deleting the asset cascades to its metadata.
	_, err = e.Execute(context.Background(), "DELETE FROM assets WHERE id = ?", id)
	require.NoError(t, err)

	rows, err := e.Query(context.Background(), "SELECT asset_id FROM asset_metadata WHERE asset_id = ?", id)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Query(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestEngine_Diagnostics(t *testing.T) {
	e := openTestEngine(t)
	d := e.Diagnostics()
	assert.False(t, d.Locked)
	assert.False(t, d.Malformed)
	assert.Equal(t, "idle", d.RecoveryState)
	assert.Zero(t, d.AutoResetAttempts)
}
