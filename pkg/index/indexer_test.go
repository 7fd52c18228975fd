package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

func newTestIndexer(t *testing.T) (*Indexer, string) {
	t.Helper()
	outDir := t.TempDir()
	t.Setenv("MAJOOR_OUTPUT_DIRECTORY", outDir)

	engine, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	reg, err := roots.NewRegistry(roots.Config{})
	require.NoError(t, err)

	return New(engine, reg, nil, nil, nil, Config{}), outDir
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	return p
}

func TestScanDirectory_AddsClassifiedFiles(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeFile(t, out, "a.png", 16)
	writeFile(t, out, "sub/b.mp4", 32)
	writeFile(t, out, "notes.txt", 8) // not an asset

	stats, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 0, stats.Updated)

	rows, err := ix.engine.Query(context.Background(), "SELECT kind, subfolder FROM assets ORDER BY filepath")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "image", rows[0].String("kind"))
	assert.Equal(t, "video", rows[1].String("kind"))
	assert.Equal(t, "sub", rows[1].String("subfolder"))
}

func TestScanDirectory_IncrementalIsIdempotent(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeFile(t, out, "a.png", 16)
	writeFile(t, out, "b.png", 16)

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true, Incremental: true})
	require.NoError(t, err)

	stats, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true, Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 2, stats.Skipped)
}

func TestScanDirectory_IncrementalDetectsMtimeChange(t *testing.T) {
	ix, out := newTestIndexer(t)
	a := writeFile(t, out, "a.png", 16)
	writeFile(t, out, "b.png", 16)

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true, Incremental: true})
	require.NoError(t, err)

	future := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(a, future, future))

	stats, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true, Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
}

func TestScanDirectory_JournalCoversEveryAsset(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeFile(t, out, "a.png", 16)
	writeFile(t, out, "sub/b.png", 16)
	writeFile(t, out, "sub/deep/c.webm", 16)

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)

	rows, err := ix.engine.Query(context.Background(),
		`SELECT (SELECT COUNT(*) FROM assets) AS a, (SELECT COUNT(*) FROM scan_journal) AS j`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Int64("a"))
	assert.Equal(t, rows[0].Int64("a"), rows[0].Int64("j"))
}

func TestScanDirectory_SkipsIndexDirAndSidecars(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeFile(t, out, "a.png", 16)
	writeFile(t, out, roots.IndexDirName+"/stray.png", 16)
	writeFile(t, out, "a.png.mjr.json", 16)
	writeFile(t, out, ".hidden/b.png", 16)

	stats, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Added)
}

func TestResolveOrCreate_IndexesOnDemand(t *testing.T) {
	ix, out := newTestIndexer(t)
	p := writeFile(t, out, "late.png", 16)

	id, err := ix.ResolveOrCreate(context.Background(), p)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// A second resolve hits the existing row.
	again, err := ix.ResolveOrCreate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResolveOrCreate_RejectsOutsideRoots(t *testing.T) {
	ix, _ := newTestIndexer(t)
	stray := writeFile(t, t.TempDir(), "stray.png", 16)

	_, err := ix.ResolveOrCreate(context.Background(), stray)
	require.Error(t, err)
}

func TestCleanupCaseDuplicates(t *testing.T) {
	ix, _ := newTestIndexer(t)
	ctx := context.Background()

	insert := func(path string, mtime float64) {
		_, err := ix.engine.Execute(ctx,
			`INSERT INTO assets (filepath, filename, subfolder, source, kind, ext, size_bytes, mtime, mtime_ns, hash_state, created_at, updated_at, indexed_at)
			 VALUES (?, ?, '', 'output', 'image', 'png', 10, ?, 0, 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			path, filepath.Base(path), mtime)
		require.NoError(t, err)
	}
	insert("/out/Dup.png", 100)
	insert("/out/dup.png", 200)
	insert("/out/solo.png", 50)

	res, err := ix.CleanupCaseDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Groups)
	assert.Equal(t, 1, res.Deleted)

	rows, err := ix.engine.Query(ctx, "SELECT filepath FROM assets ORDER BY filepath")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "/out/dup.png", rows[0].String("filepath"))
}

func TestBatchSizeLadder(t *testing.T) {
	ix, _ := newTestIndexer(t)
	assert.Equal(t, 100, ix.batchSize(400))
	assert.Equal(t, 250, ix.batchSize(4000))
	assert.Equal(t, 500, ix.batchSize(40000))
	assert.Equal(t, 1000, ix.batchSize(400000))
}

func TestSkipPredicates(t *testing.T) {
	// Journal skip requires incremental mode, a matching hash, and either a
	// fast scan or existing rich metadata.
	assert.True(t, shouldSkipByJournal(true, "h", "h", true, 0, false))
	assert.True(t, shouldSkipByJournal(true, "h", "h", false, 7, true))
	assert.False(t, shouldSkipByJournal(true, "h", "h", false, 7, false))
	assert.False(t, shouldSkipByJournal(true, "h", "x", true, 7, true))
	assert.False(t, shouldSkipByJournal(false, "h", "h", true, 7, true))

	assert.True(t, isIncrementalUnchanged(true, 7, 1.5, 1.5))
	assert.False(t, isIncrementalUnchanged(true, 0, 1.5, 1.5))
	assert.False(t, isIncrementalUnchanged(true, 7, 1.5, 2.5))
	assert.False(t, isIncrementalUnchanged(false, 7, 1.5, 1.5))
}

func TestStateHashChangesWithInputs(t *testing.T) {
	base := StateHash("/out/a.png", 1000, 10)
	assert.Len(t, base, 16)
	assert.NotEqual(t, base, StateHash("/out/a.png", 2000, 10))
	assert.NotEqual(t, base, StateHash("/out/a.png", 1000, 11))
	assert.NotEqual(t, base, StateHash("/out/b.png", 1000, 10))
	assert.Equal(t, base, StateHash("/out/a.png", 1000, 10))
}

func TestPauseToken(t *testing.T) {
	p := NewPauseToken(50 * time.Millisecond)
	assert.Zero(t, p.Remaining())
	p.Touch()
	assert.Greater(t, p.Remaining(), time.Duration(0))
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, p.Remaining())
}
