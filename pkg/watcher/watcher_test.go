package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/index"
)

// fakeIndexer records the calls the watcher makes.
type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	removed []string
	scanned []string
}

func (f *fakeIndexer) IndexPaths(_ context.Context, paths []string, _ index.Options) (*index.ScanStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, paths...)
	return &index.ScanStats{Scanned: len(paths)}, nil
}

func (f *fakeIndexer) ScanDirectory(_ context.Context, root string, _ index.Options) (*index.ScanStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, root)
	return &index.ScanStats{}, nil
}

func (f *fakeIndexer) RemovePaths(_ context.Context, paths []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, paths...)
	return len(paths), nil
}

func (f *fakeIndexer) RecentlyScanned(string) bool { return false }

func (f *fakeIndexer) snapshot() (indexed, removed, scanned []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...),
		append([]string(nil), f.removed...),
		append([]string(nil), f.scanned...)
}

func newTestWatcher(t *testing.T, fi *fakeIndexer, cfg Config) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	w, err := New(fi, root, "output", "", cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w, root
}

func TestWatcher_IndexesNewFiles(t *testing.T) {
	fi := &fakeIndexer{}
	_, root := newTestWatcher(t, fi, Config{Debounce: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		indexed, _, _ := fi.snapshot()
		return len(indexed) == 1
	}, 3*time.Second, 20*time.Millisecond)

	indexed, _, _ := fi.snapshot()
	assert.Equal(t, filepath.Join(root, "a.png"), indexed[0])
}

func TestWatcher_PrunesRemovedFiles(t *testing.T) {
	fi := &fakeIndexer{}
	_, root := newTestWatcher(t, fi, Config{Debounce: 50 * time.Millisecond})

	p := filepath.Join(root, "gone.png")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	require.NoError(t, os.Remove(p))

	require.Eventually(t, func() bool {
		_, removed, _ := fi.snapshot()
		return len(removed) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_OverflowDefersToRescan(t *testing.T) {
	fi := &fakeIndexer{}
	_, root := newTestWatcher(t, fi, Config{Debounce: 100 * time.Millisecond, PendingMax: 2})

	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	// Overflowed changes surface as a directory rescan, never a drop.
	require.Eventually(t, func() bool {
		indexed, _, scanned := fi.snapshot()
		return len(indexed) >= 2 && len(scanned) >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	fi := &fakeIndexer{}
	_, root := newTestWatcher(t, fi, Config{Debounce: 50 * time.Millisecond})

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.png"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		indexed, _, _ := fi.snapshot()
		for _, p := range indexed {
			if filepath.Base(p) == "nested.png" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_SizeGates(t *testing.T) {
	fi := &fakeIndexer{}
	w, root := newTestWatcher(t, fi, Config{
		Debounce:    50 * time.Millisecond,
		MinFileSize: 10,
		MaxFileSize: 100,
	})

	require.NoError(t, os.WriteFile(filepath.Join(root, "stub.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "huge.png"), make([]byte, 200), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.png"), make([]byte, 50), 0o644))

	require.Eventually(t, func() bool {
		indexed, _, _ := fi.snapshot()
		return len(indexed) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	indexed, _, _ := fi.snapshot()
	require.Len(t, indexed, 1)
	assert.Equal(t, filepath.Join(root, "ok.png"), indexed[0])

	// The undersized stub marks its directory for a rescan (it is likely
	// still being written); the oversized file is dropped outright.
	w.Stop()
	_, _, scanned := fi.snapshot()
	assert.Contains(t, scanned, root)
}

func TestWatcher_StopFlushesPending(t *testing.T) {
	fi := &fakeIndexer{}
	w, root := newTestWatcher(t, fi, Config{Debounce: 10 * time.Second}) // never fires on its own

	require.NoError(t, os.WriteFile(filepath.Join(root, "late.png"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return w.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	indexed, _, _ := fi.snapshot()
	require.Len(t, indexed, 1)
}
