package maintenance

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/storage"
)

func TestFlag_RaiseLowerWait(t *testing.T) {
	f := NewFlag()
	assert.False(t, f.IsActive())
	assert.True(t, f.WaitInactive(time.Millisecond))

	require.True(t, f.Raise())
	assert.True(t, f.IsActive())
	assert.False(t, f.Raise(), "second raise must fail")
	assert.False(t, f.WaitInactive(10*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Lower()
	}()
	assert.True(t, f.WaitInactive(time.Second))
	assert.False(t, f.IsActive())
}

func TestBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish("backup-save", StatusStarted, "")
	b.Publish("backup-save", StatusDone, "assets_x.sqlite")

	ev := <-ch
	assert.Equal(t, StatusStarted, ev.Status)
	ev = <-ch
	assert.Equal(t, StatusDone, ev.Status)
	assert.Len(t, b.Recent(), 2)
}

func newTestManager(t *testing.T) (*Manager, *storage.Engine, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	dir := t.TempDir()
	e, err := storage.Open(storage.Config{Path: filepath.Join(dir, "assets.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	var stops, starts atomic.Int32
	m := NewManager(e, NewFlag(), NewBroadcaster(), func() string { return dir }, Hooks{
		StopWorkers:  func() { stops.Add(1) },
		StartWorkers: func() { starts.Add(1) },
	})
	return m, e, &stops, &starts
}

func TestManager_BackupSaveAndRestore(t *testing.T) {
	m, e, stops, starts := newTestManager(t)
	ctx := context.Background()

	_, err := e.Execute(ctx,
		`INSERT INTO assets (filepath, filename, source, kind, hash_state, created_at, updated_at, indexed_at)
		 VALUES ('/out/a.png', 'a.png', 'output', 'image', 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	path, err := m.BackupSave()
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, int32(1), stops.Load())
	assert.Equal(t, int32(1), starts.Load())
	assert.False(t, m.Flag().IsActive())

	// Wipe the live database, then restore.
	require.NoError(t, e.Reset())
	rows, err := e.Query(ctx, "SELECT COUNT(*) AS n FROM assets")
	require.NoError(t, err)
	require.Equal(t, int64(0), rows[0].Int64("n"))

	require.NoError(t, m.BackupRestore(""))
	rows, err = e.Query(ctx, "SELECT COUNT(*) AS n FROM assets")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows[0].Int64("n"))
}

func TestManager_RestoreWithoutBackupFails(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	err := m.BackupRestore("")
	assert.True(t, errcode.Is(err, errcode.NotFound))
	assert.False(t, m.Flag().IsActive())
}

func TestManager_ForceDelete(t *testing.T) {
	m, e, _, _ := newTestManager(t)
	require.NoError(t, m.ForceDelete())

	// Engine is usable again with an empty schema.
	rows, err := e.Query(context.Background(), "SELECT COUNT(*) AS n FROM assets")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0].Int64("n"))
}

func TestManager_ConcurrentOpsRejected(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	require.True(t, m.Flag().Raise())
	defer m.Flag().Lower()

	_, err := m.BackupSave()
	assert.True(t, errcode.Is(err, errcode.DBMaintenance))
}
