package maintenance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/storage"
)

// archiveDirName is the backup directory under the index dir.
const archiveDirName = "archive"

// Hooks let the manager stop and restart the background machinery without
// importing it. The API layer wires these at startup.
type Hooks struct {
	// StopWorkers stops the watcher and drains enrichment workers.
	StopWorkers func()
	// StartWorkers restarts the watcher and enrichment workers.
	StartWorkers func()
	// Rescan kicks opportunistic scans of the output and input roots
	// after a restore.
	Rescan func()
}

// Manager owns the maintenance flag and runs backup, restore, and
// force-delete against the storage engine.
type Manager struct {
	engine   *storage.Engine
	flag     *Flag
	events   *Broadcaster
	indexDir func() string
	hooks    Hooks
}

// NewManager creates a maintenance manager. indexDir returns the current
// `_mjr_index` directory (it tracks the output root).
func NewManager(engine *storage.Engine, flag *Flag, events *Broadcaster, indexDir func() string, hooks Hooks) *Manager {
	return &Manager{
		engine:   engine,
		flag:     flag,
		events:   events,
		indexDir: indexDir,
		hooks:    hooks,
	}
}

// Flag returns the process-wide maintenance flag.
func (m *Manager) Flag() *Flag { return m.flag }

// Events returns the status broadcaster.
func (m *Manager) Events() *Broadcaster { return m.events }

// begin raises the flag and stops the workers, returning a done func that
// restarts them and lowers the flag.
func (m *Manager) begin(op string) (func(), error) {
	if !m.flag.Raise() {
		return nil, errcode.New(errcode.DBMaintenance, "maintenance already in progress")
	}
	m.events.Publish(op, StatusStarted, "")
	m.events.Publish(op, StatusStoppingWorkers, "")
	if m.hooks.StopWorkers != nil {
		m.hooks.StopWorkers()
	}
	return func() {
		if m.hooks.StartWorkers != nil {
			m.hooks.StartWorkers()
		}
		m.flag.Lower()
	}, nil
}

// archiveDir returns (creating) the backup directory.
func (m *Manager) archiveDir() (string, error) {
	dir := filepath.Join(m.indexDir(), archiveDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	return dir, nil
}

// BackupSave writes a consistent copy of the database into the archive
// directory, named with a UTC timestamp. Returns the backup file path.
func (m *Manager) BackupSave() (string, error) {
	done, err := m.begin("backup-save")
	if err != nil {
		return "", err
	}
	defer done()

	dir, err := m.archiveDir()
	if err != nil {
		m.events.Publish("backup-save", StatusFailed, err.Error())
		return "", errcode.Wrap(errcode.DBError, "backup failed", err)
	}
	name := fmt.Sprintf("assets_%s.sqlite", time.Now().UTC().Format("20060102T150405Z"))
	dst := filepath.Join(dir, name)

	if err := m.engine.CopyTo(dst); err != nil {
		m.events.Publish("backup-save", StatusFailed, err.Error())
		return "", errcode.Wrap(errcode.DBError, "backup failed", err)
	}
	m.events.Publish("backup-save", StatusDone, name)
	logger.Info("database backup written", "file", name)
	return dst, nil
}

// Backups lists available backup files, newest first.
func (m *Manager) Backups() ([]string, error) {
	dir := filepath.Join(m.indexDir(), archiveDirName)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "assets_") && strings.HasSuffix(e.Name(), ".sqlite") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// BackupRestore replaces the live database with the named backup (or the
// newest one when name is empty), reinitializes the schema, and restarts
// opportunistic scans.
func (m *Manager) BackupRestore(name string) error {
	const op = "backup-restore"
	done, err := m.begin(op)
	if err != nil {
		return err
	}
	defer done()

	if name == "" {
		backups, err := m.Backups()
		if err != nil || len(backups) == 0 {
			m.events.Publish(op, StatusFailed, "no backups available")
			return errcode.New(errcode.NotFound, "no backups available")
		}
		name = backups[0]
	}
	if strings.ContainsAny(name, "/\\") {
		m.events.Publish(op, StatusFailed, "invalid backup name")
		return errcode.New(errcode.InvalidInput, "invalid backup name")
	}
	src := filepath.Join(m.indexDir(), archiveDirName, name)
	if _, err := os.Stat(src); err != nil {
		m.events.Publish(op, StatusFailed, "backup not found")
		return errcode.New(errcode.NotFound, "backup not found")
	}

	m.events.Publish(op, StatusResettingDB, "")
	m.events.Publish(op, StatusReplacingFiles, name)
	if err := m.engine.ReplaceFiles(src); err != nil {
		m.events.Publish(op, StatusFailed, err.Error())
		return errcode.Wrap(errcode.DBError, "restore failed", err)
	}

	m.events.Publish(op, StatusRecreateDB, "")
	m.events.Publish(op, StatusRestartingScan, "")
	if m.hooks.Rescan != nil {
		m.hooks.Rescan()
	}
	m.events.Publish(op, StatusDone, name)
	logger.Info("database restored from backup", "file", name)
	return nil
}

// ForceDelete removes the database files outright. A clean Reset is tried
// first; when that fails each file is deleted best-effort with retries.
// Any file that survives produces a failed status.
func (m *Manager) ForceDelete() error {
	const op = "force-delete"
	done, err := m.begin(op)
	if err != nil {
		return err
	}
	defer done()

	m.events.Publish(op, StatusResettingDB, "")
	if err := m.engine.Reset(); err == nil {
		m.events.Publish(op, StatusDone, "reset")
		return nil
	}

	// Reset failed; force the issue. GC first so finalizers release any
	// lingering file handles, then delete with retry.
	runtime.GC()
	time.Sleep(250 * time.Millisecond)

	m.events.Publish(op, StatusReplacingFiles, "deleting store files")
	var failed []string
	for _, f := range m.engine.StoreFiles() {
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			lastErr = os.Remove(f)
			if lastErr == nil || errors.Is(lastErr, os.ErrNotExist) {
				lastErr = nil
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if lastErr != nil {
			failed = append(failed, filepath.Base(f))
		}
	}
	if len(failed) > 0 {
		detail := strings.Join(failed, ", ")
		m.events.Publish(op, StatusFailed, detail)
		return errcode.Newf(errcode.DeleteFailed, "could not delete: %s", detail)
	}

	m.events.Publish(op, StatusRecreateDB, "")
	if err := m.engine.Reset(); err != nil {
		m.events.Publish(op, StatusFailed, err.Error())
		return errcode.Wrap(errcode.DBError, "reinitialize failed", err)
	}
	m.events.Publish(op, StatusDone, "")
	return nil
}
