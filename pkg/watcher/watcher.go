// Package watcher feeds filesystem change events into the indexer. Events
// are debounced and deduplicated so bursts from in-progress renders
// collapse into a handful of index calls, and a bounded pending set
// degrades to a directory rescan instead of dropping changes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/roots"
)

// Indexer is the slice of the index API the watcher drives.
type Indexer interface {
	IndexPaths(ctx context.Context, paths []string, opts index.Options) (*index.ScanStats, error)
	ScanDirectory(ctx context.Context, root string, opts index.Options) (*index.ScanStats, error)
	RemovePaths(ctx context.Context, paths []string) (int, error)
	RecentlyScanned(dir string) bool
}

// Config tunes the watcher. Zero values select the defaults.
type Config struct {
	Debounce            time.Duration // default 750ms
	DedupeTTL           time.Duration // default 2s
	MinFileSize         int64         // files smaller are ignored (temp stubs)
	MaxFileSize         int64         // files larger are ignored; 0 means no cap
	PendingMax          int           // default 4096; overflow defers to rescan
	FlushMaxFiles       int           // default 500 per index call
	MaxFlushConcurrency int           // default 2
	StreamAlertEvents   int           // events/interval before warning, default 2000
	StreamAlertCooldown time.Duration // default 60s
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 750 * time.Millisecond
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = 2 * time.Second
	}
	if c.PendingMax <= 0 {
		c.PendingMax = 4096
	}
	if c.FlushMaxFiles <= 0 {
		c.FlushMaxFiles = 500
	}
	if c.MaxFlushConcurrency <= 0 {
		c.MaxFlushConcurrency = 2
	}
	if c.StreamAlertEvents <= 0 {
		c.StreamAlertEvents = 2000
	}
	if c.StreamAlertCooldown <= 0 {
		c.StreamAlertCooldown = 60 * time.Second
	}
}

// Watcher mirrors filesystem changes under a root into the index.
type Watcher struct {
	cfg Config
	ix  Indexer

	root   string
	source string
	rootID string

	fw   *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}

	mu          sync.Mutex
	pending     map[string]struct{}
	recentSeen  map[string]time.Time // dedupe window
	overflowDir map[string]struct{}  // dirs needing a rescan after overflow

	eventCount int
	alertAt    time.Time
}

// New creates a watcher over root. Call Start to begin watching.
func New(ix Indexer, root, source, rootID string, cfg Config) (*Watcher, error) {
	cfg.applyDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:         cfg,
		ix:          ix,
		root:        roots.NormalizeCase(abs),
		source:      source,
		rootID:      rootID,
		pending:     make(map[string]struct{}),
		recentSeen:  make(map[string]time.Time),
		overflowDir: make(map[string]struct{}),
	}, nil
}

// Start registers the root (and its subdirectories) and launches the event
// loop.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fw = fw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	if err := w.addRecursive(w.root); err != nil {
		_ = fw.Close()
		return err
	}

	go w.loop()
	logger.Info("watcher started", "scan_root", w.root)
	return nil
}

// Stop shuts the event loop down and waits for the final flush.
func (w *Watcher) Stop() {
	if w.stop == nil {
		return
	}
	close(w.stop)
	<-w.done
	_ = w.fw.Close()
	w.stop = nil
	logger.Info("watcher stopped", "scan_root", w.root)
}

// Pending returns the size of the debounce buffer.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (name == roots.IndexDirName || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_mjr_")) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	flush := time.NewTimer(w.cfg.Debounce)
	if !flush.Stop() {
		<-flush.C
	}
	armed := false

	resetAlert := time.NewTicker(10 * time.Second)
	defer resetAlert.Stop()

	for {
		select {
		case <-w.stop:
			w.flush()
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				w.flush()
				return
			}
			if w.handleEvent(ev) && !armed {
				flush.Reset(w.cfg.Debounce)
				armed = true
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				w.flush()
				return
			}
			logger.Warn("watcher error", "scan_root", w.root, "error", err)

		case <-flush.C:
			armed = false
			w.flush()

		case <-resetAlert.C:
			w.mu.Lock()
			w.eventCount = 0
			w.mu.Unlock()
		}
	}
}

// handleEvent folds one fsnotify event into the pending set. It reports
// whether the debounce timer should (re)arm.
func (w *Watcher) handleEvent(ev fsnotify.Event) bool {
	path := roots.NormalizeCase(ev.Name)
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_mjr_") {
		return false
	}

	if ev.Op.Has(fsnotify.Create) {
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			if err := w.addRecursive(path); err != nil {
				logger.Warn("watch subdirectory failed", "path", path, "error", err)
			}
			w.noteDirty(filepath.Dir(path))
			return true
		}
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return false
	}

	if _, _, ok := index.ClassifyExt(path); !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.eventCount++
	if w.eventCount >= w.cfg.StreamAlertEvents && time.Since(w.alertAt) > w.cfg.StreamAlertCooldown {
		w.alertAt = time.Now()
		logger.Warn("high filesystem event rate, deferring to directory rescans",
			"scan_root", w.root, "events", w.eventCount)
	}

	// Dedupe rapid rewrites of the same file inside the TTL, but only when
	// it is already pending so the change is never lost.
	if at, seen := w.recentSeen[path]; seen && time.Since(at) < w.cfg.DedupeTTL {
		if _, queued := w.pending[path]; queued {
			return true
		}
	}
	w.recentSeen[path] = time.Now()
	if len(w.recentSeen) > 4*w.cfg.PendingMax {
		for p, at := range w.recentSeen {
			if time.Since(at) >= w.cfg.DedupeTTL {
				delete(w.recentSeen, p)
			}
		}
	}

	if len(w.pending) >= w.cfg.PendingMax {
		// Overflow never drops a change. The file's directory is marked
		// for a rescan at the next flush instead.
		w.overflowDir[filepath.Dir(path)] = struct{}{}
		return true
	}
	w.pending[path] = struct{}{}
	return true
}

func (w *Watcher) noteDirty(dir string) {
	w.mu.Lock()
	w.overflowDir[dir] = struct{}{}
	w.mu.Unlock()
}

// flush drains the pending set into bounded index calls, then rescans any
// overflowed directories.
func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	dirs := make([]string, 0, len(w.overflowDir))
	for d := range w.overflowDir {
		dirs = append(dirs, d)
	}
	w.overflowDir = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) == 0 && len(dirs) == 0 {
		return
	}

	opts := index.Options{
		Incremental:        true,
		BackgroundMetadata: true,
		Source:             w.source,
		RootID:             w.rootID,
	}

	// Partition vanished files out first so deletions prune immediately
	// instead of waiting for the next full scan.
	var gone []string
	live := paths[:0]
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			gone = append(gone, p)
			continue
		}
		live = append(live, p)
	}
	paths = live
	if len(gone) > 0 {
		if n, err := w.ix.RemovePaths(context.Background(), gone); err != nil {
			logger.Warn("watcher prune failed", "files", len(gone), "error", err)
		} else if n > 0 {
			logger.Info("watcher pruned removed files", "removed", n)
		}
	}

	sem := make(chan struct{}, w.cfg.MaxFlushConcurrency)
	var wg sync.WaitGroup
	for start := 0; start < len(paths); start += w.cfg.FlushMaxFiles {
		end := start + w.cfg.FlushMaxFiles
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]
		if w.cfg.MinFileSize > 0 || w.cfg.MaxFileSize > 0 {
			chunk = w.filterBySize(chunk)
			if len(chunk) == 0 {
				continue
			}
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(files []string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := w.ix.IndexPaths(context.Background(), files, opts); err != nil {
				logger.Warn("watcher index flush failed", "files", len(files), "error", err)
			}
		}(chunk)
	}
	wg.Wait()

	for _, d := range dirs {
		if w.ix.RecentlyScanned(d) {
			continue
		}
		if _, err := w.ix.ScanDirectory(context.Background(), d, opts); err != nil {
			logger.Warn("watcher overflow rescan failed", "scan_root", d, "error", err)
		}
	}
}

func (w *Watcher) filterBySize(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		if w.cfg.MinFileSize > 0 && st.Size() < w.cfg.MinFileSize {
			// Likely a render still streaming to disk. Mark the directory
			// so the next rescan picks the finished file up.
			w.noteDirty(filepath.Dir(p))
			continue
		}
		if w.cfg.MaxFileSize > 0 && st.Size() > w.cfg.MaxFileSize {
			continue
		}
		out = append(out, p)
	}
	return out
}
