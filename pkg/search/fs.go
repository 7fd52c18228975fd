package search

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

const (
	dirCacheSize = 256
	dirCacheTTL  = 1500 * time.Millisecond
)

// dirCache memoizes filesystem listings. Entries are valid while the
// directory mtime and the process-wide watch token are unchanged, for a
// short TTL.
type dirCache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	token atomic.Int64
}

type dirCacheEntry struct {
	items     []Item
	dirMtime  int64
	token     int64
	storedAt  time.Time
}

func newDirCache() *dirCache {
	c, _ := lru.New(dirCacheSize)
	return &dirCache{lru: c}
}

func (c *dirCache) bumpToken() { c.token.Add(1) }

func (c *dirCache) key(base, target, source, rootID string) string {
	return base + "\x00" + target + "\x00" + source + "\x00" + rootID
}

func (c *dirCache) get(key string, dirMtime int64) ([]Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	ent := v.(dirCacheEntry)
	if ent.dirMtime != dirMtime || ent.token != c.token.Load() || time.Since(ent.storedAt) > dirCacheTTL {
		c.lru.Remove(key)
		return nil, false
	}
	return ent.items, true
}

func (c *dirCache) put(key string, dirMtime int64, items []Item) {
	c.mu.Lock()
	c.lru.Add(key, dirCacheEntry{
		items:    items,
		dirMtime: dirMtime,
		token:    c.token.Load(),
		storedAt: time.Now(),
	})
	c.mu.Unlock()
}

// listFilesystem walks base/target, applies the filter vocabulary, sorts,
// hydrates indexed rows from the store, and pages.
func (e *Engine) listFilesystem(ctx context.Context, p Params, pq parsedQuery, base, source, rootID string) (*Result, error) {
	if base == "" {
		return nil, errcode.New(errcode.NotFound, "no directory for scope")
	}
	dir := base
	if p.Target != "" {
		rel, err := roots.SafeRelPath(p.Target)
		if err != nil {
			return nil, errcode.New(errcode.InvalidInput, "invalid target path")
		}
		dir = filepath.Join(base, filepath.FromSlash(rel))
	}
	if !e.reg.IsPathAllowed(dir, true) {
		return nil, errcode.New(errcode.Forbidden, "path outside allowed roots")
	}

	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, errcode.New(errcode.NotFound, "directory not found")
	}
	dirMtime := st.ModTime().UnixNano()

	key := e.cache.key(base, p.Target, source, rootID)
	items, cached := e.cache.get(key, dirMtime)
	if !cached {
		items, err = e.walkDir(dir, base, source, rootID, p.Scope == ScopeBrowser)
		if err != nil {
			return nil, err
		}
		if err := e.hydrate(ctx, items); err != nil {
			return nil, err
		}
		e.cache.put(key, dirMtime, items)
	}

	filtered := make([]Item, 0, len(items))
	for _, it := range items {
		if matchItem(it, p.Filters, pq.Terms) {
			filtered = append(filtered, it)
		}
	}
	if p.Sort != SortNone {
		sort.SliceStable(filtered, func(i, j int) bool { return less(p.Sort, filtered[i], filtered[j]) })
	}
	filtered = dedupeByPath(filtered)

	res := &Result{Scope: p.Scope, Assets: []Item{}, Total: len(filtered)}
	if p.Limit == 0 {
		return res, nil
	}
	start := p.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + p.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	res.Assets = append(res.Assets, filtered[start:end]...)
	return res, nil
}

// listBrowser serves non-recursive directory listings with folder rows.
func (e *Engine) listBrowser(ctx context.Context, p Params, pq parsedQuery) (*Result, error) {
	base := e.reg.OutputRoot("")
	if p.RootID != "" {
		resolved, err := e.reg.ResolveCustomRoot(p.RootID)
		if err != nil {
			return nil, err
		}
		base = resolved
	}
	return e.listFilesystem(ctx, p, pq, base, storage.SourceCustom, p.RootID)
}

// walkDir lists one directory level. Browser mode includes folder rows;
// asset scopes include classified files only.
func (e *Engine) walkDir(dir, base, source, rootID string, withFolders bool) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotFound, "directory unreadable", err)
	}
	var items []Item
	for _, ent := range entries {
		name := ent.Name()
		if strings.HasPrefix(name, ".") || name == roots.IndexDirName || strings.HasPrefix(name, "_mjr_") {
			continue
		}
		full := roots.NormalizeCase(filepath.Join(dir, name))
		info, err := ent.Info()
		if err != nil {
			continue
		}
		sub, _ := filepath.Rel(base, dir)
		if sub == "." {
			sub = ""
		}
		if ent.IsDir() {
			if withFolders {
				items = append(items, Item{
					Filepath:  full,
					Filename:  name,
					Subfolder: filepath.ToSlash(sub),
					Source:    source,
					RootID:    rootID,
					Kind:      KindFolder,
					Mtime:     float64(info.ModTime().UnixNano()) / 1e9,
					Tags:      []string{},
				})
			}
			continue
		}
		ext, kind, ok := index.ClassifyExt(name)
		if !ok {
			continue
		}
		items = append(items, Item{
			Filepath:  full,
			Filename:  name,
			Subfolder: filepath.ToSlash(sub),
			Source:    source,
			RootID:    rootID,
			Kind:      kind,
			Ext:       ext,
			SizeBytes: info.Size(),
			Mtime:     float64(info.ModTime().UnixNano()) / 1e9,
			Tags:      []string{},
		})
	}
	return items, nil
}

// hydrate fills filesystem rows with index data where it exists. Folder
// rows are skipped.
func (e *Engine) hydrate(ctx context.Context, items []Item) error {
	byPath := make(map[string]int, len(items))
	paths := make([]any, 0, len(items))
	for i, it := range items {
		if it.Kind == KindFolder {
			continue
		}
		byPath[it.Filepath] = i
		paths = append(paths, it.Filepath)
	}
	if len(paths) == 0 {
		return nil
	}
	rows, err := e.db.QueryIn(ctx,
		`SELECT a.id, a.filepath, a.root_id, a.width, a.height, a.duration,
			COALESCE(m.rating, 0) AS rating, COALESCE(m.tags, '[]') AS tags,
			COALESCE(m.has_workflow, 0) AS has_workflow,
			COALESCE(m.metadata_quality, '') AS metadata_quality
		 FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id
		 WHERE a.filepath IN (?...)`, paths)
	if err != nil {
		return err
	}
	for _, r := range rows {
		i, ok := byPath[r.String("filepath")]
		if !ok {
			continue
		}
		hydrated := itemFromRow(r)
		it := &items[i]
		it.ID = hydrated.ID
		it.Rating = hydrated.Rating
		it.Tags = hydrated.Tags
		it.HasWorkflow = hydrated.HasWorkflow
		it.Quality = hydrated.Quality
		it.Width = hydrated.Width
		it.Height = hydrated.Height
		it.Duration = hydrated.Duration
		if it.RootID == "" {
			it.RootID = r.String("root_id")
		}
		it.Indexed = true
	}
	return nil
}

// matchItem applies the filter vocabulary and text terms to one
// filesystem row.
func matchItem(it Item, f Filters, terms []string) bool {
	if it.Kind == KindFolder {
		// Folders pass text terms only.
		for _, t := range terms {
			if !strings.Contains(strings.ToLower(it.Filename), strings.ToLower(t)) {
				return false
			}
		}
		return true
	}
	if f.Kind != "" && it.Kind != f.Kind {
		return false
	}
	if len(f.Extensions) > 0 {
		found := false
		for _, ext := range f.Extensions {
			if it.Ext == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinRating > 0 && it.Rating < f.MinRating {
		return false
	}
	if f.MinSize > 0 && it.SizeBytes < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && it.SizeBytes > f.MaxSize {
		return false
	}
	if f.MinWidth > 0 && (it.Width == nil || *it.Width < f.MinWidth) {
		return false
	}
	if f.MaxWidth > 0 && it.Width != nil && *it.Width > f.MaxWidth {
		return false
	}
	if f.MinHeight > 0 && (it.Height == nil || *it.Height < f.MinHeight) {
		return false
	}
	if f.MaxHeight > 0 && it.Height != nil && *it.Height > f.MaxHeight {
		return false
	}
	if f.HasWorkflow != nil && it.HasWorkflow != *f.HasWorkflow {
		return false
	}
	if f.MtimeStart > 0 && it.Mtime < f.MtimeStart {
		return false
	}
	if f.MtimeEnd > 0 && it.Mtime > f.MtimeEnd {
		return false
	}
	for _, t := range terms {
		lt := strings.ToLower(t)
		if strings.Contains(strings.ToLower(it.Filename), lt) {
			continue
		}
		tagged := false
		for _, tag := range it.Tags {
			if strings.Contains(strings.ToLower(tag), lt) {
				tagged = true
				break
			}
		}
		if !tagged {
			return false
		}
	}
	return true
}
