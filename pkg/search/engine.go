// Package search implements scoped, filtered, paginated asset listings
// backed by the index's FTS table, with a filesystem fallback for scopes
// that are not indexed yet.
package search

import (
	"context"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

// Engine answers listing, search, and autocomplete requests.
type Engine struct {
	db    *storage.Engine
	reg   *roots.Registry
	pause *index.PauseToken
	cache *dirCache

	// inputIndexed reports whether the input root has completed a scan.
	// Unindexed input listings fall back to the filesystem path.
	inputIndexed func() bool
}

// New creates a search engine. inputIndexed may be nil (treated as always
// indexed).
func New(db *storage.Engine, reg *roots.Registry, pause *index.PauseToken, inputIndexed func() bool) *Engine {
	if inputIndexed == nil {
		inputIndexed = func() bool { return true }
	}
	return &Engine{
		db:           db,
		reg:          reg,
		pause:        pause,
		cache:        newDirCache(),
		inputIndexed: inputIndexed,
	}
}

// InvalidateListings bumps the directory cache's watch token so cached
// filesystem listings are discarded. Callers invoke it after scans and
// mutations.
func (e *Engine) InvalidateListings() { e.cache.bumpToken() }

// List runs one listing/search request.
func (e *Engine) List(ctx context.Context, p Params) (*Result, error) {
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	if e.pause != nil {
		e.pause.Touch()
	}

	pq := parseQuery(p.Query, &p.Filters)
	p.Filters.normalizeRanges()

	switch p.Scope {
	case ScopeOutput:
		return e.listIndexed(ctx, p, pq, storage.SourceOutput, "")
	case ScopeCustom:
		if _, err := e.reg.ResolveCustomRoot(p.RootID); err != nil {
			return nil, err
		}
		return e.listIndexed(ctx, p, pq, storage.SourceCustom, p.RootID)
	case ScopeInput:
		if e.inputIndexed() {
			return e.listIndexed(ctx, p, pq, storage.SourceInput, "")
		}
		return e.listFilesystem(ctx, p, pq, e.reg.InputRoot(), storage.SourceInput, "")
	case ScopeBrowser:
		return e.listBrowser(ctx, p, pq)
	case ScopeAll:
		return e.listAll(ctx, p, pq)
	default:
		return nil, errcode.Newf(errcode.InvalidInput, "unknown scope %q", p.Scope)
	}
}

// listIndexed is the FTS-joined SQL path.
func (e *Engine) listIndexed(ctx context.Context, p Params, pq parsedQuery, source, rootID string) (*Result, error) {
	var sources []string
	if source != "" {
		sources = []string{source}
	}
	where, args := buildWhere(p, pq, sources, rootID)
	return e.listIndexedWhere(ctx, p, pq, where, args)
}

// buildWhere renders the filter vocabulary to SQL.
func buildWhere(p Params, pq parsedQuery, sources []string, rootID string) (string, []any) {
	var conds []string
	var args []any

	if len(pq.Terms) > 0 {
		conds = append(conds, "assets_fts MATCH ?")
		args = append(args, ftsMatchExpr(pq.Terms))
	}
	if len(sources) == 1 {
		conds = append(conds, "a.source = ?")
		args = append(args, sources[0])
	} else if len(sources) > 1 {
		ph := make([]string, len(sources))
		for i, s := range sources {
			ph[i] = "?"
			args = append(args, s)
		}
		conds = append(conds, "a.source IN ("+strings.Join(ph, ",")+")")
	}
	if rootID != "" {
		conds = append(conds, "a.root_id = ?")
		args = append(args, rootID)
	}
	if p.Target != "" {
		conds = append(conds, "(a.subfolder = ? OR a.subfolder LIKE ?)")
		args = append(args, p.Target, p.Target+"/%")
	}

	f := p.Filters
	if f.Kind != "" {
		conds = append(conds, "a.kind = ?")
		args = append(args, f.Kind)
	}
	if len(f.Extensions) > 0 {
		ph := make([]string, len(f.Extensions))
		for i, ext := range f.Extensions {
			ph[i] = "?"
			args = append(args, ext)
		}
		conds = append(conds, "a.ext IN ("+strings.Join(ph, ",")+")")
	}
	if f.MinRating > 0 {
		conds = append(conds, "COALESCE(m.rating, 0) >= ?")
		args = append(args, f.MinRating)
	}
	if f.MinSize > 0 {
		conds = append(conds, "a.size_bytes >= ?")
		args = append(args, f.MinSize)
	}
	if f.MaxSize > 0 {
		conds = append(conds, "a.size_bytes <= ?")
		args = append(args, f.MaxSize)
	}
	if f.MinWidth > 0 {
		conds = append(conds, "a.width >= ?")
		args = append(args, f.MinWidth)
	}
	if f.MaxWidth > 0 {
		conds = append(conds, "a.width <= ?")
		args = append(args, f.MaxWidth)
	}
	if f.MinHeight > 0 {
		conds = append(conds, "a.height >= ?")
		args = append(args, f.MinHeight)
	}
	if f.MaxHeight > 0 {
		conds = append(conds, "a.height <= ?")
		args = append(args, f.MaxHeight)
	}
	if f.HasWorkflow != nil {
		if *f.HasWorkflow {
			conds = append(conds, "COALESCE(m.has_workflow, 0) = 1")
		} else {
			conds = append(conds, "COALESCE(m.has_workflow, 0) = 0")
		}
	}
	if f.WorkflowType != "" {
		conds = append(conds, "m.raw LIKE ?")
		args = append(args, "%"+f.WorkflowType+"%")
	}
	if f.MtimeStart > 0 {
		conds = append(conds, "a.mtime >= ?")
		args = append(args, f.MtimeStart)
	}
	if f.MtimeEnd > 0 {
		conds = append(conds, "a.mtime <= ?")
		args = append(args, f.MtimeEnd)
	}
	if f.ExcludeRoot != "" {
		conds = append(conds, "a.root_id != ?")
		args = append(args, f.ExcludeRoot)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(sort string) string {
	switch sort {
	case SortMtimeAsc:
		return " ORDER BY a.mtime ASC, a.filepath ASC"
	case SortNameAsc:
		return " ORDER BY LOWER(a.filename) ASC, a.filepath ASC"
	case SortNameDesc:
		return " ORDER BY LOWER(a.filename) DESC, a.filepath DESC"
	case SortNone:
		return ""
	default:
		return " ORDER BY a.mtime DESC, a.filepath DESC"
	}
}
