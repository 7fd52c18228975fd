package search

import (
	"context"
	"sort"

	"github.com/majoor-app/majoor/pkg/storage"
)

// mergeChunk is how many indexed rows are pulled from the store per step
// while merging with the filesystem stream.
const mergeChunk = 512

// listAll serves the combined output+input view. When the input root is
// indexed it collapses to a single SQL query; otherwise the indexed output
// stream is merged with a filesystem walk of the input root.
func (e *Engine) listAll(ctx context.Context, p Params, pq parsedQuery) (*Result, error) {
	if e.inputIndexed() || e.reg.InputRoot() == "" {
		where, args := buildWhere(p, pq, []string{storage.SourceOutput, storage.SourceInput}, "")
		return e.listIndexedWhere(ctx, p, pq, where, args)
	}

	// Pull both streams fully sorted, then page. The filesystem side is a
	// one-level-deep tree walk of the input root; the DB side is chunked.
	fsParams := p
	fsParams.Limit = MaxListLimit
	fsParams.Offset = 0
	fsParams.IncludeTotal = true
	fsRes, err := e.listFilesystem(ctx, fsParams, pq, e.reg.InputRoot(), storage.SourceInput, "")
	if err != nil {
		// Input root problems degrade the merge to output-only.
		fsRes = &Result{Assets: []Item{}}
	}

	need := p.Offset + p.Limit
	dbItems, dbTotal, err := e.collectIndexed(ctx, p, pq, need+len(fsRes.Assets))
	if err != nil {
		return nil, err
	}

	merged := mergeSorted(p.Sort, dbItems, fsRes.Assets)
	merged = dedupeByPath(merged)

	res := &Result{Scope: ScopeAll, Assets: []Item{}}
	res.Total = dbTotal + fsRes.Total
	if deduped := len(merged); deduped < len(dbItems)+len(fsRes.Assets) && res.Total > deduped {
		res.Total = deduped
	}
	if p.Limit == 0 {
		return res, nil
	}
	start := p.Offset
	if start > len(merged) {
		start = len(merged)
	}
	end := start + p.Limit
	if end > len(merged) {
		end = len(merged)
	}
	res.Assets = append(res.Assets, merged[start:end]...)
	return res, nil
}

// listIndexedWhere is listIndexed with a prebuilt WHERE clause.
func (e *Engine) listIndexedWhere(ctx context.Context, p Params, pq parsedQuery, where string, args []any) (*Result, error) {
	base := `FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id`
	if len(pq.Terms) > 0 {
		base = `FROM assets_fts
			JOIN assets a ON a.id = assets_fts.rowid
			LEFT JOIN asset_metadata m ON m.asset_id = a.id`
	}

	res := &Result{Scope: p.Scope, Assets: []Item{}}
	if p.IncludeTotal || p.Limit == 0 {
		rows, err := e.db.Query(ctx, `SELECT COUNT(*) AS n `+base+where, args...)
		if err != nil {
			return nil, err
		}
		if len(rows) == 1 {
			res.Total = int(rows[0].Int64("n"))
		}
	}
	if p.Limit == 0 {
		return res, nil
	}

	query := `SELECT a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
			a.kind, a.ext, a.size_bytes, a.mtime, a.width, a.height, a.duration,
			COALESCE(m.rating, 0) AS rating, COALESCE(m.tags, '[]') AS tags,
			COALESCE(m.has_workflow, 0) AS has_workflow,
			COALESCE(m.metadata_quality, '') AS metadata_quality ` +
		base + where + orderClause(p.Sort) + ` LIMIT ? OFFSET ?`
	rows, err := e.db.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		res.Assets = append(res.Assets, itemFromRow(r))
	}
	before := len(res.Assets)
	res.Assets = dedupeByPath(res.Assets)
	if !p.IncludeTotal {
		res.Total = p.Offset + len(res.Assets)
	} else if len(res.Assets) < before && res.Total > len(res.Assets) {
		res.Total = len(res.Assets)
	}
	return res, nil
}

// collectIndexed pulls up to want sorted output rows from the store in
// chunks, plus the total when counting is cheap enough.
func (e *Engine) collectIndexed(ctx context.Context, p Params, pq parsedQuery, want int) ([]Item, int, error) {
	where, args := buildWhere(p, pq, []string{storage.SourceOutput}, "")

	base := `FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id`
	if len(pq.Terms) > 0 {
		base = `FROM assets_fts
			JOIN assets a ON a.id = assets_fts.rowid
			LEFT JOIN asset_metadata m ON m.asset_id = a.id`
	}

	var total int
	rows, err := e.db.Query(ctx, `SELECT COUNT(*) AS n `+base+where, args...)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 1 {
		total = int(rows[0].Int64("n"))
	}

	var items []Item
	for offset := 0; len(items) < want && offset < total; offset += mergeChunk {
		query := `SELECT a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
				a.kind, a.ext, a.size_bytes, a.mtime, a.width, a.height, a.duration,
				COALESCE(m.rating, 0) AS rating, COALESCE(m.tags, '[]') AS tags,
				COALESCE(m.has_workflow, 0) AS has_workflow,
				COALESCE(m.metadata_quality, '') AS metadata_quality ` +
			base + where + orderClause(p.Sort) + ` LIMIT ? OFFSET ?`
		chunk, err := e.db.Query(ctx, query, append(append([]any{}, args...), mergeChunk, offset)...)
		if err != nil {
			return nil, 0, err
		}
		if len(chunk) == 0 {
			break
		}
		for _, r := range chunk {
			items = append(items, itemFromRow(r))
		}
	}
	return items, total, nil
}

// mergeSorted merges two streams already ordered by the sort comparator.
// Stability keeps pagination deterministic over unchanged state.
func mergeSorted(sortName string, a, b []Item) []Item {
	if sortName == SortNone {
		out := append(append([]Item{}, a...), b...)
		return out
	}
	if !sort.SliceIsSorted(a, func(i, j int) bool { return less(sortName, a[i], a[j]) }) {
		sort.SliceStable(a, func(i, j int) bool { return less(sortName, a[i], a[j]) })
	}
	if !sort.SliceIsSorted(b, func(i, j int) bool { return less(sortName, b[i], b[j]) }) {
		sort.SliceStable(b, func(i, j int) bool { return less(sortName, b[i], b[j]) })
	}
	out := make([]Item, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if less(sortName, b[j], a[i]) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
