package index

import (
	"context"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/storage"
)

// RemovePaths deletes the index rows for files that no longer exist on
// disk. Metadata rows cascade with their assets.
func (ix *Indexer) RemovePaths(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	vals := make([]any, len(paths))
	for i, p := range paths {
		vals[i] = p
	}
	var removed int
	err := ix.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		rows, err := tx.QueryIn(`SELECT id FROM assets WHERE filepath IN (?...)`, vals)
		if err != nil {
			return err
		}
		removed = len(rows)
		if err := tx.ExecuteIn(`DELETE FROM scan_journal WHERE filepath IN (?...)`, vals); err != nil {
			return err
		}
		return tx.ExecuteIn(`DELETE FROM assets WHERE filepath IN (?...)`, vals)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// CleanupResult reports a case-duplicate cleanup pass.
type CleanupResult struct {
	Groups  int `json:"groups"`
	Deleted int `json:"deleted"`
}

// CleanupCaseDuplicates removes asset rows that differ only by filepath
// case, keeping the most recently modified row of each group. Such rows
// accumulate on case-insensitive filesystems when files are renamed across
// case before normalization existed.
func (ix *Indexer) CleanupCaseDuplicates(ctx context.Context) (*CleanupResult, error) {
	res := &CleanupResult{}
	err := ix.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		groups, err := tx.Query(
			`SELECT LOWER(filepath) AS folded, COUNT(*) AS n
			 FROM assets GROUP BY LOWER(filepath) HAVING COUNT(*) > 1`)
		if err != nil {
			return err
		}
		res.Groups = len(groups)
		if len(groups) == 0 {
			return nil
		}

		folded := make([]any, len(groups))
		for i, g := range groups {
			folded[i] = g.String("folded")
		}

		// Victims are every row of a duplicate group except the one with
		// the highest (mtime, id).
		rows, err := tx.QueryIn(
			`SELECT a.id, a.filepath FROM assets a
			 WHERE LOWER(a.filepath) IN (?...)
			   AND a.id NOT IN (
			     SELECT b.id FROM assets b
			     WHERE LOWER(b.filepath) = LOWER(a.filepath)
			     ORDER BY b.mtime DESC, b.id DESC LIMIT 1
			   )`, folded)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]any, len(rows))
		paths := make([]any, len(rows))
		for i, r := range rows {
			ids[i] = r.Int64("id")
			paths[i] = r.String("filepath")
		}
		if err := tx.ExecuteIn(`DELETE FROM scan_journal WHERE filepath IN (?...)`, paths); err != nil {
			return err
		}
		if err := tx.ExecuteIn(`DELETE FROM assets WHERE id IN (?...)`, ids); err != nil {
			return err
		}
		res.Deleted = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Deleted > 0 {
		logger.Info("case duplicate cleanup", "groups", res.Groups, "deleted", res.Deleted)
	}
	return res, nil
}
