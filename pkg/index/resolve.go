package index

import (
	"context"
	"os"
	"path/filepath"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/roots"
)

// ResolveOrCreate returns the asset id for a filesystem path, indexing the
// file on demand when the row does not exist yet. The path must live under
// an allowed root.
func (ix *Indexer) ResolveOrCreate(ctx context.Context, path string) (int64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errcode.New(errcode.InvalidInput, "invalid path")
	}
	abs = roots.NormalizeCase(abs)

	source, rootID, _, err := ix.reg.Classify(abs)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(abs); err != nil {
		return 0, errcode.New(errcode.NotFound, "file not found")
	}

	ctx, cancel := context.WithTimeout(ctx, ix.cfg.ResolveTimeout)
	defer cancel()

	if id, err := ix.lookupID(ctx, abs); err != nil || id != 0 {
		return id, err
	}

	_, err = ix.IndexPaths(ctx, []string{abs}, Options{
		Incremental: true,
		Fast:        true,
		Source:      source,
		RootID:      rootID,
	})
	if err != nil {
		return 0, err
	}

	id, err := ix.lookupID(ctx, abs)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errcode.New(errcode.NotFound, "asset could not be indexed")
	}
	ix.EnqueueEnrichment(abs)
	return id, nil
}

func (ix *Indexer) lookupID(ctx context.Context, path string) (int64, error) {
	rows, err := ix.engine.Query(ctx, `SELECT id FROM assets WHERE filepath = ?`, path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int64("id"), nil
}
