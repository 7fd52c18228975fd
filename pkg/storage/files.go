package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// copyFile copies src to dst, truncating any existing file, and fsyncs the
// result so backup/restore survives a crash right after the copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy failed: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync failed: %w", err)
	}
	return out.Close()
}

// CopyTo writes a consistent copy of the main database file to dst. The
// caller is responsible for quiescing writers first (the maintenance flag
// does this); WAL content is checkpointed by the copy being taken from the
// main file after a wal_checkpoint.
func (e *Engine) CopyTo(dst string) error {
	release, err := e.acquireWriter(context.Background())
	if err != nil {
		return err
	}
	defer release()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return e.classify(err)
	}
	return copyFile(e.cfg.Path, dst)
}
