package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

type scanRequest struct {
	Scope       string `json:"scope"`
	RootID      string `json:"root_id"`
	Target      string `json:"target"`
	Incremental *bool  `json:"incremental"`
	Fast        bool   `json:"fast"`
}

// handleScan runs a synchronous scan of one scope and returns its stats.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	opts := index.Options{
		Recursive:          true,
		Incremental:        true,
		Fast:               req.Fast,
		BackgroundMetadata: true,
	}
	if req.Incremental != nil {
		opts.Incremental = *req.Incremental
	}

	var root string
	switch req.Scope {
	case "", storage.SourceOutput:
		opts.Source = storage.SourceOutput
		root = s.reg.OutputRoot("")
	case storage.SourceInput:
		opts.Source = storage.SourceInput
		root = s.reg.InputRoot()
	case storage.SourceCustom:
		resolved, err := s.reg.ResolveCustomRoot(req.RootID)
		if err != nil {
			writeErr(w, err)
			return
		}
		opts.Source = storage.SourceCustom
		opts.RootID = req.RootID
		root = resolved
	default:
		writeErr(w, errcode.Newf(errcode.InvalidInput, "unknown scan scope %q", req.Scope))
		return
	}
	if root == "" {
		writeErr(w, errcode.New(errcode.NotFound, "no directory for scope"))
		return
	}
	if req.Target != "" {
		sub, err := roots.SafeRelPath(req.Target)
		if err != nil {
			writeErr(w, err)
			return
		}
		root = filepath.Join(root, filepath.FromSlash(sub))
	}

	start := time.Now()
	stats, err := s.indexer.ScanDirectory(r.Context(), root, opts)
	if err != nil {
		s.metrics.RecordScan(false, time.Since(start), 0, 0, 0, 0)
		writeErr(w, err)
		return
	}
	s.metrics.RecordScan(true, time.Since(start), stats.Added, stats.Updated, stats.Skipped, stats.Errors)
	s.searcher.InvalidateListings()
	writeOK(w, stats)
}

// handleCustomRootsList returns the registered custom roots.
func (s *Server) handleCustomRootsList(w http.ResponseWriter, r *http.Request) {
	list := s.reg.CustomRoots()
	writeOK(w, map[string]any{"roots": list, "count": len(list)})
}

type customRootRequest struct {
	Path  string `json:"path"`
	Label string `json:"label"`
	ID    string `json:"id"`
}

// handleCustomRootAdd registers a directory as a custom root and kicks
// off its initial scan in the background.
func (s *Server) handleCustomRootAdd(w http.ResponseWriter, r *http.Request) {
	var req customRootRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeErr(w, errcode.New(errcode.InvalidInput, "path is required"))
		return
	}

	res, err := s.reg.AddCustomRoot(req.Path, req.Label)
	if err != nil {
		writeErr(w, err)
		return
	}

	if !res.AlreadyExists {
		go func(root roots.CustomRoot) {
			opts := index.Options{
				Recursive:          true,
				Incremental:        true,
				BackgroundMetadata: true,
				Source:             storage.SourceCustom,
				RootID:             root.ID,
			}
			if _, err := s.indexer.ScanDirectory(context.Background(), root.Path, opts); err != nil {
				logger.Warn("initial custom root scan failed", "root_id", root.ID, "error", err)
				return
			}
			s.searcher.InvalidateListings()
		}(res.Root)
	}
	writeOK(w, res)
}

// handleCustomRootRemove unregisters a custom root and prunes its indexed
// assets.
func (s *Server) handleCustomRootRemove(w http.ResponseWriter, r *http.Request) {
	var req customRootRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.ID == "" {
		writeErr(w, errcode.New(errcode.InvalidInput, "id is required"))
		return
	}
	if err := s.reg.RemoveCustomRoot(req.ID); err != nil {
		writeErr(w, err)
		return
	}

	var pruned int64
	err := s.engine.Transaction(r.Context(), storage.TxImmediate, func(tx *storage.Tx) error {
		if _, err := tx.Execute(
			`DELETE FROM scan_journal WHERE filepath IN
			   (SELECT filepath FROM assets WHERE source = ? AND root_id = ?)`,
			storage.SourceCustom, req.ID); err != nil {
			return err
		}
		n, err := tx.Execute(
			`DELETE FROM assets WHERE source = ? AND root_id = ?`,
			storage.SourceCustom, req.ID)
		pruned = n
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.searcher.InvalidateListings()
	writeOK(w, map[string]any{"removed": req.ID, "pruned_assets": pruned})
}
