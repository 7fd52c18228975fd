package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/extract"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/settings"
	"github.com/majoor-app/majoor/pkg/storage"
)

// Tag limits.
const (
	maxTagsPerAsset = 50
	maxTagLength    = 100
)

const sidecarSuffix = extract.SidecarSuffix

// assetRef identifies an asset by id or filepath in mutation payloads.
type assetRef struct {
	AssetID  int64  `json:"asset_id"`
	Filepath string `json:"filepath"`
}

// resolveRef returns the asset id for a reference, indexing the file on
// demand when only a filepath is given.
func (s *Server) resolveRef(ctx context.Context, ref assetRef) (int64, error) {
	if ref.AssetID > 0 {
		return ref.AssetID, nil
	}
	if ref.Filepath == "" {
		return 0, errcode.New(errcode.InvalidInput, "asset_id or filepath required")
	}
	if strings.ContainsRune(ref.Filepath, 0) || strings.Contains(ref.Filepath, "..") {
		return 0, errcode.New(errcode.InvalidInput, "invalid filepath")
	}
	return s.indexer.ResolveOrCreate(ctx, ref.Filepath)
}

// assetByID loads the joined asset/metadata row.
func (s *Server) assetByID(ctx context.Context, id int64) (storage.Row, error) {
	rows, err := s.engine.Query(ctx,
		`SELECT a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
			a.kind, a.ext, a.size_bytes, a.mtime, a.width, a.height, a.duration,
			COALESCE(m.rating, 0) AS rating, COALESCE(m.tags, '[]') AS tags,
			COALESCE(m.has_workflow, 0) AS has_workflow,
			COALESCE(m.has_generation_data, 0) AS has_generation_data,
			COALESCE(m.metadata_quality, '') AS metadata_quality
		 FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id
		 WHERE a.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errcode.New(errcode.NotFound, "asset not found")
	}
	return rows[0], nil
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" || json.Unmarshal([]byte(raw), &tags) != nil {
		return []string{}
	}
	return tags
}

func (s *Server) handleAssetGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, errcode.New(errcode.InvalidInput, "invalid asset id"))
		return
	}
	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, assetPayload(row))
}

func assetPayload(row storage.Row) map[string]any {
	out := map[string]any(row)
	out["tags"] = decodeTags(row.String("tags"))
	return out
}

func (s *Server) handleAssetsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetIDs []int64 `json:"asset_ids"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.AssetIDs) == 0 {
		writeOK(w, map[string]any{"assets": []any{}})
		return
	}
	ids := make([]any, len(req.AssetIDs))
	for i, id := range req.AssetIDs {
		ids[i] = id
	}
	rows, err := s.engine.QueryIn(r.Context(),
		`SELECT a.id, a.filepath, a.filename, a.subfolder, a.source, a.root_id,
			a.kind, a.ext, a.size_bytes, a.mtime, a.width, a.height, a.duration,
			COALESCE(m.rating, 0) AS rating, COALESCE(m.tags, '[]') AS tags,
			COALESCE(m.has_workflow, 0) AS has_workflow,
			COALESCE(m.metadata_quality, '') AS metadata_quality
		 FROM assets a LEFT JOIN asset_metadata m ON m.asset_id = a.id
		 WHERE a.id IN (?...)`, ids)
	if err != nil {
		writeErr(w, err)
		return
	}
	assets := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, assetPayload(row))
	}
	writeOK(w, map[string]any{"assets": assets})
}

func (s *Server) handleAssetRating(w http.ResponseWriter, r *http.Request) {
	var req struct {
		assetRef
		Rating *int `json:"rating"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Rating == nil || *req.Rating < 0 || *req.Rating > 5 {
		writeErr(w, errcode.New(errcode.InvalidInput, "rating must be between 0 and 5"))
		return
	}
	id, err := s.resolveRef(r.Context(), req.assetRef)
	if err != nil {
		writeErr(w, err)
		return
	}

	err = s.engine.Transaction(r.Context(), storage.TxImmediate, func(tx *storage.Tx) error {
		n, err := tx.Execute(
			`INSERT INTO asset_metadata (asset_id, rating, tags, tags_text, updated_at)
			 SELECT id, ?, '[]', '', CURRENT_TIMESTAMP FROM assets WHERE id = ?
			 ON CONFLICT(asset_id) DO UPDATE SET rating = excluded.rating, updated_at = CURRENT_TIMESTAMP`,
			*req.Rating, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return errcode.New(errcode.NotFound, "asset not found")
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.afterMetadataWrite(r, id)

	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, assetPayload(row))
}

// normalizeTags dedupes case-insensitively while preserving the first
// spelling, and enforces the per-asset limits.
func normalizeTags(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, errcode.Newf(errcode.InvalidInput, "tag exceeds %d characters", maxTagLength)
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > maxTagsPerAsset {
		return nil, errcode.Newf(errcode.InvalidInput, "at most %d tags per asset", maxTagsPerAsset)
	}
	return out, nil
}

func (s *Server) handleAssetTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		assetRef
		Tags []string `json:"tags"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	tags, err := normalizeTags(req.Tags)
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.resolveRef(r.Context(), req.assetRef)
	if err != nil {
		writeErr(w, err)
		return
	}

	encoded, err := json.Marshal(tags)
	if err != nil {
		writeErr(w, errcode.Wrap(errcode.InvalidInput, "tags not encodable", err))
		return
	}
	tagsText := strings.Join(tags, " ")

	err = s.engine.Transaction(r.Context(), storage.TxImmediate, func(tx *storage.Tx) error {
		n, err := tx.Execute(
			`INSERT INTO asset_metadata (asset_id, rating, tags, tags_text, updated_at)
			 SELECT id, 0, ?, ?, CURRENT_TIMESTAMP FROM assets WHERE id = ?
			 ON CONFLICT(asset_id) DO UPDATE SET
				tags = excluded.tags, tags_text = excluded.tags_text, updated_at = CURRENT_TIMESTAMP`,
			string(encoded), tagsText, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return errcode.New(errcode.NotFound, "asset not found")
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	s.afterMetadataWrite(r, id)

	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, assetPayload(row))
}

// afterMetadataWrite invalidates listings and mirrors the row to its
// sidecar. Sidecar sync is opt-in, either per request via the
// X-MJR-Sidecar header or globally via settings.
func (s *Server) afterMetadataWrite(r *http.Request, id int64) {
	s.searcher.InvalidateListings()
	if s.sidecar == nil {
		return
	}
	want := r.Header.Get("X-MJR-Sidecar") == "1"
	if !want && s.settings != nil {
		want = s.settings.GetBool(r.Context(), settings.KeySidecarSyncEnabled, false)
	}
	if !want {
		return
	}
	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		return
	}
	s.sidecar.Enqueue(row.String("filepath"), int(row.Int64("rating")), decodeTags(row.String("tags")))
}

// deleteOne removes one asset's file and rows. DB rows survive when the
// file unlink fails so the asset stays visible and retryable.
func (s *Server) deleteOne(ctx context.Context, id int64) error {
	row, err := s.assetByID(ctx, id)
	if err != nil {
		return err
	}
	path := row.String("filepath")
	if !s.reg.IsPathAllowed(path, false) {
		if _, ok := s.reg.IsPathAllowedCustom(path); !ok {
			return errcode.New(errcode.Forbidden, "path outside allowed roots")
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errcode.Wrap(errcode.DeleteFailed, "file could not be deleted", err)
	}
	// Sidecar removal is best-effort.
	_ = os.Remove(path + sidecarSuffix)

	return s.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		if _, err := tx.Execute(`DELETE FROM scan_journal WHERE filepath = ?`, path); err != nil {
			return err
		}
		_, err := tx.Execute(`DELETE FROM assets WHERE id = ?`, id)
		return err
	})
}

func (s *Server) handleAssetDelete(w http.ResponseWriter, r *http.Request) {
	var req assetRef
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.resolveRef(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deleteOne(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	s.searcher.InvalidateListings()
	writeOK(w, map[string]any{"deleted": 1})
}

func (s *Server) handleAssetsBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.IDs) == 0 {
		writeErr(w, errcode.New(errcode.InvalidInput, "ids required"))
		return
	}

	deleted := make([]int64, 0, len(req.IDs))
	failed := make([]int64, 0)
	errs := make(map[string]string)
	for _, id := range req.IDs {
		if err := s.deleteOne(r.Context(), id); err != nil {
			failed = append(failed, id)
			errs[strconv.FormatInt(id, 10)] = errcode.MessageOf(err)
			continue
		}
		deleted = append(deleted, id)
	}
	s.searcher.InvalidateListings()

	data := map[string]any{
		"deleted_ids": deleted,
		"failed_ids":  failed,
		"errors":      errs,
	}
	if len(failed) > 0 {
		writeOKMeta(w, data, map[string]any{"partial": true})
		return
	}
	writeOK(w, data)
}

func (s *Server) handleAssetRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		assetRef
		NewName string `json:"new_name"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	newName := strings.TrimSpace(req.NewName)
	if newName == "" || strings.ContainsAny(newName, "/\\") || strings.ContainsRune(newName, 0) || newName == "." || newName == ".." {
		writeErr(w, errcode.New(errcode.InvalidInput, "invalid new name"))
		return
	}
	id, err := s.resolveRef(r.Context(), req.assetRef)
	if err != nil {
		writeErr(w, err)
		return
	}
	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	oldPath := row.String("filepath")
	newPath := roots.NormalizeCase(filepath.Join(filepath.Dir(oldPath), newName))
	if newPath == oldPath {
		writeOK(w, assetPayload(row))
		return
	}

	// An existing target is a conflict unless this is a case-only rename
	// of the same file on a case-insensitive filesystem.
	caseOnly := strings.EqualFold(oldPath, newPath)
	if _, statErr := os.Stat(newPath); statErr == nil && !caseOnly {
		writeErr(w, errcode.New(errcode.Conflict, "target already exists"))
		return
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		writeErr(w, errcode.Wrap(errcode.RenameFailed, "rename failed", err))
		return
	}
	if _, statErr := os.Stat(oldPath + sidecarSuffix); statErr == nil {
		_ = os.Rename(oldPath+sidecarSuffix, newPath+sidecarSuffix)
	}

	err = s.engine.Transaction(r.Context(), storage.TxImmediate, func(tx *storage.Tx) error {
		if _, err := tx.Execute(
			`UPDATE assets SET filepath = ?, filename = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			newPath, filepath.Base(newPath), id); err != nil {
			return err
		}
		_, err := tx.Execute(
			`UPDATE scan_journal SET filepath = ? WHERE filepath = ?`, newPath, oldPath)
		return err
	})
	if err != nil {
		// The file moved but the index did not; the next scan reconciles.
		logger.Warn("rename index update failed", "path", newPath, "error", err)
		writeErr(w, errcode.Wrap(errcode.DBError, "rename not recorded", err))
		return
	}
	s.searcher.InvalidateListings()

	row, err = s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, assetPayload(row))
}
