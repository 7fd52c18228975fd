package api

import (
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/extract"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/storage"
)

// viewContentTypes is the strict allowlist for /custom-view.
var viewContentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"avif": "image/avif",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
}

// resolveMediaPath builds and authorizes a path from either an explicit
// filepath or (root_id, subfolder, filename) coordinates.
func (s *Server) resolveMediaPath(q map[string]string) (string, error) {
	if fp := q["filepath"]; fp != "" {
		if strings.ContainsRune(fp, 0) || strings.Contains(fp, "..") {
			return "", errcode.New(errcode.InvalidInput, "invalid filepath")
		}
		abs, err := filepath.Abs(fp)
		if err != nil {
			return "", errcode.New(errcode.InvalidInput, "invalid filepath")
		}
		abs = roots.NormalizeCase(abs)
		if !s.reg.IsPathAllowed(abs, true) {
			if _, ok := s.reg.IsPathAllowedCustom(abs); !ok {
				return "", errcode.New(errcode.Forbidden, "path outside allowed roots")
			}
		}
		return abs, nil
	}

	filename := q["filename"]
	if filename == "" || strings.ContainsAny(filename, "/\\") {
		return "", errcode.New(errcode.InvalidInput, "filename required")
	}
	sub, err := roots.SafeRelPath(q["subfolder"])
	if err != nil {
		return "", err
	}

	var base string
	switch {
	case q["root_id"] != "":
		resolved, err := s.reg.ResolveCustomRoot(q["root_id"])
		if err != nil {
			return "", err
		}
		base = resolved
	case q["type"] == storage.SourceInput:
		base = s.reg.InputRoot()
	default:
		base = s.reg.OutputRoot("")
	}
	if base == "" {
		return "", errcode.New(errcode.NotFound, "no directory for scope")
	}

	abs := roots.NormalizeCase(filepath.Join(base, filepath.FromSlash(sub), filename))
	if !s.reg.IsPathAllowed(abs, true) {
		if _, ok := s.reg.IsPathAllowedCustom(abs); !ok {
			return "", errcode.New(errcode.Forbidden, "path outside allowed roots")
		}
	}
	return abs, nil
}

func queryMap(r *http.Request, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = r.URL.Query().Get(k)
	}
	return out
}

// handleCustomView serves a media file with the strict content-type
// allowlist and hardening headers.
func (s *Server) handleCustomView(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveMediaPath(queryMap(r, "filepath", "root_id", "filename", "subfolder", "type"))
	if err != nil {
		writeErr(w, err)
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	ctype, ok := viewContentTypes[ext]
	if !ok {
		writeErr(w, errcode.New(errcode.Unsupported, "file type not servable"))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			writeErr(w, errcode.New(errcode.Forbidden, "file not accessible"))
			return
		}
		writeErr(w, errcode.New(errcode.NotFound, "file not found"))
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		writeErr(w, errcode.New(errcode.NotFound, "file not found"))
		return
	}

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("X-Frame-Options", "DENY")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// handleWorkflowQuick returns the embedded workflow JSON for a file, or
// null when none exists.
func (s *Server) handleWorkflowQuick(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveMediaPath(queryMap(r, "filepath", "root_id", "filename", "subfolder", "type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	meta, err := s.extractAt(r, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	if meta == nil || !meta.HasWorkflow() {
		writeOK(w, nil)
		return
	}
	writeOK(w, map[string]any{
		"workflow":      meta.Workflow,
		"workflow_type": extract.WorkflowType(meta.Workflow),
	})
}

// handleMetadata returns the raw extraction result for a file.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveMediaPath(queryMap(r, "filepath", "root_id", "filename", "subfolder", "type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	meta, err := s.extractAt(r, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, meta)
}

func (s *Server) extractAt(r *http.Request, path string) (*extract.ExtractedMetadata, error) {
	extractor := extract.NewProbeExtractor()
	meta, err := extractor.Extract(r.Context(), path)
	if err != nil {
		return nil, errcode.Wrap(errcode.MetadataFailed, "metadata extraction failed", err)
	}
	return meta, nil
}

// handleOpenInFolder reveals the file in the host's file manager. On
// platforms without a selection verb the parent directory is opened and
// fallback is reported.
func (s *Server) handleOpenInFolder(w http.ResponseWriter, r *http.Request) {
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
	row, err := s.assetByID(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	path := row.String("filepath")

	opened, selected, fallback := openInFolder(path)
	if !opened {
		writeErr(w, errcode.New(errcode.ToolMissing, "no file manager available"))
		return
	}
	writeOK(w, map[string]any{"opened": opened, "selected": selected, "fallback": fallback})
}

func openInFolder(path string) (opened, selected, fallback bool) {
	switch runtime.GOOS {
	case "darwin":
		if exec.Command("open", "-R", path).Start() == nil {
			return true, true, false
		}
	case "windows":
		if exec.Command("explorer", "/select,", path).Start() == nil {
			return true, true, false
		}
	default:
		if exec.Command("xdg-open", filepath.Dir(path)).Start() == nil {
			return true, false, true
		}
	}
	return false, false, false
}
