package api

import (
	"net/http"
	"strings"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/settings"
)

// handleForceDelete drops the index database files and recreates an empty
// schema. A rescan is kicked off by the maintenance hooks afterwards.
func (s *Server) handleForceDelete(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		writeErr(w, errcode.New(errcode.Unsupported, "maintenance manager not configured"))
		return
	}
	if err := s.maint.ForceDelete(); err != nil {
		writeErr(w, err)
		return
	}
	s.metrics.RecordDBReset()
	s.searcher.InvalidateListings()
	writeOK(w, map[string]any{"reset": true})
}

// handleBackupSave snapshots the database files into the archive folder.
func (s *Server) handleBackupSave(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		writeErr(w, errcode.New(errcode.Unsupported, "maintenance manager not configured"))
		return
	}
	name, err := s.maint.BackupSave()
	if err != nil {
		writeErr(w, err)
		return
	}
	backups, err := s.maint.Backups()
	if err != nil {
		logger.Warn("backup list unavailable after save", "error", err)
		backups = []string{name}
	}
	writeOK(w, map[string]any{"backup": name, "backups": backups})
}

type backupRestoreRequest struct {
	Name string `json:"name"`
}

// handleBackupRestore replaces the live database with a named backup.
func (s *Server) handleBackupRestore(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		writeErr(w, errcode.New(errcode.Unsupported, "maintenance manager not configured"))
		return
	}
	var req backupRestoreRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.ContainsAny(req.Name, "/\\") || strings.Contains(req.Name, "..") {
		writeErr(w, errcode.New(errcode.InvalidInput, "invalid backup name"))
		return
	}
	if err := s.maint.BackupRestore(req.Name); err != nil {
		writeErr(w, err)
		return
	}
	s.searcher.InvalidateListings()
	writeOK(w, map[string]any{"restored": req.Name})
}

// handleCleanupCaseDuplicates collapses case-variant duplicate rows,
// keeping the most recently modified asset of each group.
func (s *Server) handleCleanupCaseDuplicates(w http.ResponseWriter, r *http.Request) {
	res, err := s.indexer.CleanupCaseDuplicates(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Deleted > 0 {
		s.searcher.InvalidateListings()
	}
	writeOK(w, res)
}

// settableKeys is the allowlist for /settings writes. Everything else is
// internal state and rejected.
var settableKeys = map[string]bool{
	settings.KeyOutputDirOverride:  true,
	settings.KeySafeMode:           true,
	settings.KeyAllowWrite:         true,
	settings.KeyAllowDelete:        true,
	settings.KeyAllowRename:        true,
	settings.KeyAllowOpenInFolder:  true,
	settings.KeyAllowResetIndex:    true,
	settings.KeyProbeBackend:       true,
	settings.KeyMetadataFallback:   true,
	settings.KeySidecarSyncEnabled: true,
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	all, err := s.settings.All(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	version, err := s.settings.Version(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"settings": all, "version": version})
}

type settingsSetRequest struct {
	Settings map[string]string `json:"settings"`
}

func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var req settingsSetRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.Settings) == 0 {
		writeErr(w, errcode.New(errcode.InvalidInput, "no settings provided"))
		return
	}
	for key := range req.Settings {
		if !settableKeys[key] {
			writeErr(w, errcode.Newf(errcode.InvalidInput, "unknown setting %q", key))
			return
		}
	}
	for key, value := range req.Settings {
		if err := s.settings.Set(r.Context(), key, value); err != nil {
			writeErr(w, err)
			return
		}
	}
	version, err := s.settings.Version(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"updated": len(req.Settings), "version": version})
}
