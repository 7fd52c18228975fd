package api

import (
	"net/http"
	"strconv"
)

// defaultHamming is the perceptual-similarity bound in bits.
const defaultHamming = 8

// handleDuplicates returns exact and perceptual duplicate groups. Content
// hashes are computed lazily in bounded batches, so the first call over a
// fresh index reports progress via hashed/unhashed.
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	hamming := defaultHamming
	if raw := r.URL.Query().Get("hamming"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v <= 16 {
			hamming = v
		}
	}
	report, err := s.indexer.DuplicateGroups(r.Context(), hamming)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, report)
}

// handleDuplicateAlerts previews filepath groups that collide after case
// folding, the ones cleanup-case-duplicates would collapse.
func (s *Server) handleDuplicateAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.indexer.CaseDuplicateAlerts(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]any{"alerts": alerts, "count": len(alerts)})
}
