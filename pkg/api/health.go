package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// handleHealthCounters reports per-source asset counts plus queue depths.
func (s *Server) handleHealthCounters(w http.ResponseWriter, r *http.Request) {
	rows, err := s.engine.Query(r.Context(),
		`SELECT source, COUNT(*) AS n FROM assets GROUP BY source`)
	if err != nil {
		writeErr(w, err)
		return
	}
	bySource := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		n := row.Int64("n")
		bySource[row.String("source")] = n
		total += n
	}

	journal, err := s.engine.Query(r.Context(), `SELECT COUNT(*) AS n FROM scan_journal`)
	if err != nil {
		writeErr(w, err)
		return
	}
	var journalRows int64
	if len(journal) == 1 {
		journalRows = journal[0].Int64("n")
	}

	writeOK(w, map[string]any{
		"assets_total":       total,
		"assets_by_source":   bySource,
		"journal_rows":       journalRows,
		"enrichment_queue":   s.indexer.QueueLength(),
		"watcher_pending":    s.watcher.Pending(),
		"sidecar_queue":      s.sidecarQueueLength(),
		"maintenance_active": s.flag != nil && s.flag.IsActive(),
	})
}

func (s *Server) sidecarQueueLength() int {
	if s.sidecar == nil {
		return 0
	}
	return s.sidecar.QueueLength()
}

// handleHealthDB reports storage engine diagnostics plus a liveness probe
// query.
func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	diag := s.engine.Diagnostics()
	_, probeErr := s.engine.Query(r.Context(), `SELECT 1 AS ok`)

	out := map[string]any{
		"path":        s.engine.Path(),
		"diagnostics": diag,
		"reachable":   probeErr == nil,
	}
	if probeErr != nil {
		out["probe_error"] = errcode.MessageOf(probeErr)
	}
	writeOK(w, out)
}

// handleStatus is the one-call overview the UI polls.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	version := int64(0)
	if s.settings != nil {
		if v, err := s.settings.Version(r.Context()); err == nil {
			version = v
		}
	}
	writeOK(w, map[string]any{
		"version":            Version,
		"uptime":             time.Since(s.started).Round(time.Second).String(),
		"output_root":        s.reg.OutputRoot(""),
		"input_root":         s.reg.InputRoot(),
		"custom_roots":       len(s.reg.CustomRoots()),
		"settings_version":   version,
		"maintenance_active": s.flag != nil && s.flag.IsActive(),
		"watcher_pending":    s.watcher.Pending(),
		"enrichment_queue":   s.indexer.QueueLength(),
	})
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
}

// handleEvents streams maintenance events as server-sent events. Recent
// history is replayed on connect so a client that reconnects mid-restore
// still sees the operation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || s.events == nil {
		writeErr(w, errcode.New(errcode.Unsupported, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := s.events.Subscribe()
	defer cancel()

	for _, ev := range s.events.Recent() {
		writeSSE(w, ev)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev any) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: maintenance\ndata: %s\n\n", payload)
}
