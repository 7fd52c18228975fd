package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/collections"
	"github.com/majoor-app/majoor/pkg/config"
	"github.com/majoor-app/majoor/pkg/extract"
	"github.com/majoor-app/majoor/pkg/index"
	"github.com/majoor-app/majoor/pkg/maintenance"
	"github.com/majoor-app/majoor/pkg/metrics"
	"github.com/majoor-app/majoor/pkg/roots"
	"github.com/majoor-app/majoor/pkg/search"
	"github.com/majoor-app/majoor/pkg/security"
	"github.com/majoor-app/majoor/pkg/settings"
	"github.com/majoor-app/majoor/pkg/storage"
)

// WatcherCapability is the watcher surface the server controls. The no-op
// variant is used when native watching is unavailable or disabled.
type WatcherCapability interface {
	Start() error
	Stop()
	Pending() int
}

// NoopWatcher satisfies WatcherCapability without watching anything.
type NoopWatcher struct{}

func (NoopWatcher) Start() error { return nil }
func (NoopWatcher) Stop()        {}
func (NoopWatcher) Pending() int { return 0 }

// Server wires every subsystem behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	engine   *storage.Engine
	reg      *roots.Registry
	settings *settings.Store
	searcher *search.Engine
	indexer  *index.Indexer
	watcher  WatcherCapability
	maint    *maintenance.Manager
	flag     *maintenance.Flag
	events   *maintenance.Broadcaster
	guard    *security.Guard
	metrics  *metrics.Metrics
	sidecar  *extract.SidecarSync
	colls    *collections.Store

	httpSrv *http.Server
	started time.Time
}

// Deps collects the server's collaborators.
type Deps struct {
	Config   *config.Config
	Engine   *storage.Engine
	Registry *roots.Registry
	Settings *settings.Store
	Searcher *search.Engine
	Indexer  *index.Indexer
	Watcher  WatcherCapability
	Manager  *maintenance.Manager
	Flag     *maintenance.Flag
	Events   *maintenance.Broadcaster
	Guard    *security.Guard
	Metrics  *metrics.Metrics
	Sidecar  *extract.SidecarSync
	Colls    *collections.Store
}

// NewServer assembles the HTTP server.
func NewServer(d Deps) *Server {
	w := d.Watcher
	if w == nil {
		w = NoopWatcher{}
	}
	colls := d.Colls
	if colls == nil {
		colls = collections.NewStore(d.Registry.IndexDir, d.Engine)
	}
	return &Server{
		cfg:      d.Config,
		engine:   d.Engine,
		reg:      d.Registry,
		settings: d.Settings,
		searcher: d.Searcher,
		indexer:  d.Indexer,
		watcher:  w,
		maint:    d.Manager,
		flag:     d.Flag,
		events:   d.Events,
		guard:    d.Guard,
		metrics:  d.Metrics,
		sidecar:  d.Sidecar,
		colls:    colls,
		started:  time.Now(),
	}
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack, order matters. RemoteAddr is left untouched; the
	// guard resolves forwarded headers itself, only for trusted proxies.
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Route("/mjr/am", func(r chi.Router) {
		// Read surface.
		r.With(s.fenceMaintenance).Get("/list", s.handleList)
		r.With(s.fenceMaintenance).Get("/search", s.handleSearch)
		r.With(s.fenceMaintenance, s.rateLimit("autocomplete")).Get("/autocomplete", s.handleAutocomplete)
		r.Get("/asset/{id}", s.handleAssetGet)
		r.Get("/workflow-quick", s.handleWorkflowQuick)
		r.Get("/tags", s.handleTagVocabulary)
		r.Get("/metadata", s.handleMetadata)
		r.Get("/custom-roots", s.handleCustomRootsList)
		r.Get("/custom-view", s.handleCustomView)
		r.Get("/collections", s.handleCollectionsList)
		r.Get("/collections/{id}", s.handleCollectionGet)
		r.With(s.fenceMaintenance).Get("/duplicates", s.handleDuplicates)
		r.With(s.fenceMaintenance).Get("/duplicates/alerts", s.handleDuplicateAlerts)

		// Health and diagnostics.
		r.Get("/health", s.handleHealth)
		r.Get("/health/counters", s.handleHealthCounters)
		r.Get("/health/db", s.handleHealthDB)
		r.Get("/status", s.handleStatus)

		// Maintenance event stream.
		r.Get("/db/events", s.handleEvents)

		// Batch hydrate is a POST for payload size, still read-only.
		r.Post("/assets/batch", s.handleAssetsBatch)

		// Mutating surface.
		r.With(s.mutating("rating", security.OpWrite)).Post("/asset/rating", s.handleAssetRating)
		r.With(s.mutating("tags", security.OpWrite)).Post("/asset/tags", s.handleAssetTags)
		r.With(s.mutating("delete", security.OpDelete)).Post("/asset/delete", s.handleAssetDelete)
		r.With(s.mutating("delete", security.OpDelete)).Post("/assets/delete", s.handleAssetsBulkDelete)
		r.With(s.mutating("rename", security.OpRename)).Post("/asset/rename", s.handleAssetRename)
		r.With(s.mutating("open_in_folder", security.OpOpenInFolder)).Post("/open-in-folder", s.handleOpenInFolder)
		r.With(s.mutating("scan", security.OpWrite)).Post("/scan", s.handleScan)
		r.With(s.mutating("custom_roots", security.OpWrite)).Post("/custom-roots", s.handleCustomRootAdd)
		r.With(s.mutating("custom_roots", security.OpWrite)).Post("/custom-roots/remove", s.handleCustomRootRemove)
		r.With(s.mutating("collections", security.OpWrite)).Post("/collections", s.handleCollectionSave)
		r.With(s.mutating("collections", security.OpWrite)).Post("/collections/remove", s.handleCollectionRemove)
		r.With(s.mutating("settings", security.OpWrite)).Post("/settings", s.handleSettingsSet)
		r.Get("/settings", s.handleSettingsGet)

		// Database maintenance.
		r.With(s.mutating("db_admin", security.OpResetIndex)).Post("/db/force-delete", s.handleForceDelete)
		r.With(s.mutating("db_admin", security.OpWrite)).Post("/db/backup-save", s.handleBackupSave)
		r.With(s.mutating("db_admin", security.OpResetIndex)).Post("/db/backup-restore", s.handleBackupRestore)
		r.With(s.mutating("db_admin", security.OpResetIndex)).Post("/db/cleanup-case-duplicates", s.handleCleanupCaseDuplicates)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler())
	}

	return r
}

// ListenAndServe starts the HTTP listener and blocks until ctx ends, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
