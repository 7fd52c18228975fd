package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/api"
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
	"github.com/majoor-app/majoor/pkg/watcher"
)

var skipInitialScan bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the asset manager server",
	Long: `Start the HTTP server, run the initial scan, and watch the roots for
changes.

Examples:
  majoord serve
  majoord serve --config /etc/majoor/config.yaml
  MAJOOR_LOGGING_LEVEL=DEBUG majoord serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipInitialScan, "skip-initial-scan", false, "Do not scan the roots on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("starting majoord", "version", Version, "commit", Commit)

	// The settings store is created after the engine, but the registry
	// needs its override at resolve time, so the closure binds late.
	var store *settings.Store
	reg, err := roots.NewRegistry(roots.Config{
		InputRoot: cfg.Roots.InputDirectory,
		OverrideFn: func() string {
			if store != nil {
				if v, ok, err := store.Get(context.Background(), settings.KeyOutputDirOverride); err == nil && ok {
					return v
				}
			}
			return cfg.Roots.OutputDirectory
		},
		AllowSymlinkRoots: cfg.Roots.AllowSymlinkRoots,
		MaxCustomRoots:    cfg.Roots.MaxCustomRoots,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize roots: %w", err)
	}

	engine, err := storage.Open(storage.Config{
		Path:           filepath.Join(reg.IndexDir(), "assets.sqlite"),
		MaxConns:       cfg.Storage.MaxConnections,
		AcquireTimeout: cfg.Storage.AcquireTimeout,
		QueryTimeout:   cfg.Storage.QueryTimeout,
		HardTimeout:    cfg.Storage.HardTimeout,
		AutoReset:      cfg.Storage.AutoReset,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = engine.Close() }()

	store = settings.NewStore(engine, 5*time.Second)

	// Config seeds the sidecar toggle once; after that the settings store
	// owns it and survives restarts.
	if cfg.Enrichment.SidecarSync {
		if _, ok, err := store.Get(cmd.Context(), settings.KeySidecarSyncEnabled); err == nil && !ok {
			if err := store.Set(cmd.Context(), settings.KeySidecarSyncEnabled, "true"); err != nil {
				logger.Warn("failed to seed sidecar sync setting", "error", err)
			}
		}
	}

	var cache *extract.MetadataCache
	if cfg.Enrichment.CacheDir != "" {
		cache, err = extract.OpenMetadataCache(cfg.Enrichment.CacheDir)
		if err != nil {
			logger.Warn("metadata cache unavailable, extraction will not be cached", "error", err)
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	flag := maintenance.NewFlag()
	events := maintenance.NewBroadcaster()

	ix := index.New(engine, reg, extract.NewProbeExtractor(), cache, flag, index.Config{
		LadderSmallMax:  cfg.Scan.LadderSmallMax,
		LadderMediumMax: cfg.Scan.LadderMediumMax,
		LadderLargeMax:  cfg.Scan.LadderLargeMax,
		BatchSmall:      cfg.Scan.BatchSmall,
		BatchMedium:     cfg.Scan.BatchMedium,
		BatchLarge:      cfg.Scan.BatchLarge,
		BatchXL:         cfg.Scan.BatchXL,
		ScanGrace:       cfg.Scan.Grace,
		Workers:         cfg.Enrichment.Workers,
		QueueSize:       cfg.Enrichment.QueueSize,
		PauseWindow:     cfg.Enrichment.PauseWindow,
	})
	searcher := search.New(engine, reg, ix.Pause(), nil)

	sidecar := extract.NewSidecarSync(1024)
	sidecar.Start()
	defer sidecar.Stop()

	limiter := security.NewRateLimiter(security.RateLimiterConfig{
		MaxClients: cfg.Security.RateLimitMaxClients,
	})
	guard, err := security.NewGuard(security.Config{
		WriteToken:       cfg.Security.APIToken,
		TokenPepper:      cfg.Security.TokenPepper,
		RequireAuth:      cfg.Security.RequireAuth,
		AllowRemoteWrite: cfg.Security.AllowRemoteWrite,
		TrustedProxies:   cfg.Security.TrustedProxies,
		InsecureTrustAll: cfg.Security.AllowInsecureTrustAll,
	}, limiter)
	if err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr = metrics.New(true)
	}

	var w api.WatcherCapability = api.NoopWatcher{}
	if cfg.Watcher.Enabled {
		native, werr := watcher.New(ix, reg.OutputRoot(""), storage.SourceOutput, "", watcher.Config{
			Debounce:            cfg.Watcher.Debounce,
			DedupeTTL:           cfg.Watcher.DedupeTTL,
			MinFileSize:         cfg.Watcher.MinFileSize,
			MaxFileSize:         cfg.Watcher.MaxFileSize,
			PendingMax:          cfg.Watcher.PendingMax,
			FlushMaxFiles:       cfg.Watcher.FlushMaxFiles,
			MaxFlushConcurrency: cfg.Watcher.MaxFlushConcurrency,
		})
		if werr != nil {
			logger.Warn("native watcher unavailable, falling back to rescans", "error", werr)
		} else {
			w = native
		}
	}

	rescan := func() {
		ctx := context.Background()
		opts := index.Options{Recursive: true, Incremental: true, BackgroundMetadata: true}
		if _, err := ix.ScanDirectory(ctx, reg.OutputRoot(""), opts); err != nil {
			logger.Warn("output rescan failed", "error", err)
		}
		if in := reg.InputRoot(); in != "" {
			opts.Source = storage.SourceInput
			if _, err := ix.ScanDirectory(ctx, in, opts); err != nil {
				logger.Warn("input rescan failed", "error", err)
			}
		}
		searcher.InvalidateListings()
	}

	manager := maintenance.NewManager(engine, flag, events, reg.IndexDir, maintenance.Hooks{
		StopWorkers: func() {
			w.Stop()
			ix.StopWorkers()
		},
		StartWorkers: func() {
			ix.StartWorkers()
			if err := w.Start(); err != nil {
				logger.Warn("watcher restart failed", "error", err)
			}
		},
		Rescan: rescan,
	})

	ix.StartWorkers()
	defer ix.StopWorkers()
	if err := w.Start(); err != nil {
		logger.Warn("watcher start failed", "error", err)
	} else {
		defer w.Stop()
	}

	if !skipInitialScan {
		go rescan()
	}

	srv := api.NewServer(api.Deps{
		Config:   cfg,
		Engine:   engine,
		Registry: reg,
		Settings: store,
		Searcher: searcher,
		Indexer:  ix,
		Watcher:  w,
		Manager:  manager,
		Flag:     flag,
		Events:   events,
		Guard:    guard,
		Metrics:  mtr,
		Sidecar:  sidecar,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
