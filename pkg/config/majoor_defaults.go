package config

import "time"

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8188,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxJSONBody:     1 << 20, // 1 MiB
		},
		Storage: StorageConfig{
			MaxConnections: 8,
			AcquireTimeout: 30 * time.Second,
			QueryTimeout:   60 * time.Second,
			HardTimeout:    300 * time.Second,
			AutoReset:      true,
		},
		Scan: ScanConfig{
			LadderSmallMax:  500,
			LadderMediumMax: 5000,
			LadderLargeMax:  50000,
			BatchSmall:      100,
			BatchMedium:     250,
			BatchLarge:      500,
			BatchXL:         1000,
			Grace:           30 * time.Second,
		},
		Enrichment: EnrichmentConfig{
			Workers:     1,
			QueueSize:   1024,
			PauseWindow: 1500 * time.Millisecond,
			SidecarSync: false,
		},
		Watcher: WatcherConfig{
			Enabled:             true,
			Debounce:            750 * time.Millisecond,
			DedupeTTL:           2 * time.Second,
			PendingMax:          4096,
			FlushMaxFiles:       500,
			MaxFlushConcurrency: 2,
		},
		Security: SecurityConfig{
			AllowRemoteWrite:    false,
			RateLimitMaxClients: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Roots: RootsConfig{
			MaxCustomRoots: 64,
		},
	}
}
