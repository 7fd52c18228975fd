// Package config loads the server configuration from file, environment,
// and defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (MAJOOR_*, plus the legacy MJR_* tuning vars)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the HTTP listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage configures the SQLite engine.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Scan configures the directory scanner.
	Scan ScanConfig `mapstructure:"scan" yaml:"scan"`

	// Enrichment configures the background metadata workers.
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`

	// Watcher configures the filesystem watcher.
	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher"`

	// Security configures CSRF, rate limiting, and write auth.
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Roots configures directory roots.
	Roots RootsConfig `mapstructure:"roots" yaml:"roots"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds one handler call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0" yaml:"request_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// MaxJSONBody bounds request bodies in bytes.
	// Override: MJR_MAX_JSON_SIZE.
	MaxJSONBody int64 `mapstructure:"max_json_body" validate:"gt=0" yaml:"max_json_body"`
}

// StorageConfig configures the SQLite engine.
type StorageConfig struct {
	// MaxConnections caps the reader pool.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=1,max=64" yaml:"max_connections"`

	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	HardTimeout    time.Duration `mapstructure:"hard_timeout" yaml:"hard_timeout"`

	// AutoReset enables corruption self-heal.
	// Override: MAJOOR_DB_AUTO_RESET.
	AutoReset bool `mapstructure:"auto_reset" yaml:"auto_reset"`
}

// ScanConfig tunes the scanner's batch ladder and throttle.
type ScanConfig struct {
	LadderSmallMax  int `mapstructure:"ladder_small_max" yaml:"ladder_small_max"`
	LadderMediumMax int `mapstructure:"ladder_medium_max" yaml:"ladder_medium_max"`
	LadderLargeMax  int `mapstructure:"ladder_large_max" yaml:"ladder_large_max"`
	BatchSmall      int `mapstructure:"batch_small" yaml:"batch_small"`
	BatchMedium     int `mapstructure:"batch_medium" yaml:"batch_medium"`
	BatchLarge      int `mapstructure:"batch_large" yaml:"batch_large"`
	BatchXL         int `mapstructure:"batch_xl" yaml:"batch_xl"`

	Grace time.Duration `mapstructure:"grace" yaml:"grace"`
}

// EnrichmentConfig configures the metadata workers.
type EnrichmentConfig struct {
	Workers     int           `mapstructure:"workers" validate:"omitempty,min=1,max=16" yaml:"workers"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	PauseWindow time.Duration `mapstructure:"pause_window" yaml:"pause_window"`

	// CacheDir holds the extraction cache. Empty disables it.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir,omitempty"`

	// SidecarSync mirrors metadata writes to .mjr.json sidecars.
	SidecarSync bool `mapstructure:"sidecar_sync" yaml:"sidecar_sync"`
}

// WatcherConfig configures the filesystem watcher.
// Overrides: MJR_WATCHER_*.
type WatcherConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce            time.Duration `mapstructure:"debounce" yaml:"debounce"`
	DedupeTTL           time.Duration `mapstructure:"dedupe_ttl" yaml:"dedupe_ttl"`
	MinFileSize         int64         `mapstructure:"min_file_size" yaml:"min_file_size"`
	MaxFileSize         int64         `mapstructure:"max_file_size" yaml:"max_file_size"`
	PendingMax          int           `mapstructure:"pending_max" yaml:"pending_max"`
	FlushMaxFiles       int           `mapstructure:"flush_max_files" yaml:"flush_max_files"`
	MaxFlushConcurrency int           `mapstructure:"max_flush_concurrency" yaml:"max_flush_concurrency"`
}

// SecurityConfig configures the mutating-endpoint guard.
type SecurityConfig struct {
	// APIToken is the write token, plain or "sha256:<hex>".
	// Overrides: MAJOOR_API_TOKEN, MAJOOR_API_TOKEN_HASH.
	APIToken    string `mapstructure:"api_token" yaml:"api_token,omitempty"`
	TokenPepper string `mapstructure:"token_pepper" yaml:"token_pepper,omitempty"`

	RequireAuth      bool `mapstructure:"require_auth" yaml:"require_auth"`
	AllowRemoteWrite bool `mapstructure:"allow_remote_write" yaml:"allow_remote_write"`

	// TrustedProxies lists CIDRs whose forwarded headers are honored.
	TrustedProxies        []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies,omitempty"`
	AllowInsecureTrustAll bool     `mapstructure:"allow_insecure_trusted_proxies" yaml:"allow_insecure_trusted_proxies"`

	// RateLimitMaxClients caps the limiter's per-client LRU.
	RateLimitMaxClients int `mapstructure:"rate_limit_max_clients" yaml:"rate_limit_max_clients"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// RootsConfig configures directory roots.
type RootsConfig struct {
	// OutputDirectory overrides the output root.
	// Overrides: MAJOOR_OUTPUT_DIRECTORY, MJR_AM_OUTPUT_DIRECTORY.
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory,omitempty"`

	// InputDirectory is the secondary scanned root.
	InputDirectory string `mapstructure:"input_directory" yaml:"input_directory,omitempty"`

	AllowSymlinkRoots bool `mapstructure:"allow_symlink_roots" yaml:"allow_symlink_roots"`
	MaxCustomRoots    int  `mapstructure:"max_custom_roots" yaml:"max_custom_roots"`
}

// legacyBindings maps config keys to their pre-rename environment
// variables, kept so existing deployments keep working.
var legacyBindings = map[string][]string{
	"roots.output_directory":                  {"MAJOOR_OUTPUT_DIRECTORY", "MJR_AM_OUTPUT_DIRECTORY"},
	"security.api_token":                      {"MAJOOR_API_TOKEN", "MAJOOR_API_TOKEN_HASH"},
	"security.token_pepper":                   {"MAJOOR_API_TOKEN_PEPPER"},
	"security.require_auth":                   {"MAJOOR_REQUIRE_AUTH"},
	"security.allow_remote_write":             {"MAJOOR_ALLOW_REMOTE_WRITE"},
	"security.trusted_proxies":                {"MAJOOR_TRUSTED_PROXIES"},
	"security.allow_insecure_trusted_proxies": {"MAJOOR_ALLOW_INSECURE_TRUSTED_PROXIES"},
	"server.max_json_body":                    {"MJR_MAX_JSON_SIZE"},
	"storage.auto_reset":                      {"MAJOOR_DB_AUTO_RESET"},
	"watcher.debounce":                        {"MJR_WATCHER_DEBOUNCE"},
	"watcher.pending_max":                     {"MJR_WATCHER_PENDING_MAX"},
	"scan.grace":                              {"MJR_AM_SCAN_GRACE"},
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, with restricted permissions since
// it may carry a token.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MAJOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range legacyBindings {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(DefaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Validate checks the loaded configuration against the struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// DefaultConfigDir returns the configuration directory.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "majoor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "majoor")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
