package apiclient

import (
	"fmt"
	"net/url"
	"strconv"
)

// Status is the server overview returned by /status.
type Status struct {
	Version           string `json:"version"`
	Uptime            string `json:"uptime"`
	OutputRoot        string `json:"output_root"`
	InputRoot         string `json:"input_root"`
	CustomRoots       int    `json:"custom_roots"`
	SettingsVersion   int64  `json:"settings_version"`
	MaintenanceActive bool   `json:"maintenance_active"`
	WatcherPending    int    `json:"watcher_pending"`
	EnrichmentQueue   int    `json:"enrichment_queue"`
}

// Status fetches the server overview.
func (c *Client) Status() (*Status, error) {
	var out Status
	if err := c.get("/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Counters is the /health/counters payload.
type Counters struct {
	AssetsTotal       int64            `json:"assets_total"`
	AssetsBySource    map[string]int64 `json:"assets_by_source"`
	JournalRows       int64            `json:"journal_rows"`
	EnrichmentQueue   int              `json:"enrichment_queue"`
	WatcherPending    int              `json:"watcher_pending"`
	SidecarQueue      int              `json:"sidecar_queue"`
	MaintenanceActive bool             `json:"maintenance_active"`
}

// Counters fetches index counters.
func (c *Client) Counters() (*Counters, error) {
	var out Counters
	if err := c.get("/health/counters", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Asset is one listed item.
type Asset struct {
	ID        int64    `json:"id"`
	Filepath  string   `json:"filepath"`
	Filename  string   `json:"filename"`
	Subfolder string   `json:"subfolder"`
	Source    string   `json:"source"`
	Kind      string   `json:"kind"`
	Ext       string   `json:"ext"`
	SizeBytes int64    `json:"size_bytes"`
	Mtime     float64  `json:"mtime"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

// ListResult is one page of assets.
type ListResult struct {
	Assets []Asset `json:"assets"`
	Total  int64   `json:"total"`
	Scope  string  `json:"scope"`
}

// ListOptions narrow a listing request.
type ListOptions struct {
	Scope  string
	Query  string
	Sort   string
	Limit  int
	Offset int
}

// List fetches one page of assets.
func (c *Client) List(opts ListOptions) (*ListResult, error) {
	q := url.Values{}
	if opts.Scope != "" {
		q.Set("scope", opts.Scope)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out ListResult
	if err := c.get("/list?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ScanStats mirrors the server's per-scan report.
type ScanStats struct {
	Scanned  int     `json:"scanned"`
	Added    int     `json:"added"`
	Updated  int     `json:"updated"`
	Skipped  int     `json:"skipped"`
	Errors   int     `json:"errors"`
	Duration float64 `json:"duration"`
}

// Scan triggers a synchronous scan of one scope.
func (c *Client) Scan(scope, rootID string, incremental bool) (*ScanStats, error) {
	body := map[string]any{"scope": scope, "incremental": incremental}
	if rootID != "" {
		body["root_id"] = rootID
	}
	var out ScanStats
	if err := c.post("/scan", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BackupResult is the /db/backup-save answer.
type BackupResult struct {
	Backup  string   `json:"backup"`
	Backups []string `json:"backups"`
}

// BackupSave snapshots the index database.
func (c *Client) BackupSave() (*BackupResult, error) {
	var out BackupResult
	if err := c.post("/db/backup-save", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BackupRestore replaces the live database with a named backup.
func (c *Client) BackupRestore(name string) error {
	if name == "" {
		return fmt.Errorf("backup name is required")
	}
	return c.post("/db/backup-restore", map[string]any{"name": name}, nil)
}

// ForceDelete drops and recreates the index database.
func (c *Client) ForceDelete() error {
	return c.post("/db/force-delete", map[string]any{}, nil)
}

// CleanupResult reports a case-duplicate cleanup pass.
type CleanupResult struct {
	Groups  int `json:"groups"`
	Deleted int `json:"deleted"`
}

// CleanupCaseDuplicates collapses case-variant duplicate index rows.
func (c *Client) CleanupCaseDuplicates() (*CleanupResult, error) {
	var out CleanupResult
	if err := c.post("/db/cleanup-case-duplicates", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SettingsPage is the /settings payload.
type SettingsPage struct {
	Settings map[string]string `json:"settings"`
	Version  int64             `json:"version"`
}

// Settings fetches the settings store contents.
func (c *Client) Settings() (*SettingsPage, error) {
	var out SettingsPage
	if err := c.get("/settings", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetSetting writes one settings key.
func (c *Client) SetSetting(key, value string) error {
	return c.post("/settings", map[string]any{
		"settings": map[string]string{key: value},
	}, nil)
}
