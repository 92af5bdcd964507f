// Package config loads and validates the spmirror TOML configuration and
// layers overrides on top: defaults, then the config file, then environment
// variables, then CLI flags. Unknown keys are fatal with "did you mean?"
// suggestions because a silently ignored typo in a sync filter is a data
// loss hazard.
package config

import (
	"path/filepath"
	"time"
)

// Config is the full spmirror configuration tree, one struct per TOML
// section.
type Config struct {
	SharePoint SharePointConfig `toml:"sharepoint"`
	Sync       SyncConfig       `toml:"sync"`
	Storage    StorageConfig    `toml:"storage"`
	Worker     WorkerConfig     `toml:"worker"`
	Events     EventsConfig     `toml:"events"`
	Logging    LoggingConfig    `toml:"logging"`
}

// SharePointConfig identifies the tenant, app registration, and site to
// mirror.
type SharePointConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	SiteHostname string `toml:"site_hostname"`
	SitePath     string `toml:"site_path"`
	// LibraryName restricts the sync to one document library by display
	// name. Empty syncs every library on the site.
	LibraryName string `toml:"library_name"`
}

// SyncConfig holds the item filter and download tunables.
type SyncConfig struct {
	// MaxFileSizeMB rejects larger files; zero means no limit.
	MaxFileSizeMB int64 `toml:"max_file_size_mb"`
	// IncludeExtensions is an allow-list of lowercased extensions without
	// the dot. Empty allows all.
	IncludeExtensions []string `toml:"include_extensions"`
	ExcludeExtensions []string `toml:"exclude_extensions"`
	// IncludePaths restricts the mirror to subtrees; prefixes match at
	// path boundaries only.
	IncludePaths []string `toml:"include_paths"`
	// PathPatterns are first-match-wins globs; a leading "!" rejects.
	PathPatterns []string `toml:"path_patterns"`
	// MetadataOnly mirrors catalog rows without downloading content.
	MetadataOnly bool `toml:"metadata_only"`
	// VerifyQuickXorHash checks downloads against the server-advertised
	// QuickXorHash when one is present.
	VerifyQuickXorHash bool   `toml:"verify_quickxor_hash"`
	DownloadTimeout    string `toml:"download_timeout"`
	MaxParallelDrives  int    `toml:"max_parallel_drives"`
}

// StorageConfig locates the instance directory holding the catalog database
// and the blob tree.
type StorageConfig struct {
	InstanceDir string `toml:"instance_dir"`
	// BlobRoot overrides the default {instance_dir}/blobs.
	BlobRoot string `toml:"blob_root"`
	// DatabasePath overrides the default {instance_dir}/catalog.db.
	DatabasePath string `toml:"database_path"`
}

// WorkerConfig tunes the periodic sync daemon.
type WorkerConfig struct {
	Interval string `toml:"interval"`
	// MetricsAddr is the Prometheus/health listen address; empty disables
	// the listener.
	MetricsAddr string `toml:"metrics_addr"`
}

// EventsConfig wires optional post-run publishing for downstream pipelines.
type EventsConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
}

// LoggingConfig controls the slog handler built by the CLI.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// BlobRoot returns the effective blob store root.
func (c *Config) BlobRoot() string {
	if c.Storage.BlobRoot != "" {
		return c.Storage.BlobRoot
	}

	return filepath.Join(c.Storage.InstanceDir, "blobs")
}

// DatabasePath returns the effective catalog database path.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}

	return filepath.Join(c.Storage.InstanceDir, "catalog.db")
}

// MaxFileSizeBytes returns the size filter threshold in bytes, zero for no
// limit.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Sync.MaxFileSizeMB * 1024 * 1024
}

// DownloadTimeout returns the parsed per-item download budget. Validate
// guarantees the string parses.
func (c *Config) DownloadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Sync.DownloadTimeout)
	return d
}

// WorkerInterval returns the parsed worker cadence. Validate guarantees the
// string parses.
func (c *Config) WorkerInterval() time.Duration {
	d, _ := time.ParseDuration(c.Worker.Interval)
	return d
}
