package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Validate checks a fully-resolved Config. All problems are reported at
// once so a bad file can be fixed in one pass.
func Validate(cfg *Config) error {
	var problems []string

	problems = append(problems, validateSharePoint(&cfg.SharePoint)...)
	problems = append(problems, validateSync(&cfg.Sync)...)
	problems = append(problems, validateWorker(&cfg.Worker)...)
	problems = append(problems, validateEvents(&cfg.Events)...)
	problems = append(problems, validateLogging(&cfg.Logging)...)

	if cfg.Storage.InstanceDir == "" {
		problems = append(problems, "storage.instance_dir must not be empty")
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}

	return nil
}

func validateSharePoint(sp *SharePointConfig) []string {
	var problems []string

	required := []struct {
		key   string
		value string
	}{
		{"sharepoint.tenant_id", sp.TenantID},
		{"sharepoint.client_id", sp.ClientID},
		{"sharepoint.client_secret", sp.ClientSecret},
		{"sharepoint.site_hostname", sp.SiteHostname},
		{"sharepoint.site_path", sp.SitePath},
	}

	for _, r := range required {
		if r.value == "" {
			problems = append(problems, r.key+" is required")
		}
	}

	return problems
}

func validateSync(sc *SyncConfig) []string {
	var problems []string

	if sc.MaxFileSizeMB < 0 {
		problems = append(problems, "sync.max_file_size_mb must not be negative")
	}

	if sc.MaxParallelDrives < 1 {
		problems = append(problems, "sync.max_parallel_drives must be at least 1")
	}

	if sc.MetadataOnly && sc.VerifyQuickXorHash {
		problems = append(problems,
			"sync.verify_quickxor_hash requires content downloads, which sync.metadata_only disables")
	}

	if _, err := time.ParseDuration(sc.DownloadTimeout); err != nil {
		problems = append(problems,
			fmt.Sprintf("sync.download_timeout %q is not a valid duration", sc.DownloadTimeout))
	}

	for _, pattern := range sc.PathPatterns {
		glob := strings.TrimPrefix(pattern, "!")

		if _, err := path.Match(glob, ""); err != nil {
			problems = append(problems,
				fmt.Sprintf("sync.path_patterns entry %q is not a valid glob", pattern))
		}
	}

	for _, prefix := range sc.IncludePaths {
		if !strings.HasPrefix(prefix, "/") {
			problems = append(problems,
				fmt.Sprintf("sync.include_paths entry %q must start with /", prefix))
		}
	}

	return problems
}

func validateWorker(wc *WorkerConfig) []string {
	var problems []string

	d, err := time.ParseDuration(wc.Interval)

	switch {
	case err != nil:
		problems = append(problems,
			fmt.Sprintf("worker.interval %q is not a valid duration", wc.Interval))
	case d <= 0:
		problems = append(problems,
			fmt.Sprintf("worker.interval %q must be positive", wc.Interval))
	}

	return problems
}

func validateEvents(ec *EventsConfig) []string {
	if !ec.Enabled {
		return nil
	}

	var problems []string

	if ec.URL == "" {
		problems = append(problems, "events.url is required when events.enabled is true")
	}

	if ec.Stream == "" {
		problems = append(problems, "events.stream is required when events.enabled is true")
	}

	if ec.Subject == "" {
		problems = append(problems, "events.subject is required when events.enabled is true")
	}

	return problems
}

func validateLogging(lc *LoggingConfig) []string {
	var problems []string

	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems,
			fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", lc.Level))
	}

	switch lc.Format {
	case "text", "json":
	default:
		problems = append(problems,
			fmt.Sprintf("logging.format %q must be text or json", lc.Format))
	}

	return problems
}
