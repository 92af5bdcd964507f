package config

// Default values applied before the config file is decoded.
const (
	DefaultConfigPath      = "./spmirror.toml"
	defaultInstanceDir     = "./instance"
	defaultDownloadTimeout = "5m"
	defaultParallelDrives  = 4
	defaultWorkerInterval  = "5m"
	defaultMetricsAddr     = ":9473"
	defaultEventsURL       = "nats://127.0.0.1:4222"
	defaultEventsStream    = "SPMIRROR"
	defaultEventsSubject   = "spmirror.runs"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// DefaultConfig returns a Config populated with every default value. Decoding
// a config file on top of it leaves unmentioned keys at their defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			DownloadTimeout:   defaultDownloadTimeout,
			MaxParallelDrives: defaultParallelDrives,
		},
		Storage: StorageConfig{
			InstanceDir: defaultInstanceDir,
		},
		Worker: WorkerConfig{
			Interval:    defaultWorkerInterval,
			MetricsAddr: defaultMetricsAddr,
		},
		Events: EventsConfig{
			URL:     defaultEventsURL,
			Stream:  defaultEventsStream,
			Subject: defaultEventsSubject,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
