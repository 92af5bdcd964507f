package config

import "os"

// Environment variable names for overrides. Secrets in particular belong in
// the environment (or a .env file) rather than in spmirror.toml.
const (
	EnvConfig       = "SPMIRROR_CONFIG"
	EnvTenantID     = "SPMIRROR_TENANT_ID"
	EnvClientID     = "SPMIRROR_CLIENT_ID"
	EnvClientSecret = "SPMIRROR_CLIENT_SECRET"
	EnvInstanceDir  = "SPMIRROR_INSTANCE_DIR"
	EnvLogLevel     = "SPMIRROR_LOG_LEVEL"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath   string
	TenantID     string
	ClientID     string
	ClientSecret string
	InstanceDir  string
	LogLevel     string
}

// ReadEnvOverrides reads the SPMIRROR_* environment variables. It does not
// modify any Config; Resolve applies the values.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		InstanceDir:  os.Getenv(EnvInstanceDir),
		LogLevel:     os.Getenv(EnvLogLevel),
	}
}

// applyEnvOverrides writes non-empty environment values over file values.
func applyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.TenantID != "" {
		cfg.SharePoint.TenantID = env.TenantID
	}

	if env.ClientID != "" {
		cfg.SharePoint.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.SharePoint.ClientSecret = env.ClientSecret
	}

	if env.InstanceDir != "" {
		cfg.Storage.InstanceDir = env.InstanceDir
	}

	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
}
