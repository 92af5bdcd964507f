package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "spmirror.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
client_secret = "s"
site_hostname = "contoso.sharepoint.com"
site_path = "/sites/eng"
library_name = "Documents"

[sync]
max_file_size_mb = 50
include_extensions = ["pdf", "docx"]
path_patterns = ["!/Archive/*", "/**"]

[storage]
instance_dir = "/data/mirror"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Documents", cfg.SharePoint.LibraryName)
	assert.Equal(t, int64(50), cfg.Sync.MaxFileSizeMB)
	assert.Equal(t, []string{"pdf", "docx"}, cfg.Sync.IncludeExtensions)
	assert.Equal(t, "/data/mirror", cfg.Storage.InstanceDir)
	// Unmentioned keys keep their defaults.
	assert.Equal(t, "5m", cfg.Sync.DownloadTimeout)
	assert.Equal(t, ":9473", cfg.Worker.MetricsAddr)
}

func TestLoadRejectsUnknownKeyWithSuggestion(t *testing.T) {
	path := writeConfig(t, `
[sync]
max_file_size = 50
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "sync.max_file_size"`)
	assert.Contains(t, err.Error(), `did you mean "sync.max_file_size_mb"?`)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveLayering(t *testing.T) {
	path := writeConfig(t, `
[sharepoint]
tenant_id = "file-tenant"
client_id = "file-client"
client_secret = "file-secret"
site_hostname = "contoso.sharepoint.com"
site_path = "/sites/eng"
`)

	env := EnvOverrides{
		TenantID:     "env-tenant",
		ClientSecret: "env-secret",
		LogLevel:     "debug",
	}

	cfg, err := Resolve(env, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)

	// Env wins over file.
	assert.Equal(t, "env-tenant", cfg.SharePoint.TenantID)
	assert.Equal(t, "env-secret", cfg.SharePoint.ClientSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// File values without env overrides survive.
	assert.Equal(t, "file-client", cfg.SharePoint.ClientID)
}

func TestResolveValidatesFinalConfig(t *testing.T) {
	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sharepoint.client_id is required")
}

func TestReloadReadsEnvironment(t *testing.T) {
	t.Setenv(EnvClientSecret, "env-secret")

	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
site_hostname = "contoso.sharepoint.com"
site_path = "/sites/eng"
`)

	cfg, err := Reload(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.SharePoint.ClientSecret)
}

func TestReloadValidatesFinalConfig(t *testing.T) {
	t.Setenv(EnvClientSecret, "")

	path := writeConfig(t, `
[sharepoint]
tenant_id = "t"
client_id = "c"
site_hostname = "contoso.sharepoint.com"
site_path = "/sites/eng"
`)

	_, err := Reload(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sharepoint.client_secret is required")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("sync.metdata_only", "sync.metadata_only"))
}
