package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and returns the resulting Config.
// Unknown keys are fatal errors with "did you mean?" suggestions. The result
// is not yet validated: Resolve validates after overrides are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults so environment-only setups (worker
// containers) run without a file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// CLIOverrides carries values from CLI flags. Only ConfigPath participates in
// path resolution; other flags are applied by the commands themselves.
type CLIOverrides struct {
	ConfigPath string
}

// ResolvePath returns the effective config file path: CLI flag over
// environment over the default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	path := DefaultConfigPath
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	return path
}

// Resolve loads configuration through the override chain: defaults, config
// file, environment variables, CLI flags. The returned Config is validated.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(ResolvePath(env, cli))
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, env)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload re-reads a config file through the same override chain as Resolve,
// minus CLI flags. Secrets supplied via the environment survive a reload even
// though they never appear in the file.
func Reload(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg, ReadEnvOverrides())

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
