package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vsalomaa/spmirror/internal/blob"
	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
	"github.com/vsalomaa/spmirror/internal/graph"
	"github.com/vsalomaa/spmirror/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg and resolvedPath hold the effective configuration loaded by
// PersistentPreRunE, available to all subcommands after the pre-run phase.
var (
	resolvedCfg  *config.Config
	resolvedPath string
)

// headerTimeout bounds the wait for response headers. No overall client
// timeout: content downloads stream for minutes under their own per-item
// context deadline.
const headerTimeout = 30 * time.Second

// configError marks failures that should exit with the config error code.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spmirror",
		Short:   "SharePoint document library mirror",
		Long:    "Mirrors SharePoint document libraries into a local content-addressed store with a queryable catalog.",
		Version: version,
		// Errors and usage are printed by main, not by cobra.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newTestConnectionCmd())
	cmd.AddCommand(newClearCursorsCmd())
	cmd.AddCommand(newVerifyStorageCmd())
	cmd.AddCommand(newWorkerCmd())

	return cmd
}

// loadConfig resolves the effective configuration: .env file, then defaults,
// config file, environment, CLI flags. Failures map to the config exit code.
func loadConfig() error {
	// Secrets live in .env in development setups; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &configError{fmt.Errorf("loading .env: %w", err)}
	}

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return &configError{err}
	}

	resolvedCfg = cfg
	resolvedPath = config.ResolvePath(env, cli)

	return nil
}

// buildLogger creates the command logger from the resolved config. CLI flags
// override the config level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if resolvedCfg != nil && resolvedCfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app bundles the wired components behind a CLI command.
type app struct {
	cfg    *config.Config
	holder *config.Holder
	cat    *catalog.Catalog
	blobs  *blob.Store
	orch   *sync.Orchestrator
	logger *slog.Logger
}

// newApp opens the catalog and blob store and wires the orchestrator against
// the live Graph API. Callers must Close.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg := resolvedCfg

	cat, err := catalog.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.New(cfg.BlobRoot(), logger)
	if err != nil {
		cat.Close()
		return nil, err
	}

	tokens := graph.NewTokenSource(ctx, graph.Credentials{
		TenantID:     cfg.SharePoint.TenantID,
		ClientID:     cfg.SharePoint.ClientID,
		ClientSecret: cfg.SharePoint.ClientSecret,
	}, logger)

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: headerTimeout,
		},
	}

	client := graph.NewClient("", httpClient, tokens, logger)
	holder := config.NewHolder(cfg, resolvedPath)

	return &app{
		cfg:    cfg,
		holder: holder,
		cat:    cat,
		blobs:  blobs,
		orch:   sync.New(client, cat, blobs, holder, logger),
		logger: logger,
	}, nil
}

func (a *app) Close() {
	if err := a.cat.Close(); err != nil {
		a.logger.Warn("closing catalog", slog.String("error", err.Error()))
	}
}
