package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbfetch/mbfetch/internal/catalog"
	"github.com/mbfetch/mbfetch/internal/config"
	"github.com/mbfetch/mbfetch/internal/download"
	"github.com/mbfetch/mbfetch/internal/extract"
	"github.com/mbfetch/mbfetch/internal/store"
	"github.com/mbfetch/mbfetch/internal/transfer"
)

var (
	// Global flags
	cfgPath   string
	outputDir string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore        *store.Store
	globalCatalog      *catalog.Client
	globalOrchestrator *transfer.Orchestrator
)

// initializeComponents initializes the global store, catalog client, and orchestrator
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// Initialize store
	st, err := store.New(globalCfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	// Initialize catalog client
	timeout, err := globalCfg.Catalog.TimeoutDuration()
	if err != nil {
		return err
	}
	cat, err := catalog.NewClient(logger, catalog.Options{
		URL:       globalCfg.Catalog.URL,
		UserAgent: globalCfg.Catalog.UserAgent,
		Timeout:   timeout,
		CacheSize: globalCfg.Catalog.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize catalog client: %w", err)
	}
	globalCatalog = cat

	// Initialize transfer orchestrator
	client := download.NewClient(logger, globalCfg.Catalog.UserAgent)
	extractor := extract.NewExtractor(logger)
	globalOrchestrator = transfer.NewOrchestrator(client, extractor, globalStore, logger)

	logger.Info("components initialized successfully")
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
		"init":    true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// resolveRelease returns the release for a tag, or the newest release when
// the tag is empty or the literal "latest".
func resolveRelease(ctx context.Context, tag string) (catalog.Release, error) {
	if tag == "" || tag == "latest" {
		return globalCatalog.Latest(ctx)
	}
	return globalCatalog.Release(ctx, tag)
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mbfetch",
		Short: "Download and unpack MinGW-w64 toolchain release archives",
		Long: `mbfetch browses the published MinGW-w64 build releases, filters their
archives by architecture, thread model, exception model, C runtime, and
runtime revision, and downloads the selected archive with optional
extraction into a per-archive directory.`,
		Example: `  mbfetch releases
  mbfetch assets --release latest --arch x86_64
  mbfetch get --arch x86_64 --threads posix --exceptions seh --crt ucrt
  mbfetch get --release 13.2.0-rt_v11-rev1 --asset i686-13.2.0-release-win32-dwarf-msvcrt-rt_v11-rev1.7z
  mbfetch serve --listen 127.0.0.1:8646
  mbfetch history --status failed`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && !shouldSkipComponentInit(cmd.Name()) {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if outputDir != "" {
				globalCfg.Download.OutputDir = outputDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "output_dir", globalCfg.Download.OutputDir)
			}

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := globalCfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "override download output directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	// Add subcommands
	cmd.AddCommand(
		newReleasesCmd(),
		newAssetsCmd(),
		newGetCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
