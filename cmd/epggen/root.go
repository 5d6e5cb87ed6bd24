package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/engine"
	"github.com/BadgerOps/epggen/internal/fetch"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/provider/mailru"
	"github.com/BadgerOps/epggen/internal/provider/yandex"
	"github.com/BadgerOps/epggen/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	cacheDir  string
	logLevel  string
	logFormat string
	logFile   string
	verbose   bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalCache    *cache.Store
	globalStore    *store.Store
	globalEngine   *engine.Manager
	globalRegistry *provider.Registry

	logFileHandle *os.File
)

// initializeComponents opens the cache and history, registers the enabled
// providers and creates the engine
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	root := cacheDir
	if root == "" {
		root = globalCfg.Cache.Dir
	}
	if root == "" {
		root = cache.DefaultRoot()
	}
	cs, err := cache.New(root, logger)
	if err != nil {
		return err
	}
	globalCache = cs

	// History is optional; a broken database must not stop the guide.
	st, err := store.New(globalCfg.HistoryDBPath(cs.Root()), logger)
	if err != nil {
		logger.Warn("run history disabled", "error", err)
		st = nil
	}
	globalStore = st

	client := fetch.NewClient(logger, fetch.ClientOptions{
		Timeout:      globalCfg.Fetch.Timeout,
		UserAgent:    globalCfg.Fetch.UserAgent,
		MaxBodyBytes: globalCfg.Fetch.MaxBodyBytes,
	})
	pipeline := fetch.NewPipeline(cs, client, logger, fetch.Options{
		Attempts:       globalCfg.Fetch.RetryAttempts,
		RetryDelay:     globalCfg.Fetch.RetryDelay,
		RateLimitDelay: globalCfg.Fetch.RateLimitDelay,
	})
	pipeline.OnFailure = engine.FailureRecorder(globalStore, logger)

	globalRegistry = provider.NewRegistry()
	for _, name := range config.KnownProviders() {
		if !globalCfg.ProviderEnabled(name) {
			logger.Debug("provider disabled", "provider", name)
			continue
		}
		p := newProvider(name, pipeline)
		if rawCfg, ok := globalCfg.Providers[name]; ok {
			if err := p.Configure(rawCfg); err != nil {
				logger.Warn("failed to configure provider", "provider", name, "error", err)
			}
		}
		globalRegistry.Register(p)
	}

	globalEngine = engine.NewManager(globalRegistry, cs, globalStore, globalCfg, logger)

	logger.Debug("components initialized", "cache", cs.Root(), "providers", globalRegistry.Names())
	return nil
}

func newProvider(name string, pipeline *fetch.Pipeline) provider.Provider {
	switch name {
	case "yandex":
		return yandex.NewYandexProvider(pipeline, logger)
	default:
		return mailru.NewMailruProvider(pipeline, logger)
	}
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"show":    true,
	}
	return skipInitCmds[cmdName]
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

// closeComponents releases the history database and the log file
func closeComponents() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close history", "error", err)
		}
		globalStore = nil
	}
	if logFileHandle != nil {
		_ = logFileHandle.Close()
		logFileHandle = nil
	}
}

// commandContext returns the command context, falling back to Background
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epggen",
		Short: "Build an XMLTV guide for an IPTV playlist",
		Long: `epggen maps the channels of an M3U playlist to the channel catalogs of
TV schedule sites (mail.ru, Yandex), downloads their programmes into a local
cache and writes an XMLTV guide keyed by playlist channel.`,
		Example: `  epggen match playlist.m3u
  epggen match -i --preferred yandex playlist.m3u
  epggen list -u
  epggen set 12 mailru 1063
  epggen build guide.xml.gz`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return err
			}

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
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

			if cacheDir != "" {
				globalCfg.Cache.Dir = cacheDir
			}
			logger.Debug("config loaded", "path", cfgPath, "cache", globalCfg.Cache.Dir)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeComponents()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVarP(&cacheDir, "cache", "c", "", "cache directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().StringVarP(&logFile, "log-file", "l", "", "also write debug logs to this file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newMatchCmd(),
		newFetchCmd(),
		newBuildCmd(),
		newListCmd(),
		newSetCmd(),
		newUnsetCmd(),
		newCleanupCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// setupLogging initializes the slog logger based on flags
func setupLogging() error {
	level := parseLevel(logLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logFileHandle = f
		handler = teeHandler(handler, slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}
