package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/companionhq/companion-gateway/internal/bridge"
	"github.com/companionhq/companion-gateway/internal/cache"
	"github.com/companionhq/companion-gateway/internal/common"
	"github.com/companionhq/companion-gateway/internal/config"
	"github.com/companionhq/companion-gateway/internal/gateway"
	"github.com/companionhq/companion-gateway/internal/server"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP = flag.Int("p", 0, "Server port (shorthand)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	backendURL  = flag.String("backend", "", "Backend base URL (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("companion-gateway version %s\n", config.GetVersion())
		os.Exit(0)
	}

	// Merge port flags (shorthand takes precedence)
	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Auto-discover config file if not specified.
	// Binary-relative paths are tried first so the config is found even when
	// the working directory differs from the binary location.
	if len(configFiles) == 0 {
		for _, path := range gatewayConfigSearchPaths() {
			if _, err := os.Stat(path); err == nil {
				configFiles = append(configFiles, path)
				break
			}
		}
	}

	// Load configuration
	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides (highest priority)
	config.ApplyFlagOverrides(cfg, finalPort, *serverHost, *backendURL)

	// Validate mandatory configuration
	if issues := cfg.Validate(); len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Configuration error — mandatory fields are missing or invalid:")
		fmt.Fprintln(os.Stderr, "")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  - %s\n", issue)
		}
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "See config/companion-gateway.toml for the minimum required configuration.")
		fmt.Fprintln(os.Stderr, "Values can be set via TOML file, COMPANION_* environment variables, or CLI flags.")
		fmt.Fprintln(os.Stderr, "")
		os.Exit(1)
	}

	// Initialize logger
	logger := setupLogger(cfg)

	logger.Info().
		Int("port", cfg.Server.Port).
		Str("host", cfg.Server.Host).
		Str("backend", cfg.Backend.URL).
		Str("config_files", fmt.Sprintf("%v", configFiles)).
		Msg("configuration loaded")

	// Bridge to the companion backend
	b := bridge.New(bridge.Config{
		BaseURL:    cfg.Backend.URL,
		APIKey:     cfg.Backend.APIKey,
		Timeout:    time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		MaxConns:   cfg.Backend.MaxConns,
		MaxPerHost: cfg.Backend.MaxPerHost,
	}, logger)

	// Discover the backend tool catalog. The gateway still starts when the
	// backend is down; the catalog comes in on the first /api/refresh.
	raw := discoverCatalog(b, cfg.Backend.CatalogRetries, logger)
	tools := gateway.NewToolRegistry(raw, b, logger)

	resourceCache := cache.New(time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries)
	resources := gateway.NewResourceRegistry(b, resourceCache, logger)
	prompts := gateway.NewPromptRegistry(logger)

	dispatcher := gateway.NewDispatcher(tools, resources, prompts, logger)

	srv := server.New(cfg, dispatcher, b, resourceCache, logger)

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Str("error", err.Error()).Msg("server failed to start")
			os.Exit(1)
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("gateway ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Str("error", err.Error()).Msg("server shutdown failed")
	}

	logger.Info().Msg("gateway stopped")
}

// discoverCatalog fetches the backend tool catalog with bounded retries.
// Failure is not fatal: the gateway serves an empty catalog until a refresh
// succeeds.
func discoverCatalog(b *bridge.Bridge, retries int, logger *common.Logger) []gateway.RawTool {
	if retries <= 0 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		raw, err := gateway.DiscoverTools(ctx, b)
		cancel()
		if err == nil {
			return raw
		}

		logger.Warn().
			Int("attempt", attempt).
			Int("retries", retries).
			Str("error", err.Error()).
			Msg("tool discovery failed")

		if attempt < retries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	logger.Warn().Msg("starting with empty tool catalog; POST /api/refresh once the backend is reachable")
	return nil
}

// gatewayConfigSearchPaths returns TOML files to auto-discover (first match
// wins). Binary-relative paths are tried first, with CWD and Docker fallbacks
// after. Paths are deduplicated via filepath.Abs.
func gatewayConfigSearchPaths() []string {
	candidates := []string{
		"companion-gateway.toml",
		"config/companion-gateway.toml",
		"docker/companion-gateway.toml",
	}

	exe, err := os.Executable()
	if err != nil {
		return candidates
	}
	binDir := filepath.Dir(exe)

	paths := []string{
		filepath.Join(binDir, "companion-gateway.toml"),
		filepath.Join(binDir, "config", "companion-gateway.toml"),
	}
	paths = append(paths, candidates...)

	// Deduplicate via absolute path.
	seen := make(map[string]bool, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		deduped = append(deduped, p)
	}
	return deduped
}

// setupLogger creates an arbor logger based on config.
func setupLogger(cfg *config.Config) *common.Logger {
	return common.NewLoggerFromConfig(common.LoggingConfig{
		Level:      cfg.Logging.Level,
		Outputs:    cfg.Logging.Outputs,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}
