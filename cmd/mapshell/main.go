// Package main provides the entry point for the mapshell service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/mapshell/internal/app"
	"github.com/jobrunner/mapshell/internal/config"
	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mapshell",
	Short: "mapshell - headless map application shell",
	Long: `mapshell loads map files and plugins and serves them over a REST API.

Features:
  - GeoJSON, GPX and KML (KMZ) parsing with content detection
  - Online tile providers (OpenStreetMap, MapTiler, Bing, ...)
  - Native and Lua plugins with dependency resolution
  - Map file sync from AWS S3, Azure Blob Storage or HTTP
  - Hot-reload of map files
  - TLS with automatic certificate management
  - Prometheus metrics`,
	PreRunE: bindServeFlags,
	RunE:    runServer,
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the HTTP API (default)",
	PreRunE: bindServeFlags,
	RunE:    runServer,
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Parse map files and print a summary",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the supported map file formats",
	RunE:  runFormats,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Scan the plugin directories and list what was found",
	RunE:  runPlugins,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("mapshell %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

// serveFlags maps server flag names to config keys.
var serveFlags = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"tls":          "tls.enabled",
	"tls-domains":  "tls.domains",
	"tls-email":    "tls.email",
	"storage-type": "storage.type",
	"data-dir":     "storage.local_path",
	"data":         "data.paths",
	"cors":         "server.cors.allowed_origins",
	"plugin-dir":   "plugins.dirs",
	"bus":          "bus.type",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd, parseCmd, formatsCmd, pluginsCmd, versionCmd)
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("host", "0.0.0.0", "server host")
	f.Int("port", 8080, "server port")
	f.Bool("tls", false, "enable TLS")
	f.StringSlice("tls-domains", nil, "TLS domains")
	f.String("tls-email", "", "TLS email for Let's Encrypt")
	f.String("storage-type", "local", "map file catalog (local, s3, azure, http)")
	f.String("data-dir", "./data", "data directory")
	f.StringSlice("data", nil, "additional map files or directories to load")
	f.StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	f.StringSlice("plugin-dir", nil, "additional plugin directories")
	f.String("bus", "memory", "message bus (memory, nats)")
}

// bindServeFlags binds the flags of the command being run. Flags are bound
// late because root and serve declare the same set.
func bindServeFlags(cmd *cobra.Command, _ []string) error {
	for name, key := range serveFlags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting mapshell",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
		"data_dir", cfg.Storage.LocalPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// cliLogger logs to stderr so command output on stdout stays clean.
func cliLogger() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging, os.Stderr), nil
}

func runParse(cmd *cobra.Command, args []string) error {
	_, logger, err := cliLogger()
	if err != nil {
		return err
	}
	factory := app.NewParserFactory(output.NoOpPublisher{}, &output.NoOpMetrics{}, logger)
	out := cmd.OutOrStdout()

	failed := 0
	for _, path := range args {
		if err := printSummary(out, factory, path); err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to parse", failed, len(args))
	}
	return nil
}

type fileParser interface {
	ParserForFile(path string) (output.MapParser, error)
	ParseFile(path string) (domain.MapSource, error)
}

func printSummary(w io.Writer, factory fileParser, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	p, err := factory.ParserForFile(path)
	if err != nil {
		return err
	}
	src, err := factory.ParseFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  Format:   %s\n", p.Name())
	fmt.Fprintf(w, "  Size:     %s\n", humanize.Bytes(uint64(info.Size()))) //nolint:gosec // file sizes are never negative
	fmt.Fprintf(w, "  Name:     %s\n", src.Name())
	fmt.Fprintf(w, "  Type:     %s\n", src.Type())
	if v, ok := src.(domain.VectorSource); ok {
		fmt.Fprintf(w, "  Features: %s\n", humanize.Comma(int64(v.FeatureCount())))
	}
	if b := src.Bounds(); !b.IsEmpty() {
		bbox := b.BBox()
		fmt.Fprintf(w, "  Bounds:   %.6f,%.6f,%.6f,%.6f\n", bbox[0], bbox[1], bbox[2], bbox[3])
	}
	return nil
}

func runFormats(cmd *cobra.Command, _ []string) error {
	_, logger, err := cliLogger()
	if err != nil {
		return err
	}
	factory := app.NewParserFactory(output.NoOpPublisher{}, &output.NoOpMetrics{}, logger)
	out := cmd.OutOrStdout()
	for _, f := range factory.Formats() {
		fmt.Fprintf(out, "%-8s %-20s %s\n", f.Name, strings.Join(f.Extensions, ","), strings.Join(f.MimeTypes, ","))
	}
	return nil
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := cliLogger()
	if err != nil {
		return err
	}
	cfg.Settings.Type = "memory"
	cfg.Data.Watch = false
	cfg.Metrics.Enabled = false

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()

	out := cmd.OutOrStdout()
	if a.Plugins == nil {
		fmt.Fprintln(out, "plugins are disabled")
		return nil
	}

	n := a.Plugins.Scan()
	fmt.Fprintf(out, "%s plugins found\n", humanize.Comma(int64(n)))
	for _, c := range a.Plugins.Discovered() {
		deps := "-"
		if len(c.Info.Dependencies) > 0 {
			deps = strings.Join(c.Info.Dependencies, ",")
		}
		fmt.Fprintf(out, "%-24s %-10s %-12s deps=%s %s\n", c.Info.ID, c.Info.Version, c.Info.Type, deps, c.Path)
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
