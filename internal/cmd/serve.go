package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lakeview/internal/config"
	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/internal/server"
	"github.com/3leaps/lakeview/internal/server/handlers"
	"github.com/3leaps/lakeview/internal/versioncheck"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/athena"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the directory browser HTTP server",
	Long: `Start the HTTP server that serves directory listings from the inventory.

The JSON API is under /api/v1 and the HTML browser under /browse/.

Examples:
  lakeview serve --database inventories --table my_bucket --output-location s3://results/lakeview/
  lakeview serve --backend sqlite --sqlite-path ./inventory.db --port 8080`,
	RunE: runServe,
}

var serveBindings = map[string][]string{
	"host": {"server.host"},
	"port": {"server.port"},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Listen host")
	serveCmd.Flags().Int("port", 5000, "Listen port")
	addBackendFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, backendBindings, serveBindings)
	if err != nil {
		observability.CLILogger.Error("Invalid configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	observability.InitServerLogger(config.BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	defer observability.Sync()
	logger := observability.ServerLogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printBanner(out, cfg)
	if cfg.VersionCheck.Enabled {
		if warning := checkForUpdate(ctx, cfg.VersionCheck, versionInfo.Version); warning != "" {
			_, _ = fmt.Fprintln(out, warning)
			_, _ = fmt.Fprintln(out)
		}
	}

	query, err := openQueryService(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open inventory backend", append(backendSummary(cfg), zap.Error(err))...)
		var cfgErr *athena.ConfigError
		if errors.As(err, &cfgErr) {
			return exitError(foundry.ExitInvalidArgument, "Invalid backend configuration", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open inventory backend", err)
	}
	defer func() { _ = query.Close() }()

	browser, err := newBrowseService(query, cfg, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cache configuration", err)
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("signal", signalHealthChecker{})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: config.BinaryName,
		envPrefix:  config.EnvPrefix,
		configName: config.ConfigName,
	})
	if p, ok := query.(handlers.Pinger); ok {
		hm.RegisterChecker("inventory", handlers.InventoryChecker{DB: p})
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithBrowser(browser),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	logger.Info("Starting lakeview",
		append(backendSummary(cfg),
			zap.String("version", versionInfo.Version),
			zap.String("addr", srv.Addr()),
			zap.Duration("cache_ttl", cfg.Cache.TTL),
			zap.Int("cache_capacity", cfg.Cache.Capacity),
			zap.Duration("query_timeout", cfg.Query.Timeout),
		)...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Graceful shutdown failed", err)
	}
	if err := <-errCh; err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}

	stats := browser.CacheStats()
	logger.Info("Server stopped",
		zap.Uint64("cache_hits", stats.Hits),
		zap.Uint64("cache_misses", stats.Misses),
		zap.Uint64("queries", stats.Computes),
	)
	return nil
}

const banner = `
 _       _
| | __ _| | _______   _(_) _____      __
| |/ _' | |/ / _ \ \ / / |/ _ \ \ /\ / /
| | (_| |   <  __/\ V /| |  __/\ V  V /
|_|\__,_|_|\_\___| \_/ |_|\___| \_/\_/
`

// printBanner writes the startup banner with the effective settings.
func printBanner(w io.Writer, cfg *config.Config) {
	_, _ = fmt.Fprintln(w, banner)
	_, _ = fmt.Fprintf(w, "Version         = %s\n", versionInfo.Version)
	_, _ = fmt.Fprintf(w, "Backend         = %s\n", cfg.Backend)
	if inventory.Backend(cfg.Backend) == inventory.BackendSQLite {
		if cfg.SQLite.URL != "" {
			_, _ = fmt.Fprintf(w, "SQLite URL      = %s\n", cfg.SQLite.URL)
		} else {
			_, _ = fmt.Fprintf(w, "SQLite path     = %s\n", cfg.SQLite.Path)
		}
	} else {
		_, _ = fmt.Fprintf(w, "Athena database = %s\n", cfg.Athena.Database)
		_, _ = fmt.Fprintf(w, "Athena table    = %s\n", cfg.Athena.Table)
		_, _ = fmt.Fprintf(w, "Output location = %s\n", cfg.Athena.OutputLocation)
	}
	_, _ = fmt.Fprintf(w, "Listen host     = %s\n", cfg.Server.Host)
	_, _ = fmt.Fprintf(w, "Listen port     = %d\n\n", cfg.Server.Port)
}

// checkForUpdate returns a warning line when a newer release exists. Check
// failures are logged and otherwise ignored.
func checkForUpdate(ctx context.Context, cfg config.VersionCheckConfig, current string) string {
	res, err := versioncheck.New(cfg.URL, cfg.Timeout).Check(ctx, current)
	if err != nil {
		if !errors.Is(err, versioncheck.ErrUnversioned) {
			observability.ServerLogger.Debug("Version check failed", zap.Error(err))
		}
		return ""
	}
	if !res.UpdateAvailable {
		return ""
	}
	msg := fmt.Sprintf("[WARNING] a newer version exists: %s", res.Latest)
	if res.URL != "" {
		msg += " (" + res.URL + ")"
	}
	return msg
}

// signalHealthChecker reports healthy while the process is serving.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return errors.New("app identity missing binary name")
	}
	if c.envPrefix == "" {
		return errors.New("app identity missing env prefix")
	}
	if c.configName == "" {
		return errors.New("app identity missing config name")
	}
	return nil
}
