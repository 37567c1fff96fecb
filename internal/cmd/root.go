// Package cmd implements the lakeview command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lakeview/internal/config"
	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// AppIdentity names the binary, its env prefix, and its config file.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "lakeview",
	Short: "Browse bucket inventories as directories",
	Long: `lakeview presents an S3 inventory table as a browsable directory tree.

Listings are answered from the inventory (through Amazon Athena or a local
SQLite table) instead of listing the bucket, and cached per directory.

Examples:
  lakeview serve --database inventories --table my_bucket --output-location s3://results/lakeview/
  lakeview ls logs/2024/ --backend sqlite --sqlite-path ./inventory.db
  lakeview config
  lakeview doctor`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appIdentity = &AppIdentity{
			BinaryName: config.BinaryName,
			EnvPrefix:  config.EnvPrefix,
			ConfigName: config.ConfigName,
		}
		if cfgFile != "" {
			if err := os.Setenv(config.ConfigFileEnv, cfgFile); err != nil {
				return fmt.Errorf("set %s: %w", config.ConfigFileEnv, err)
			}
		}
		observability.InitCLILogger(config.BinaryName, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./lakeview.yaml or <user config dir>/lakeview/lakeview.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Server log level (debug|info|warn|error)")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set during command startup, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err: 0 for nil, the ExitError
// code when present, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// ExitWithCode logs err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	logger.Error(msg, zap.Error(err), zap.Int("exit_code", code))
	_ = logger.Sync()
	os.Exit(code)
}

// loadConfig loads configuration with every changed flag in bindings applied
// as a runtime override. bindings maps flag names to config keys.
func loadConfig(cmd *cobra.Command, bindings ...map[string][]string) (*config.Config, error) {
	overrides := make(map[string]any)
	for _, b := range bindings {
		for flag, keys := range b {
			f := cmd.Flags().Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			for _, key := range keys {
				overrides[key] = f.Value.String()
			}
		}
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		overrides["logging.level"] = f.Value.String()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return config.Load(ctx, overrides)
}
