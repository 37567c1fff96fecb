package cmd

import (
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/lakeview/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration lakeview would run with, after merging defaults,
the config file, LAKEVIEW_* environment variables, and flags.

Secrets are redacted.

Examples:
  lakeview config
  LAKEVIEW_BACKEND=sqlite lakeview config --config ./lakeview.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := writeConfigYAML(cmd.OutOrStdout(), cfg); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write configuration", err)
	}
	return nil
}

const redacted = "********"

// writeConfigYAML renders cfg with secrets redacted.
func writeConfigYAML(w io.Writer, cfg *config.Config) error {
	cp := *cfg
	if cp.SQLite.AuthToken != "" {
		cp.SQLite.AuthToken = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&cp); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
