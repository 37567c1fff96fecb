package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lakeview/internal/observability"
	"github.com/3leaps/lakeview/pkg/browse"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/athena"
	"github.com/3leaps/lakeview/pkg/listing"
	"github.com/3leaps/lakeview/pkg/match"
	"github.com/3leaps/lakeview/pkg/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls [virtual-path]",
	Short: "List one directory from the inventory",
	Long: `List the immediate children of a virtual directory, using the same
query path as the server.

Output is JSONL by default (one record per folder or file, then a summary).
Filters apply to the listed entries only; the summary still reports the
totals of the whole directory.

Examples:
  lakeview ls
  lakeview ls logs/2024/ --output table
  lakeview ls data/ --pattern '*.parquet' --backend sqlite --sqlite-path ./inventory.db
  lakeview ls data/ --min-size 100MiB --after 2024-01-01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var (
	lsOutput  string
	lsPattern []string
	lsExclude []string
	lsRegex   string
	lsMinSize string
	lsMaxSize string
	lsAfter   string
	lsBefore  string
	lsNoDot   bool
)

func init() {
	rootCmd.AddCommand(lsCmd)

	f := lsCmd.Flags()
	f.StringVarP(&lsOutput, "output", "o", "jsonl", "Output format (jsonl|table)")
	f.StringArrayVar(&lsPattern, "pattern", nil, "Only show entries whose name matches this glob (repeatable)")
	f.StringArrayVar(&lsExclude, "exclude", nil, "Hide entries whose name matches this glob (repeatable)")
	f.StringVar(&lsRegex, "regex", "", "Only show entries whose name matches this regular expression")
	f.StringVar(&lsMinSize, "min-size", "", "Only show files at least this large (e.g. 1KB, 100MiB)")
	f.StringVar(&lsMaxSize, "max-size", "", "Only show files at most this large")
	f.StringVar(&lsAfter, "after", "", "Only show files modified at or after this date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&lsBefore, "before", "", "Only show files modified before this date")
	f.BoolVar(&lsNoDot, "no-dotfiles", false, "Hide entries whose name starts with '.'")
	addBackendFlags(lsCmd)
}

// lsFilter compiles the ls filter flags.
func lsFilter() (*match.Filter, error) {
	return match.New(match.Config{
		Includes:     lsPattern,
		Excludes:     lsExclude,
		NameRegex:    lsRegex,
		MinSize:      lsMinSize,
		MaxSize:      lsMaxSize,
		After:        lsAfter,
		Before:       lsBefore,
		HideDotfiles: lsNoDot,
	})
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	virtualPath := ""
	if len(args) == 1 {
		virtualPath = args[0]
	}

	switch lsOutput {
	case "jsonl", "table":
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("unsupported output format: %s", lsOutput))
	}
	filter, err := lsFilter()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}

	cfg, err := loadConfig(cmd, backendBindings)
	if err != nil {
		observability.CLILogger.Error("Invalid configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	query, err := openQueryService(ctx, cfg)
	if err != nil {
		var cfgErr *athena.ConfigError
		if errors.As(err, &cfgErr) {
			return exitError(foundry.ExitInvalidArgument, "Invalid backend configuration", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open inventory backend", err)
	}
	defer func() { _ = query.Close() }()

	browser, err := newBrowseService(query, cfg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cache configuration", err)
	}

	observability.CLILogger.Debug("Listing directory",
		append(backendSummary(cfg), zap.String("path", virtualPath))...)

	start := time.Now()
	res, err := browser.ListDirectory(ctx, virtualPath)
	if err != nil {
		return lsFailure(ctx, cmd.OutOrStdout(), cfg.Backend, virtualPath, err)
	}

	entries := filter.Apply(res.Entries)

	if lsOutput == "table" {
		return writeLsTable(cmd.OutOrStdout(), res, entries, filter)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), cfg.Backend)
	defer func() { _ = w.Close() }()
	return writeLsJSONL(ctx, w, res, entries, time.Since(start))
}

// lsFailure emits an error record in JSONL mode and maps err to an exit code.
func lsFailure(ctx context.Context, out io.Writer, backend, virtualPath string, err error) error {
	code, msg := output.ErrCodeInternal, "Listing failed"
	exit := foundry.ExitExternalServiceUnavailable
	switch {
	case listing.IsInvalidPath(err):
		code, msg, exit = output.ErrCodeInvalidPath, "Invalid path", foundry.ExitInvalidArgument
	case inventory.IsQueryThrottled(err):
		code = output.ErrCodeQueryThrottled
	case inventory.IsQueryTimeout(err):
		code = output.ErrCodeQueryTimeout
	case inventory.IsQueryFailed(err):
		code = output.ErrCodeQueryFailed
	}

	if lsOutput == "jsonl" {
		w := output.NewJSONLWriter(out, uuid.New().String(), backend)
		_ = w.WriteError(ctx, &output.ErrorRecord{
			Code:      code,
			Message:   err.Error(),
			Path:      virtualPath,
			Retryable: inventory.IsRetryable(err),
		})
		_ = w.Close()
	}
	observability.CLILogger.Error(msg, zap.String("path", virtualPath), zap.Error(err))
	return exitError(exit, msg, err)
}

func writeLsJSONL(ctx context.Context, w output.Writer, res *browse.Result, entries []listing.Entry, elapsed time.Duration) error {
	for _, e := range entries {
		if err := output.WriteEntry(ctx, w, e); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	err := w.WriteSummary(ctx, &output.SummaryRecord{
		Path:          res.Scope.Path(),
		Prefix:        res.Scope.Prefix,
		Folders:       res.Stats.Folders,
		Files:         res.Stats.Files,
		Matched:       len(entries),
		BytesDirect:   res.Stats.BytesDirect,
		RowsScanned:   res.Stats.RowsScanned,
		RowsDiscarded: res.Stats.RowsDiscarded,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func writeLsTable(out io.Writer, res *browse.Result, entries []listing.Entry, filter *match.Filter) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tCLASS"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range entries {
		var err error
		if e.IsFolder() {
			_, err = fmt.Fprintf(tw, "%s/\t-\t-\t-\n", e.Name)
		} else {
			modified := "-"
			if !e.LastModified.IsZero() {
				modified = e.LastModified.Format("2006-01-02 15:04:05")
			}
			_, err = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, humanize.IBytes(uint64(e.Size)), modified, e.StorageClass)
		}
		if err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "%s: %d folder(s), %d file(s), %s direct\n",
		res.Scope.String(), res.Stats.Folders, res.Stats.Files, humanize.IBytes(uint64(res.Stats.BytesDirect)))
	if filter != nil && !filter.IsZero() {
		_, _ = fmt.Fprintf(out, "%d of %d entries match (%s)\n", len(entries), res.Len(), filter)
	}
	return nil
}
