package main

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/lakeview/internal/cmd"
	"github.com/3leaps/lakeview/internal/observability"
)

// Set by -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	err := cmd.Execute(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	observability.Sync()
	os.Exit(cmd.ExitCode(err))
}
