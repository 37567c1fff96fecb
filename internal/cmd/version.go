package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionExtended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "lakeview %s\n", versionInfo.Version)
		if !versionExtended {
			return
		}
		_, _ = fmt.Fprintf(out, "Commit:     %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "Built:      %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		v := crucible.GetVersion()
		_, _ = fmt.Fprintf(out, "Gofulmen:   %s\n", v.Gofulmen)
		_, _ = fmt.Fprintf(out, "Crucible:   %s\n", v.Crucible)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "Include build and dependency details")
}
