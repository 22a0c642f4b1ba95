package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

var versionVerbose bool

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "show detailed version information")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	info := version.GetInfo()
	if cc.Format != "text" {
		return cc.Output(cmd, info)
	}

	out := cmd.OutOrStdout()
	if versionVerbose {
		fmt.Fprintln(out, info.String())
		if !info.IsRelease() {
			fmt.Fprintln(out, "development build")
		}
		return nil
	}
	fmt.Fprintf(out, "cigate %s\n", info.Version)
	return nil
}
