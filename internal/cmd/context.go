package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/ux"
)

// CommandContext holds the persistent flags of a command invocation.
type CommandContext struct {
	Dir       string
	LogLevel  string
	LogFormat string
	Format    string
}

// NewCommandContext extracts command context from cobra.Command flags.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	logFormat, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Dir:       dir,
		LogLevel:  logLevel,
		LogFormat: logFormat,
		Format:    format,
	}, nil
}

// Output writes data to the command's stdout in the selected format.
func (c *CommandContext) Output(cmd *cobra.Command, data interface{}) error {
	f, err := ux.NewFormatter(c.Format, &ux.FormatterOptions{Writer: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	return f.Format(data)
}
