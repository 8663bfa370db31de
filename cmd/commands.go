package cmd

import (
	cli "github.com/spf13/cobra"
)

// New constructs the root command and houses all sub commands.
func New() *cli.Command {
	cmd := &cli.Command{
		Use:          "custodian",
		Long:         "custodian runs composite backup jobs against borg repositories",
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewVersionCommand())
	return cmd
}
