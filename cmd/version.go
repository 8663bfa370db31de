package cmd

import (
	"fmt"

	cli "github.com/spf13/cobra"

	"github.com/odpf/custodian/config"
)

// NewVersionCommand prints the binary build information.
func NewVersionCommand() *cli.Command {
	return &cli.Command{
		Use:   "version",
		Short: "Print the binary version",
		RunE: func(cmd *cli.Command, _ []string) error {
			fmt.Printf("custodian %s", config.BuildVersion)
			if config.BuildCommit != "" {
				fmt.Printf(" (%s)", config.BuildCommit)
			}
			fmt.Println()
			return nil
		},
	}
}
