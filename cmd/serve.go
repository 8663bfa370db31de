package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/cobra"

	"github.com/odpf/custodian/config"
	"github.com/odpf/custodian/server"
)

type serveCommand struct {
	configDirPath string
}

// NewServeCommand initializes the command that starts the server.
func NewServeCommand() *cli.Command {
	serve := &serveCommand{}

	cmd := &cli.Command{
		Use:     "serve",
		Short:   "Starts custodian service",
		Example: "custodian serve",
		RunE:    serve.RunE,
	}
	cmd.Flags().StringVarP(&serve.configDirPath, "config-dir", "c", serve.configDirPath, "Directory holding the server configuration file")
	return cmd
}

func (s *serveCommand) RunE(_ *cli.Command, _ []string) error {
	var dirPaths []string
	if s.configDirPath != "" {
		dirPaths = append(dirPaths, s.configDirPath)
	}
	conf, err := config.Load(dirPaths...)
	if err != nil {
		return err
	}

	custodianServer, err := server.New(conf)
	defer custodianServer.Shutdown()
	if err != nil {
		return fmt.Errorf("unable to create server: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return nil
}
