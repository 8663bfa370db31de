package rclone

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/ext/process"
	"github.com/odpf/custodian/internal/errors"
)

const EntityCloudSync = "cloud_sync"

// Provider mirrors a repository to an rclone remote by shelling out to
// the rclone binary.
type Provider struct {
	l      log.Logger
	runner *process.Runner

	remote string
	binary string
}

func NewProvider(remote string, runner *process.Runner, logger log.Logger) *Provider {
	return &Provider{
		l:      logger,
		runner: runner,
		remote: remote,
		binary: "rclone",
	}
}

func (p *Provider) Sync(ctx context.Context, repositoryPath, pathPrefix string, onLine func(string)) error {
	if p.remote == "" {
		return errors.NewFailedPreconditionError(EntityCloudSync, "no rclone remote configured")
	}

	destination := p.remote + ":"
	if pathPrefix != "" {
		destination += path.Clean(pathPrefix)
	}
	destination = strings.TrimSuffix(destination, "/") + "/" + path.Base(repositoryPath)

	command := []string{
		p.binary, "sync", repositoryPath, destination,
		"--stats", "5s",
		"--stats-one-line",
		"--verbose",
	}

	handle, err := p.runner.Start(ctx, command, nil, "")
	if err != nil {
		return errors.NewInternalError(EntityCloudSync, "unable to start rclone", err)
	}

	result := p.runner.Monitor(handle, onLine, nil)
	if result.Err != nil {
		return errors.NewInternalError(EntityCloudSync, "rclone sync did not finish", result.Err)
	}
	if result.ReturnCode != 0 {
		return errors.NewError(errors.ErrInternalError, EntityCloudSync,
			fmt.Sprintf("rclone sync exited with code %d", result.ReturnCode))
	}
	p.l.Info("cloud sync finished", "destination", destination)
	return nil
}

func (*Provider) Name() string {
	return "rclone"
}
