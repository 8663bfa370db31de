package executor

import (
	"context"
	"fmt"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

type PruneExecutor struct {
	deps Deps
}

func NewPruneExecutor(deps Deps) *PruneExecutor {
	return &PruneExecutor{deps: deps}
}

func (*PruneExecutor) Kind() job.Kind {
	return job.KindPrune
}

func (e *PruneExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	data, ok := e.deps.resolveRepository(ctx, j, t)
	if !ok {
		return errors.NewError(errors.ErrFailedPrecond, job.EntityTask, t.Error)
	}

	command := BuildPruneCommand(t, data.Path)
	e.deps.Logger.Info("starting prune", "job_id", j.ID, "dry_run", t.BoolParam(paramDryRun))

	result := e.deps.runCommand(ctx, j, t, taskIndex, command, BorgEnv(data), nil)
	if result.Err != nil {
		t.MarkFailed(result.ReturnCode, result.Err.Error())
		return errors.NewInternalError(job.EntityTask, "prune did not finish", result.Err)
	}
	if result.ReturnCode != 0 {
		msg := fmt.Sprintf("Prune failed with return code %d", result.ReturnCode)
		t.MarkFailed(result.ReturnCode, msg)
		return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
	}
	t.MarkCompleted(0)
	return nil
}
