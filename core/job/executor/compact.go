package executor

import (
	"context"
	"fmt"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

type CompactExecutor struct {
	deps Deps
}

func NewCompactExecutor(deps Deps) *CompactExecutor {
	return &CompactExecutor{deps: deps}
}

func (*CompactExecutor) Kind() job.Kind {
	return job.KindCompact
}

func (e *CompactExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	data, ok := e.deps.resolveRepository(ctx, j, t)
	if !ok {
		return errors.NewError(errors.ErrFailedPrecond, job.EntityTask, t.Error)
	}

	result := e.deps.runCommand(ctx, j, t, taskIndex, BuildCompactCommand(data.Path), BorgEnv(data), nil)
	if result.Err != nil {
		t.MarkFailed(result.ReturnCode, result.Err.Error())
		return errors.NewInternalError(job.EntityTask, "compact did not finish", result.Err)
	}
	if result.ReturnCode != 0 {
		msg := fmt.Sprintf("Compact failed with return code %d", result.ReturnCode)
		t.MarkFailed(result.ReturnCode, msg)
		return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
	}
	t.MarkCompleted(0)
	return nil
}
