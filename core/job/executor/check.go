package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

type CheckExecutor struct {
	deps Deps
}

func NewCheckExecutor(deps Deps) *CheckExecutor {
	return &CheckExecutor{deps: deps}
}

func (*CheckExecutor) Kind() job.Kind {
	return job.KindCheck
}

func (e *CheckExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	data, ok := e.deps.resolveRepository(ctx, j, t)
	if !ok {
		return errors.NewError(errors.ErrFailedPrecond, job.EntityTask, t.Error)
	}

	command := BuildCheckCommand(t, data.Path)
	e.deps.Logger.Info("starting check", "job_id", j.ID, "repair", t.BoolParam(paramRepair))

	result := e.deps.runCommand(ctx, j, t, taskIndex, command, BorgEnv(data), nil)
	if result.Err != nil {
		t.MarkFailed(result.ReturnCode, result.Err.Error())
		return errors.NewInternalError(job.EntityTask, "check did not finish", result.Err)
	}
	if result.ReturnCode != 0 {
		msg := fmt.Sprintf("Check failed with return code %d: %s",
			result.ReturnCode, lastOutputLines(t, 5))
		t.MarkFailed(result.ReturnCode, msg)
		return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
	}
	t.MarkCompleted(0)
	return nil
}

// lastOutputLines joins the tail of the task output, the most useful
// part of a failed check.
func lastOutputLines(t *job.Task, n int) string {
	if len(t.OutputLines) == 0 {
		return "No output captured"
	}
	start := len(t.OutputLines) - n
	if start < 0 {
		start = 0
	}
	return strings.Join(t.OutputLines[start:], "\n")
}
