package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/ext/process"
	"github.com/odpf/custodian/internal/errors"
)

type BackupExecutor struct {
	deps Deps
}

func NewBackupExecutor(deps Deps) *BackupExecutor {
	return &BackupExecutor{deps: deps}
}

func (*BackupExecutor) Kind() job.Kind {
	return job.KindBackup
}

func (e *BackupExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	data, ok := e.deps.resolveRepository(ctx, j, t)
	if !ok {
		return errors.NewError(errors.ErrFailedPrecond, job.EntityTask, t.Error)
	}

	command := BuildBackupCommand(t, data.Path, time.Now())
	e.deps.Logger.Info("starting backup", "job_id", j.ID, "command", e.deps.redacted(command))

	result := e.deps.runCommand(ctx, j, t, taskIndex, command, BorgEnv(data), func(p process.Progress) {
		e.deps.emitProgress(j, t, taskIndex, p)
	})
	if result.Err != nil {
		t.MarkFailed(result.ReturnCode, result.Err.Error())
		return errors.NewInternalError(job.EntityTask, "backup did not finish", result.Err)
	}
	if result.ReturnCode != 0 {
		msg := fmt.Sprintf("Backup failed with return code %d", result.ReturnCode)
		t.MarkFailed(result.ReturnCode, msg)
		return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
	}
	t.MarkCompleted(0)
	return nil
}
