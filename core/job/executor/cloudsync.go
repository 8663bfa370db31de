package executor

import (
	"context"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/ext/cloud"
	"github.com/odpf/custodian/internal/errors"
)

type CloudSyncExecutor struct {
	deps     Deps
	provider cloud.Provider
}

func NewCloudSyncExecutor(deps Deps, provider cloud.Provider) *CloudSyncExecutor {
	return &CloudSyncExecutor{deps: deps, provider: provider}
}

func (*CloudSyncExecutor) Kind() job.Kind {
	return job.KindCloudSync
}

func (e *CloudSyncExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	if j.CloudSyncConfigID == 0 {
		e.deps.emit(j, t, taskIndex, "Cloud sync skipped - no configuration")
		t.MarkCompleted(0)
		return nil
	}

	data, ok := e.deps.resolveRepository(ctx, j, t)
	if !ok {
		return errors.NewError(errors.ErrFailedPrecond, job.EntityTask, t.Error)
	}

	e.deps.Logger.Info("starting cloud sync", "job_id", j.ID, "provider", e.provider.Name())
	err := e.provider.Sync(ctx, data.Path, t.StringParam(paramPathPrefix), func(line string) {
		e.deps.emit(j, t, taskIndex, line)
	})
	if err != nil {
		t.MarkFailed(1, err.Error())
		return err
	}
	t.MarkCompleted(0)
	return nil
}
