package executor

import (
	"context"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/ext/notify"
	"github.com/odpf/custodian/internal/errors"
)

type NotificationExecutor struct {
	deps   Deps
	sender notify.Sender
}

func NewNotificationExecutor(deps Deps, sender notify.Sender) *NotificationExecutor {
	return &NotificationExecutor{deps: deps, sender: sender}
}

func (*NotificationExecutor) Kind() job.Kind {
	return job.KindNotification
}

func (e *NotificationExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	if j.NotificationConfigID == 0 {
		t.MarkFailed(1, "No notification configuration")
		return errors.NewFailedPreconditionError(job.EntityTask, "No notification configuration")
	}

	summary := job.Summarize(j, j.RepositoryName())
	if err := e.sender.Notify(ctx, summary); err != nil {
		t.MarkFailed(1, err.Error())
		return err
	}
	e.deps.emit(j, t, taskIndex, "Notification sent via "+e.sender.Name())
	t.MarkCompleted(0)
	return nil
}
