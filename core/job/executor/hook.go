package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/errors"
)

type HookExecutor struct {
	deps Deps
}

func NewHookExecutor(deps Deps) *HookExecutor {
	return &HookExecutor{deps: deps}
}

func (*HookExecutor) Kind() job.Kind {
	return job.KindHook
}

// Execute runs each configured hook command through the shell. A failed
// critical hook stops the remaining hooks and flags the task so the
// orchestrator aborts the rest of the job; non-critical failures are
// collected and only fail the task itself.
func (e *HookExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	hooks := t.HooksParam()
	if len(hooks) == 0 {
		t.MarkCompleted(0)
		return nil
	}

	jobFailed := hasFailedTask(j)
	hookType := t.StringParam(job.ParamHookType)

	var errorMessages []string
	var criticalHookName string
	for _, hook := range hooks {
		if jobFailed && !hook.RunOnJobFailure {
			e.deps.emit(j, t, taskIndex, fmt.Sprintf("[%s] skipped, job already failed", hook.Name))
			continue
		}

		e.deps.Logger.Info("running hook", "job_id", j.ID, "hook", hook.Name, "hook_type", hookType)
		result := e.deps.runCommand(ctx, j, t, taskIndex,
			[]string{"sh", "-c", hook.Command}, hookEnv(j, hookType), nil)

		switch {
		case result.Err != nil:
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", hook.Name, result.Err.Error()))
		case result.ReturnCode != 0:
			errorMessages = append(errorMessages,
				fmt.Sprintf("%s: exited with code %d", hook.Name, result.ReturnCode))
		default:
			continue
		}

		if hook.Critical {
			criticalHookName = hook.Name
			break
		}
	}

	if len(errorMessages) == 0 {
		t.MarkCompleted(0)
		return nil
	}

	joined := strings.Join(errorMessages, "; ")
	if criticalHookName != "" {
		t.SetParam(job.ParamCriticalFailure, true)
		t.SetParam(job.ParamFailedCriticalHookName, criticalHookName)
		msg := "Critical hook execution failed: " + joined
		t.MarkFailed(1, msg)
		return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
	}
	msg := "Hook execution failed: " + joined
	t.MarkFailed(1, msg)
	return errors.NewError(errors.ErrInternalError, job.EntityTask, msg)
}

func hasFailedTask(j *job.Job) bool {
	for _, t := range j.Tasks {
		if t.Status == job.TaskStatusFailed {
			return true
		}
	}
	return false
}

func hookEnv(j *job.Job, hookType string) []string {
	return []string{
		"CUSTODIAN_JOB_ID=" + j.ID.String(),
		"CUSTODIAN_JOB_TYPE=" + j.Type.String(),
		"CUSTODIAN_HOOK_TYPE=" + hookType,
		fmt.Sprintf("CUSTODIAN_REPOSITORY_ID=%d", j.RepositoryID),
	}
}
