package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/core/job/executor"
)

func hookTask(hooks []job.Hook, hookType string) *job.Task {
	return job.NewTask(job.KindHook, hookType+" hooks", 1, map[string]interface{}{
		job.ParamHooks:    hooks,
		job.ParamHookType: hookType,
	})
}

func TestHookExecutor(t *testing.T) {
	e := executor.NewHookExecutor(testDeps(&stubResolver{}))

	t.Run("no hooks configured completes immediately", func(t *testing.T) {
		task := hookTask(nil, "pre")
		j := compositeJob(t, task)

		assert.NoError(t, e.Execute(context.Background(), j, task, 0))
		assert.Equal(t, job.TaskStatusCompleted, task.Status)
	})
	t.Run("runs hook commands through the shell and captures output", func(t *testing.T) {
		task := hookTask([]job.Hook{
			{Name: "announce", Command: "echo starting backup"},
		}, "pre")
		j := compositeJob(t, task)

		assert.NoError(t, e.Execute(context.Background(), j, task, 0))
		assert.Equal(t, job.TaskStatusCompleted, task.Status)
		assert.Contains(t, task.OutputLines, "starting backup")
	})
	t.Run("non-critical failure fails the task without the critical flag", func(t *testing.T) {
		task := hookTask([]job.Hook{
			{Name: "flaky", Command: "exit 2"},
			{Name: "after", Command: "echo still ran"},
		}, "pre")
		j := compositeJob(t, task)

		assert.Error(t, e.Execute(context.Background(), j, task, 0))
		assert.Equal(t, job.TaskStatusFailed, task.Status)
		assert.False(t, task.BoolParam(job.ParamCriticalFailure))
		assert.Contains(t, task.Error, "Hook execution failed")
		assert.Contains(t, task.Error, "flaky: exited with code 2")
		// non-critical failure does not stop later hooks
		assert.Contains(t, task.OutputLines, "still ran")
	})
	t.Run("critical failure flags the task and stops remaining hooks", func(t *testing.T) {
		task := hookTask([]job.Hook{
			{Name: "guard", Command: "exit 1", Critical: true},
			{Name: "never", Command: "echo should not run"},
		}, "pre")
		j := compositeJob(t, task)

		assert.Error(t, e.Execute(context.Background(), j, task, 0))
		assert.Equal(t, job.TaskStatusFailed, task.Status)
		assert.True(t, task.BoolParam(job.ParamCriticalFailure))
		assert.Equal(t, "guard", task.StringParam(job.ParamFailedCriticalHookName))
		assert.Contains(t, task.Error, "Critical hook execution failed")
		assert.NotContains(t, task.OutputLines, "should not run")
		assert.True(t, task.CriticalFailure())
	})
	t.Run("post hooks honour run_on_job_failure when the job already failed", func(t *testing.T) {
		backup := job.NewTask(job.KindBackup, "backup", 1, nil)
		task := hookTask([]job.Hook{
			{Name: "cleanup", Command: "echo cleaning", RunOnJobFailure: true},
			{Name: "celebrate", Command: "echo success only"},
		}, "post")
		task.Order = 2
		j := compositeJob(t, backup, task)
		backup.MarkRunning()
		backup.MarkFailed(2, "Backup failed with return code 2")

		assert.NoError(t, e.Execute(context.Background(), j, task, 1))
		assert.Equal(t, job.TaskStatusCompleted, task.Status)
		assert.Contains(t, task.OutputLines, "cleaning")
		assert.NotContains(t, task.OutputLines, "success only")
		assert.Contains(t, task.OutputLines, "[celebrate] skipped, job already failed")
	})
	t.Run("hook environment carries the job context", func(t *testing.T) {
		task := hookTask([]job.Hook{
			{Name: "env", Command: "echo job=$CUSTODIAN_JOB_ID type=$CUSTODIAN_HOOK_TYPE"},
		}, "pre")
		j := compositeJob(t, task)

		assert.NoError(t, e.Execute(context.Background(), j, task, 0))
		assert.Contains(t, task.OutputLines, "job="+j.ID.String()+" type=pre")
	})
}
