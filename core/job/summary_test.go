package job_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odpf/custodian/core/job"
)

func compositeOf(t *testing.T, tasks []*job.Task) *job.Job {
	t.Helper()
	j, err := job.NewComposite(job.TypeBackup, 1, tasks)
	assert.NoError(t, err)
	return j
}

func TestSummarize(t *testing.T) {
	t.Run("all tasks successful", func(t *testing.T) {
		preHook := job.NewTask(job.KindHook, "pre-hook", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		postHook := job.NewTask(job.KindHook, "post-hook", 3, nil)
		j := compositeOf(t, []*job.Task{preHook, backup, postHook})
		for _, task := range j.Tasks {
			task.MarkRunning()
			task.MarkCompleted(0)
		}

		s := job.Summarize(j, "main-repo")

		assert.Contains(t, s.Title, "Completed Successfully")
		assert.Contains(t, s.Body, "Tasks Completed: 3, Total: 3")
		assert.NotContains(t, s.Body, "Skipped")
		assert.Equal(t, job.SeveritySuccess, s.Severity)
		assert.Equal(t, job.PriorityNormal, s.Priority)
	})

	t.Run("critical hook failure", func(t *testing.T) {
		preHook := job.NewTask(job.KindHook, "pre-hook", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		postHook := job.NewTask(job.KindHook, "post-hook", 3, nil)
		j := compositeOf(t, []*job.Task{preHook, backup, postHook})

		preHook.MarkRunning()
		preHook.MarkFailed(1, "hook failed")
		preHook.SetParam(job.ParamCriticalFailure, true)
		preHook.SetParam(job.ParamFailedCriticalHookName, "Database Backup")
		backup.MarkSkipped("Task skipped due to critical hook failure: Database Backup")
		postHook.MarkSkipped("Task skipped due to critical hook failure: Database Backup")

		s := job.Summarize(j, "main-repo")

		assert.Contains(t, s.Title, "Critical Hook Error")
		assert.Contains(t, s.Body, "Database Backup")
		assert.Contains(t, s.Body, "Tasks Completed: 0, Skipped: 2, Total: 3")
		assert.Equal(t, job.SeverityError, s.Severity)
		assert.Equal(t, job.PriorityHigh, s.Priority)
	})

	t.Run("backup failure", func(t *testing.T) {
		preHook := job.NewTask(job.KindHook, "pre-hook", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		postHook := job.NewTask(job.KindHook, "post-hook", 3, nil)
		j := compositeOf(t, []*job.Task{preHook, backup, postHook})

		preHook.MarkRunning()
		preHook.MarkCompleted(0)
		backup.MarkRunning()
		backup.MarkFailed(2, "borg create failed")
		postHook.MarkSkipped("Task skipped due to critical task failure")

		s := job.Summarize(j, "main-repo")

		assert.Contains(t, s.Title, "Backup Error")
		assert.Contains(t, s.Body, "Tasks Completed: 1, Skipped: 1, Total: 3")
		assert.Equal(t, job.SeverityError, s.Severity)
		assert.Equal(t, job.PriorityHigh, s.Priority)
	})

	t.Run("non critical failure completes with warnings", func(t *testing.T) {
		preHook := job.NewTask(job.KindHook, "pre-hook", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		postHook := job.NewTask(job.KindHook, "post-hook", 3, nil)
		j := compositeOf(t, []*job.Task{preHook, backup, postHook})

		preHook.MarkRunning()
		preHook.MarkCompleted(0)
		backup.MarkRunning()
		backup.MarkCompleted(0)
		postHook.MarkRunning()
		postHook.MarkFailed(1, "post hook failed")

		s := job.Summarize(j, "main-repo")

		assert.Contains(t, s.Title, "Completed with Warnings")
		assert.Contains(t, s.Body, "Failed Tasks: hook")
		assert.Contains(t, s.Body, "Tasks Completed: 2, Skipped: 0, Total: 3")
		assert.Equal(t, job.SeverityWarning, s.Severity)
		assert.Equal(t, job.PriorityNormal, s.Priority)
	})

	t.Run("multiple failed kinds are listed in order", func(t *testing.T) {
		hook1 := job.NewTask(job.KindHook, "hook-1", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		hook2 := job.NewTask(job.KindHook, "hook-2", 3, nil)
		notify := job.NewTask(job.KindNotification, "notify", 4, nil)
		j := compositeOf(t, []*job.Task{hook1, backup, hook2, notify})

		hook1.MarkRunning()
		hook1.MarkFailed(1, "failed")
		backup.MarkRunning()
		backup.MarkCompleted(0)
		hook2.MarkRunning()
		hook2.MarkFailed(1, "failed")
		notify.MarkRunning()
		notify.MarkFailed(1, "failed")

		s := job.Summarize(j, "main-repo")

		assert.Contains(t, s.Body, "Failed Tasks: hook, hook, notification")
		assert.Contains(t, s.Body, "Tasks Completed: 1, Skipped: 0, Total: 4")
	})

	t.Run("falls back to the unknown repository placeholder", func(t *testing.T) {
		backup := job.NewTask(job.KindBackup, "backup", 1, nil)
		j := compositeOf(t, []*job.Task{backup})
		backup.MarkRunning()
		backup.MarkCompleted(0)

		assert.Equal(t, "Unknown", j.RepositoryName())
		s := job.Summarize(j, j.RepositoryName())
		assert.Contains(t, s.Body, "'Unknown'")
	})

	t.Run("repository name comes from task parameters", func(t *testing.T) {
		backup := job.NewTask(job.KindBackup, "backup", 1, map[string]interface{}{
			job.ParamRepositoryName: "offsite",
		})
		j := compositeOf(t, []*job.Task{backup})

		assert.Equal(t, "offsite", j.RepositoryName())
	})
}
