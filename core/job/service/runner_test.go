package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/raystack/salt/log"
	"github.com/stretchr/testify/assert"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/core/job/broadcaster"
	"github.com/odpf/custodian/core/job/executor"
	"github.com/odpf/custodian/core/job/output"
	"github.com/odpf/custodian/core/job/service"
	"github.com/odpf/custodian/ext/process"
)

type countingAdmission struct {
	mu             sync.Mutex
	backupAcquires int
	backupReleases int
	opAcquires     int
	opReleases     int
}

func (a *countingAdmission) AcquireBackup(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	a.backupAcquires++
	return nil
}

func (a *countingAdmission) ReleaseBackup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backupReleases++
}

func (a *countingAdmission) AcquireOperation(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	a.opAcquires++
	return nil
}

func (a *countingAdmission) ReleaseOperation() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opReleases++
}

type recordingGateway struct {
	mu       sync.Mutex
	created  []job.ID
	statuses []job.Status
	tasks    int
}

func (g *recordingGateway) CreateJob(j *job.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, j.ID)
}

func (g *recordingGateway) UpdateJobStatus(_ job.ID, status job.Status, _ string, _ *time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, status)
}

func (g *recordingGateway) SaveTaskSnapshot(*job.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks++
}

func (g *recordingGateway) lastStatus() job.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.statuses) == 0 {
		return ""
	}
	return g.statuses[len(g.statuses)-1]
}

// fakeExecutor runs a scripted outcome for one task kind.
type fakeExecutor struct {
	kind job.Kind
	run  func(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error
}

func (f *fakeExecutor) Kind() job.Kind {
	return f.kind
}

func (f *fakeExecutor) Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error {
	return f.run(ctx, j, t, taskIndex)
}

func succeed(kind job.Kind) *fakeExecutor {
	return &fakeExecutor{kind: kind, run: func(_ context.Context, _ *job.Job, t *job.Task, _ int) error {
		t.MarkCompleted(0)
		return nil
	}}
}

func fail(kind job.Kind, returnCode int, msg string) *fakeExecutor {
	return &fakeExecutor{kind: kind, run: func(_ context.Context, _ *job.Job, t *job.Task, _ int) error {
		t.MarkFailed(returnCode, msg)
		return assert.AnError
	}}
}

func failCriticalHook(hookName string) *fakeExecutor {
	return &fakeExecutor{kind: job.KindHook, run: func(_ context.Context, _ *job.Job, t *job.Task, _ int) error {
		t.SetParam(job.ParamCriticalFailure, true)
		t.SetParam(job.ParamFailedCriticalHookName, hookName)
		t.MarkFailed(1, "Critical hook execution failed: "+hookName)
		return assert.AnError
	}}
}

type runnerFixture struct {
	runner    *service.Runner
	admission *countingAdmission
	gateway   *recordingGateway
	bus       *broadcaster.Broadcaster
	output    *output.Manager
}

func newFixture(t *testing.T, executors ...executor.Executor) *runnerFixture {
	t.Helper()
	admission := &countingAdmission{}
	gateway := &recordingGateway{}
	bus := broadcaster.New(200, 0, log.NewNoop())
	t.Cleanup(func() { bus.Close() })
	outputManager := output.NewManager(1000)

	runner := service.NewRunner(
		log.NewNoop(),
		executor.NewRegistry(executors...),
		admission,
		bus,
		outputManager,
		gateway,
		executor.NewProcessTable(),
		process.NewRunner(log.NewNoop()),
	)
	return &runnerFixture{
		runner:    runner,
		admission: admission,
		gateway:   gateway,
		bus:       bus,
		output:    outputManager,
	}
}

func newTestJob(t *testing.T, tasks ...*job.Task) *job.Job {
	t.Helper()
	j, err := job.NewComposite(job.TypeComposite, 1, tasks)
	assert.NoError(t, err)
	return j
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("runs every task in order and completes the job", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindHook), succeed(job.KindBackup), succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.StatusCompleted, j.Status)
		assert.NotNil(t, j.FinishedAt)
		assert.Equal(t, 3, j.CompletedTasks())
		assert.LessOrEqual(t, j.CompletedTasks(), j.TotalTasks())
		assert.Equal(t, job.StatusCompleted, f.gateway.lastStatus())
		assert.Equal(t, []job.ID{j.ID}, f.gateway.created)
	})
	t.Run("critical hook failure skips every later task and fails the job", func(t *testing.T) {
		f := newFixture(t, failCriticalHook("Database Backup"),
			succeed(job.KindBackup), succeed(job.KindHook), succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, job.TaskStatusFailed, j.Tasks[0].Status)
		for _, later := range j.Tasks[1:] {
			assert.Equal(t, job.TaskStatusSkipped, later.Status)
			assert.NotNil(t, later.CompletedAt)
			assert.Contains(t, later.OutputLines,
				"Task skipped due to critical hook failure: Database Backup")
		}
	})
	t.Run("backup failure skips the rest and fails the job", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindHook),
			fail(job.KindBackup, 2, "Backup failed with return code 2"),
			succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, job.TaskStatusCompleted, j.Tasks[0].Status)
		assert.Equal(t, job.TaskStatusFailed, j.Tasks[1].Status)
		assert.Equal(t, job.TaskStatusSkipped, j.Tasks[2].Status)
		assert.Contains(t, j.Tasks[2].OutputLines, "Task skipped due to critical task failure")
	})
	t.Run("non-critical failure does not interrupt the sequence", func(t *testing.T) {
		f := newFixture(t,
			fail(job.KindHook, 1, "Hook execution failed: flaky"),
			succeed(job.KindBackup), succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.StatusCompleted, j.Status)
		assert.Equal(t, job.TaskStatusFailed, j.Tasks[0].Status)
		assert.Equal(t, job.TaskStatusCompleted, j.Tasks[1].Status)
		assert.Equal(t, job.TaskStatusCompleted, j.Tasks[2].Status)
	})
	t.Run("first critical failure wins, earlier non-critical failures are preserved", func(t *testing.T) {
		f := newFixture(t,
			fail(job.KindHook, 1, "Hook execution failed: flaky"),
			fail(job.KindBackup, 2, "Backup failed with return code 2"),
			succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.StatusFailed, j.Status)
		assert.Equal(t, job.TaskStatusFailed, j.Tasks[0].Status)
		assert.Equal(t, "Hook execution failed: flaky", j.Tasks[0].Error)
		assert.Equal(t, job.TaskStatusSkipped, j.Tasks[2].Status)
		assert.Contains(t, j.Tasks[2].OutputLines, "Task skipped due to critical task failure")
	})
	t.Run("an executor panic becomes a task failure with return code -1", func(t *testing.T) {
		panicking := &fakeExecutor{kind: job.KindNotification,
			run: func(context.Context, *job.Job, *job.Task, int) error {
				panic("notification provider blew up")
			}}
		f := newFixture(t, succeed(job.KindBackup), panicking)
		j := newTestJob(t,
			job.NewTask(job.KindBackup, "backup", 1, nil),
			job.NewTask(job.KindNotification, "notify", 2, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		notifyTask := j.Tasks[1]
		assert.Equal(t, job.TaskStatusFailed, notifyTask.Status)
		assert.Equal(t, -1, *notifyTask.ReturnCode)
		assert.Contains(t, notifyTask.Error, "notification provider blew up")
		// a notification failure is not critical
		assert.Equal(t, job.StatusCompleted, j.Status)
	})
	t.Run("an executor that never marks the task gets a failed status", func(t *testing.T) {
		lazy := &fakeExecutor{kind: job.KindCheck,
			run: func(context.Context, *job.Job, *job.Task, int) error {
				return nil
			}}
		f := newFixture(t, lazy)
		j := newTestJob(t, job.NewTask(job.KindCheck, "check", 1, nil))

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.TaskStatusFailed, j.Tasks[0].Status)
		assert.Equal(t, -1, *j.Tasks[0].ReturnCode)
	})
	t.Run("unknown executor kind fails the task", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindBackup))
		j := newTestJob(t,
			job.NewTask(job.KindBackup, "backup", 1, nil),
			job.NewTask(job.KindCompact, "compact", 2, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, job.TaskStatusFailed, j.Tasks[1].Status)
		assert.Contains(t, j.Tasks[1].Error, "no executor registered")
	})
	t.Run("backup jobs hold a backup slot for the whole run", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindHook), succeed(job.KindBackup))
		j := newTestJob(t,
			job.NewTask(job.KindHook, "pre-hook", 1, nil),
			job.NewTask(job.KindBackup, "backup", 2, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, 1, f.admission.backupAcquires)
		assert.Equal(t, 1, f.admission.backupReleases)
		// the backup task runs under the job's backup slot, not an operation slot
		assert.Equal(t, 0, f.admission.opAcquires)
	})
	t.Run("repository-bound non-backup tasks take an operation slot each", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindPrune), succeed(job.KindCheck), succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindPrune, "prune", 1, nil),
			job.NewTask(job.KindCheck, "check", 2, nil),
			job.NewTask(job.KindNotification, "notify", 3, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		assert.Equal(t, 0, f.admission.backupAcquires)
		assert.Equal(t, 2, f.admission.opAcquires)
		assert.Equal(t, 2, f.admission.opReleases)
	})
	t.Run("duplicate submission is rejected", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindBackup))
		j := newTestJob(t, job.NewTask(job.KindBackup, "backup", 1, nil))

		assert.NoError(t, f.runner.Submit(ctx, j))
		assert.Error(t, f.runner.Submit(ctx, j))
		f.runner.Wait()
	})
	t.Run("cancel fails the running task and skips the pending ones", func(t *testing.T) {
		started := make(chan struct{})
		blocking := &fakeExecutor{kind: job.KindBackup,
			run: func(ctx context.Context, _ *job.Job, t *job.Task, _ int) error {
				close(started)
				<-ctx.Done()
				t.MarkFailed(-1, "job cancelled")
				return ctx.Err()
			}}
		f := newFixture(t, blocking, succeed(job.KindNotification))
		j := newTestJob(t,
			job.NewTask(job.KindBackup, "backup", 1, nil),
			job.NewTask(job.KindNotification, "notify", 2, nil),
		)

		assert.NoError(t, f.runner.Submit(ctx, j))
		<-started
		assert.NoError(t, f.runner.Cancel(j.ID))
		f.runner.Wait()

		assert.Equal(t, job.StatusCancelled, j.Status)
		assert.Equal(t, job.TaskStatusFailed, j.Tasks[0].Status)
		assert.Equal(t, job.TaskStatusSkipped, j.Tasks[1].Status)
		assert.NotNil(t, j.FinishedAt)

		// a finished job cannot be cancelled again
		assert.Error(t, f.runner.Cancel(j.ID))
	})
	t.Run("cancel of an unknown job is a not found error", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindBackup))
		assert.Error(t, f.runner.Cancel(job.NewID()))
	})
	t.Run("get and list expose submitted jobs", func(t *testing.T) {
		f := newFixture(t, succeed(job.KindBackup))
		j := newTestJob(t, job.NewTask(job.KindBackup, "backup", 1, nil))

		assert.NoError(t, f.runner.Submit(ctx, j))
		f.runner.Wait()

		got, err := f.runner.Get(j.ID)
		assert.NoError(t, err)
		assert.Equal(t, j.ID, got.ID)
		assert.Len(t, f.runner.List(), 1)

		_, err = f.runner.Get(job.NewID())
		assert.Error(t, err)
	})
}

func TestFinalStatus(t *testing.T) {
	t.Run("is deterministic over a fixed terminal set", func(t *testing.T) {
		backup := job.NewTask(job.KindBackup, "backup", 1, nil)
		notify := job.NewTask(job.KindNotification, "notify", 2, nil)
		j := newTestJob(t, backup, notify)
		backup.MarkRunning()
		backup.MarkFailed(2, "Backup failed with return code 2")
		notify.MarkSkipped("Task skipped due to critical task failure")

		first := service.FinalStatus(j)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, service.FinalStatus(j))
		}
		assert.Equal(t, job.StatusFailed, first)
	})
	t.Run("non-critical failures produce a completed status", func(t *testing.T) {
		hook := job.NewTask(job.KindHook, "post-hook", 1, nil)
		backup := job.NewTask(job.KindBackup, "backup", 2, nil)
		j := newTestJob(t, hook, backup)
		hook.MarkRunning()
		hook.MarkFailed(1, "Hook execution failed")
		backup.MarkRunning()
		backup.MarkCompleted(0)

		assert.Equal(t, job.StatusCompleted, service.FinalStatus(j))
	})
}
