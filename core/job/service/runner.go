package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/core/job/broadcaster"
	"github.com/odpf/custodian/core/job/executor"
	"github.com/odpf/custodian/core/job/output"
	"github.com/odpf/custodian/ext/process"
	"github.com/odpf/custodian/internal/errors"
	"github.com/odpf/custodian/internal/telemetry"
)

const terminateTimeout = 10 * time.Second

// AdmissionController gates how many jobs and repository operations may
// run at once.
type AdmissionController interface {
	AcquireBackup(ctx context.Context) error
	ReleaseBackup()
	AcquireOperation(ctx context.Context) error
	ReleaseOperation()
}

// EventBus is the fan-out surface live observers attach to.
type EventBus interface {
	Publish(e job.Event)
	Subscribe() *broadcaster.Subscriber
	Unsubscribe(sub *broadcaster.Subscriber)
}

// PersistenceGateway records job state durably. All writes are advisory
// to the running job; they never fail it.
type PersistenceGateway interface {
	CreateJob(j *job.Job)
	UpdateJobStatus(id job.ID, status job.Status, errMsg string, finishedAt *time.Time)
	SaveTaskSnapshot(t *job.Task)
}

// ProcessTerminator reaches the in-flight external process of a job.
type ProcessTerminator interface {
	Terminate(h *process.Handle, timeout time.Duration) bool
}

// Runner drives composite jobs through their ordered task list: one task
// at a time, critical failures aborting the remainder through skip
// propagation.
type Runner struct {
	l         log.Logger
	registry  *executor.Registry
	admission AdmissionController
	events    EventBus
	output    *output.Manager
	store     PersistenceGateway
	processes *executor.ProcessTable
	proc      ProcessTerminator

	mu        sync.Mutex
	jobs      map[job.ID]*job.Job
	cancels   map[job.ID]context.CancelFunc
	cancelled map[job.ID]bool

	wg sync.WaitGroup
}

func NewRunner(
	logger log.Logger,
	registry *executor.Registry,
	admission AdmissionController,
	events EventBus,
	outputManager *output.Manager,
	store PersistenceGateway,
	processes *executor.ProcessTable,
	proc ProcessTerminator,
) *Runner {
	return &Runner{
		l:         logger,
		registry:  registry,
		admission: admission,
		events:    events,
		output:    outputManager,
		store:     store,
		processes: processes,
		proc:      proc,
		jobs:      map[job.ID]*job.Job{},
		cancels:   map[job.ID]context.CancelFunc{},
		cancelled: map[job.ID]bool{},
	}
}

// Submit registers the job and starts it once admission grants a slot.
// It returns as soon as the job is accepted; execution is asynchronous.
func (r *Runner) Submit(ctx context.Context, j *job.Job) error {
	if j == nil || len(j.Tasks) == 0 {
		return errors.NewInvalidArgumentError(job.EntityJob, "job has no tasks")
	}

	r.mu.Lock()
	if _, ok := r.jobs[j.ID]; ok {
		r.mu.Unlock()
		return errors.NewError(errors.ErrAlreadyExists, job.EntityJob, "job already submitted "+j.ID.String())
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.jobs[j.ID] = j
	r.cancels[j.ID] = cancel
	r.mu.Unlock()

	r.output.Create(j.ID)
	r.store.CreateJob(j)
	r.events.Publish(job.JobStatusEvent(j.ID, j.Status))
	telemetry.NewCounter("jobs_submitted_total", nil).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.admitAndRun(runCtx, j)
	}()
	return nil
}

func (r *Runner) admitAndRun(ctx context.Context, j *job.Job) {
	needsBackupSlot := j.HasBackupTask()
	if needsBackupSlot {
		if err := r.admission.AcquireBackup(ctx); err != nil {
			r.finishCancelled(j, "cancelled while waiting for a backup slot")
			return
		}
		defer r.admission.ReleaseBackup()
	}
	r.run(ctx, j)
}

// run executes every task in order. It never panics past its own
// boundary; executor panics become ordinary task failures.
func (r *Runner) run(ctx context.Context, j *job.Job) {
	r.transitionJob(j, job.StatusRunning)

	var criticalTask *job.Task
	for i := 0; i < len(j.Tasks); i++ {
		t := j.Tasks[i]
		if t.Status != job.TaskStatusPending {
			continue
		}
		if r.isCancelled(j.ID) || ctx.Err() != nil {
			break
		}

		r.mu.Lock()
		j.CurrentTaskIndex = i
		t.MarkRunning()
		r.mu.Unlock()
		r.events.Publish(job.TaskStatusEvent(j.ID, i, t.Status))
		r.store.SaveTaskSnapshot(t)

		r.executeTask(ctx, j, t, i)

		r.events.Publish(job.TaskStatusEvent(j.ID, i, t.Status))
		r.store.SaveTaskSnapshot(t)

		if t.CriticalFailure() {
			criticalTask = t
			break
		}
	}

	if r.isCancelled(j.ID) {
		r.finishCancelled(j, "job cancelled")
		return
	}

	if criticalTask != nil {
		r.skipRemaining(j, skipCause(criticalTask))
	}

	r.finish(j, FinalStatus(j))
}

// executeTask dispatches to the kind's executor with panic containment
// and, for repository-bound non-backup kinds, an operation slot.
func (r *Runner) executeTask(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) {
	defer func() {
		if p := recover(); p != nil {
			r.l.Error("task executor panicked", "job_id", j.ID, "kind", t.Kind, "panic", p)
			r.mu.Lock()
			t.MarkFailed(-1, fmt.Sprintf("%v", p))
			r.mu.Unlock()
		}
	}()

	exec, err := r.registry.For(t.Kind)
	if err != nil {
		t.MarkFailed(-1, err.Error())
		return
	}

	if t.Kind != job.KindBackup && t.Kind.RepositoryBound() {
		if err := r.admission.AcquireOperation(ctx); err != nil {
			t.MarkFailed(-1, "cancelled while waiting for an operation slot")
			return
		}
		defer r.admission.ReleaseOperation()
	}

	if execErr := exec.Execute(ctx, j, t, taskIndex); execErr != nil {
		r.l.Warn("task failed", "job_id", j.ID, "kind", t.Kind, "error", execErr)
	}
	if !t.Status.IsTerminal() {
		t.MarkFailed(-1, "executor finished without a terminal task status")
	}
}

// skipRemaining transitions every still-pending task to skipped in one
// critical section, so no observer sees a half-applied skip.
func (r *Runner) skipRemaining(j *job.Job, cause string) {
	r.mu.Lock()
	var skipped []int
	for i, t := range j.Tasks {
		if t.Status == job.TaskStatusPending {
			t.MarkSkipped(cause)
			skipped = append(skipped, i)
		}
	}
	r.mu.Unlock()

	for _, i := range skipped {
		t := j.Tasks[i]
		seq := r.output.Append(j.ID, cause)
		e := job.OutputEvent(j.ID, i, cause)
		e.Seq = seq
		r.events.Publish(e)
		r.events.Publish(job.TaskStatusEvent(j.ID, i, t.Status))
		r.store.SaveTaskSnapshot(t)
	}
}

func skipCause(critical *job.Task) string {
	if critical.Kind == job.KindHook {
		hookName := critical.StringParam(job.ParamFailedCriticalHookName)
		if hookName == "" {
			hookName = "unknown"
		}
		return "Task skipped due to critical hook failure: " + hookName
	}
	return "Task skipped due to critical task failure"
}

// FinalStatus computes the terminal job status from a fixed set of
// terminal task statuses. It is deterministic and mutates nothing.
func FinalStatus(j *job.Job) job.Status {
	for _, t := range j.Tasks {
		if t.CriticalFailure() {
			return job.StatusFailed
		}
	}
	return job.StatusCompleted
}

func (r *Runner) transitionJob(j *job.Job, status job.Status) {
	r.mu.Lock()
	j.Status = status
	r.mu.Unlock()
	r.events.Publish(job.JobStatusEvent(j.ID, status))
	r.store.UpdateJobStatus(j.ID, status, j.Error, nil)
}

func (r *Runner) finish(j *job.Job, status job.Status) {
	r.mu.Lock()
	j.Finish(status)
	delete(r.cancels, j.ID)
	r.mu.Unlock()

	r.events.Publish(job.JobStatusEvent(j.ID, status))
	r.store.UpdateJobStatus(j.ID, status, j.Error, j.FinishedAt)
	telemetry.NewCounter("jobs_finished_total", map[string]string{"status": status.String()}).Inc()
	r.l.Info("job finished", "job_id", j.ID, "status", status)
}

func (r *Runner) finishCancelled(j *job.Job, cause string) {
	r.mu.Lock()
	for _, t := range j.Tasks {
		if t.Status == job.TaskStatusRunning {
			t.MarkFailed(-1, "job cancelled")
		}
	}
	var skipped []int
	for i, t := range j.Tasks {
		if t.Status == job.TaskStatusPending {
			t.MarkSkipped(cause)
			skipped = append(skipped, i)
		}
	}
	r.mu.Unlock()

	for _, i := range skipped {
		r.events.Publish(job.OutputEvent(j.ID, i, cause))
		r.events.Publish(job.TaskStatusEvent(j.ID, i, j.Tasks[i].Status))
	}
	for _, t := range j.Tasks {
		r.store.SaveTaskSnapshot(t)
	}
	r.finish(j, job.StatusCancelled)
}

// Cancel terminates a submitted job: the in-flight process is stopped
// gracefully then forcefully, the running task is failed, and pending
// tasks are skipped.
func (r *Runner) Cancel(id job.ID) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return errors.NewNotFoundError(job.EntityJob, "job not found "+id.String())
	}
	if j.IsTerminal() {
		r.mu.Unlock()
		return errors.NewFailedPreconditionError(job.EntityJob, "job already finished "+id.String())
	}
	r.cancelled[id] = true
	cancel := r.cancels[id]
	r.mu.Unlock()

	if handle, ok := r.processes.Get(id); ok {
		r.proc.Terminate(handle, terminateTimeout)
	}
	if cancel != nil {
		cancel()
	}
	r.l.Info("job cancel requested", "job_id", id)
	return nil
}

func (r *Runner) isCancelled(id job.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[id]
}

// Get returns a submitted job by id.
func (r *Runner) Get(id job.ID) (*job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, errors.NewNotFoundError(job.EntityJob, "job not found "+id.String())
	}
	return j, nil
}

// List returns every job this runner has seen since start.
func (r *Runner) List() []*job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Wait blocks until every submitted job has finished. Used on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
