package executor

import (
	"context"
	"sync"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/core/job/output"
	"github.com/odpf/custodian/ext/process"
	"github.com/odpf/custodian/internal/errors"
)

const EntityExecutor = "executor"

// Executor runs one task kind to a terminal state. Implementations mark
// the task themselves; the returned error carries the failure cause for
// the caller's log.
type Executor interface {
	Kind() job.Kind
	Execute(ctx context.Context, j *job.Job, t *job.Task, taskIndex int) error
}

type RepositoryResolver interface {
	GetData(ctx context.Context, repositoryID int) (*job.RepositoryData, error)
}

type EventPublisher interface {
	Publish(e job.Event)
}

// Deps is the shared plumbing every executor needs.
type Deps struct {
	Logger    log.Logger
	Runner    *process.Runner
	Output    *output.Manager
	Events    EventPublisher
	Store     RepositoryResolver
	Processes *ProcessTable
}

// emit records one output line on the task, the live buffer and the
// event stream.
func (d Deps) emit(j *job.Job, t *job.Task, taskIndex int, line string) {
	t.AppendOutput(line)
	var seq int64
	if d.Output != nil {
		seq = d.Output.Append(j.ID, line)
	}
	if d.Events != nil {
		e := job.OutputEvent(j.ID, taskIndex, line)
		e.Seq = seq
		d.Events.Publish(e)
	}
}

// emitProgress publishes a parsed progress marker to the event stream
// and records the archive metadata markers on the task.
func (d Deps) emitProgress(j *job.Job, t *job.Task, taskIndex int, p process.Progress) {
	switch {
	case p.ArchiveName != "":
		if t.StringParam(paramArchiveName) == "" {
			t.SetParam(paramArchiveName, p.ArchiveName)
		}
	case p.Fingerprint != "":
		t.SetParam(paramArchiveFingerprint, p.Fingerprint)
	case p.StartTime != "":
		t.SetParam(paramArchiveTimeStart, p.StartTime)
	case p.EndTime != "":
		t.SetParam(paramArchiveTimeEnd, p.EndTime)
	default:
		if d.Events != nil {
			d.Events.Publish(job.ProgressEvent(j.ID, taskIndex, job.TaskProgress{
				OriginalSize:     p.OriginalSize,
				CompressedSize:   p.CompressedSize,
				DeduplicatedSize: p.DeduplicatedSize,
				NFiles:           p.NFiles,
				Path:             p.Path,
			}))
		}
	}
}

func (d Deps) redacted(command []string) string {
	return process.RedactCommand(command)
}

// resolveRepository fetches connection material, marking the task failed
// with the fixed error messages when it cannot.
func (d Deps) resolveRepository(ctx context.Context, j *job.Job, t *job.Task) (*job.RepositoryData, bool) {
	if j.RepositoryID == 0 {
		t.MarkFailed(-1, "Repository ID is missing")
		return nil, false
	}
	data, err := d.Store.GetData(ctx, j.RepositoryID)
	if err != nil {
		if errors.IsErrorType(err, errors.ErrNotFound) {
			t.MarkFailed(1, "Repository not found")
		} else {
			t.MarkFailed(-1, err.Error())
		}
		return nil, false
	}
	return data, true
}

// runCommand starts the process, registers its handle for cancellation
// and streams every line into the task until it exits. onProgress may
// be nil for commands without structured progress output.
func (d Deps) runCommand(ctx context.Context, j *job.Job, t *job.Task, taskIndex int, command, env []string, onProgress func(process.Progress)) process.Result {
	handle, err := d.Runner.Start(ctx, command, env, "")
	if err != nil {
		return process.Result{ReturnCode: -1, Err: err}
	}
	if d.Processes != nil {
		d.Processes.Register(j.ID, handle)
		defer d.Processes.Remove(j.ID)
	}
	return d.Runner.Monitor(handle, func(line string) {
		d.emit(j, t, taskIndex, line)
	}, onProgress)
}

// ProcessTable tracks the live process of each job so a cancel request
// can reach it.
type ProcessTable struct {
	mu      sync.Mutex
	handles map[job.ID]*process.Handle
}

func NewProcessTable() *ProcessTable {
	return &ProcessTable{handles: map[job.ID]*process.Handle{}}
}

func (p *ProcessTable) Register(id job.ID, h *process.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[id] = h
}

func (p *ProcessTable) Remove(id job.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handles, id)
}

func (p *ProcessTable) Get(id job.ID) (*process.Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[id]
	return h, ok
}

// Registry holds one executor per task kind.
type Registry struct {
	executors map[job.Kind]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: map[job.Kind]Executor{}}
	for _, e := range executors {
		r.executors[e.Kind()] = e
	}
	return r
}

func (r *Registry) For(kind job.Kind) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, errors.NewInvalidArgumentError(EntityExecutor, "no executor registered for task kind "+kind.String())
	}
	return e, nil
}
