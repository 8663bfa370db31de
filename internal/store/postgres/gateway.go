package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/telemetry"
)

// JobStore is the synchronous persistence surface the gateway drains
// into.
type JobStore interface {
	Save(ctx context.Context, spec *job.Job) error
	UpdateStatus(ctx context.Context, id job.ID, status job.Status, errMsg string, finishedAt *time.Time) error
	SaveTask(ctx context.Context, spec *job.Task) error
}

type writeOp func(ctx context.Context) error

// Gateway decouples job execution from database latency. Writes are
// queued and applied by a single worker; a failed write is logged and
// dropped, never surfaced to the running job.
type Gateway struct {
	l     log.Logger
	store JobStore

	opChan chan writeOp

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeChan chan struct{}

	writeTimeout time.Duration
}

func NewGateway(store JobStore, queueSize int, writeTimeout time.Duration, logger log.Logger) *Gateway {
	if queueSize <= 0 {
		queueSize = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Gateway{
		l:            logger,
		store:        store,
		opChan:       make(chan writeOp, queueSize),
		closeChan:    make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Run drains queued writes until the context is done or Close is called.
func (g *Gateway) Run(ctx context.Context) {
	g.wg.Add(1)
	defer g.wg.Done()

	for {
		select {
		case op := <-g.opChan:
			g.apply(op)
		case <-ctx.Done():
			g.drain()
			return
		case <-g.closeChan:
			g.drain()
			return
		}
	}
}

// drain applies whatever is already queued so terminal snapshots are not
// lost on shutdown.
func (g *Gateway) drain() {
	for {
		select {
		case op := <-g.opChan:
			g.apply(op)
		default:
			return
		}
	}
}

func (g *Gateway) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), g.writeTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		telemetry.NewCounter("store_write_failures_total", nil).Inc()
		g.l.Error("persistence write failed", "error", err)
	}
}

// enqueue never blocks the caller; when the queue is full the write is
// applied inline instead.
func (g *Gateway) enqueue(op writeOp) {
	select {
	case g.opChan <- op:
	default:
		telemetry.NewCounter("store_write_queue_full_total", nil).Inc()
		g.apply(op)
	}
}

// CreateJob snapshots the job and queues its initial record.
func (g *Gateway) CreateJob(j *job.Job) {
	rec := snapshotJob(j)
	g.enqueue(func(ctx context.Context) error {
		return g.store.Save(ctx, rec)
	})
}

// UpdateJobStatus queues a status transition for the job record.
func (g *Gateway) UpdateJobStatus(id job.ID, status job.Status, errMsg string, finishedAt *time.Time) {
	g.enqueue(func(ctx context.Context) error {
		return g.store.UpdateStatus(ctx, id, status, errMsg, finishedAt)
	})
}

// SaveTaskSnapshot queues an upsert of the task's current state.
func (g *Gateway) SaveTaskSnapshot(t *job.Task) {
	rec := snapshotTask(t)
	g.enqueue(func(ctx context.Context) error {
		return g.store.SaveTask(ctx, rec)
	})
}

// Close stops the worker after draining the queue.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.closeChan)
	})
	g.wg.Wait()
	return nil
}

// snapshotJob copies the mutable state so the writer never races the
// executing job.
func snapshotJob(j *job.Job) *job.Job {
	cp := *j
	cp.Tasks = make([]*job.Task, 0, len(j.Tasks))
	for _, t := range j.Tasks {
		cp.Tasks = append(cp.Tasks, snapshotTask(t))
	}
	return &cp
}

func snapshotTask(t *job.Task) *job.Task {
	cp := *t
	cp.Parameters = make(map[string]interface{}, len(t.Parameters))
	for k, v := range t.Parameters {
		cp.Parameters[k] = v
	}
	cp.OutputLines = append([]string(nil), t.OutputLines...)
	if t.ReturnCode != nil {
		rc := *t.ReturnCode
		cp.ReturnCode = &rc
	}
	return &cp
}
