package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/internal/telemetry"
)

// Stats is a point-in-time view of slot occupancy.
type Stats struct {
	RunningBackups    int `json:"running_backups"`
	MaxBackups        int `json:"max_backups"`
	QueuedBackups     int `json:"queued_backups"`
	RunningOperations int `json:"running_operations"`
	MaxOperations     int `json:"max_operations"`
	QueuedOperations  int `json:"queued_operations"`
}

type ticket struct {
	grant chan struct{}
}

// pool is one bounded slot class with a FIFO wait line.
type pool struct {
	max     int
	running int
	waiting *list.List
}

func newPool(max int) *pool {
	return &pool{max: max, waiting: list.New()}
}

// Controller gates job admission. Backup slots bound whole jobs that
// contain a backup task; operation slots bound individual
// repository-touching tasks. Waiters are granted strictly in arrival
// order by a polling loop.
type Controller struct {
	l log.Logger

	mu         sync.Mutex
	backups    *pool
	operations *pool

	pollInterval time.Duration

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewController(maxBackups, maxOperations int, pollInterval time.Duration, logger log.Logger) *Controller {
	if maxBackups <= 0 {
		maxBackups = 1
	}
	if maxOperations <= 0 {
		maxOperations = 1
	}
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Controller{
		l:            logger,
		backups:      newPool(maxBackups),
		operations:   newPool(maxOperations),
		pollInterval: pollInterval,
		closeChan:    make(chan struct{}),
	}
}

// Run grants queued tickets at the poll interval until the context is
// done or Close is called.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.dispatch()
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		}
	}
}

func (c *Controller) dispatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchPool(c.backups)
	c.dispatchPool(c.operations)
}

func (c *Controller) dispatchPool(p *pool) {
	for p.running < p.max && p.waiting.Len() > 0 {
		front := p.waiting.Front()
		p.waiting.Remove(front)
		p.running++
		close(front.Value.(*ticket).grant)
	}
}

// AcquireBackup blocks until a backup slot is granted or ctx is done.
func (c *Controller) AcquireBackup(ctx context.Context) error {
	return c.acquire(ctx, c.backups, "backup")
}

// AcquireOperation blocks until an operation slot is granted or ctx is
// done.
func (c *Controller) AcquireOperation(ctx context.Context) error {
	return c.acquire(ctx, c.operations, "operation")
}

func (c *Controller) acquire(ctx context.Context, p *pool, class string) error {
	c.mu.Lock()
	if p.running < p.max && p.waiting.Len() == 0 {
		p.running++
		c.mu.Unlock()
		return nil
	}
	tk := &ticket{grant: make(chan struct{})}
	elem := p.waiting.PushBack(tk)
	c.mu.Unlock()

	telemetry.NewCounter("queue_waits_total", map[string]string{"class": class}).Inc()

	select {
	case <-tk.grant:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		defer c.mu.Unlock()
		select {
		case <-tk.grant:
			// granted while we were cancelling, give the slot back
			c.releasePool(p)
			return ctx.Err()
		default:
		}
		p.waiting.Remove(elem)
		return ctx.Err()
	}
}

func (c *Controller) ReleaseBackup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releasePool(c.backups)
}

func (c *Controller) ReleaseOperation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releasePool(c.operations)
}

// releasePool is called with c.mu held.
func (c *Controller) releasePool(p *pool) {
	if p.running > 0 {
		p.running--
	}
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		RunningBackups:    c.backups.running,
		MaxBackups:        c.backups.max,
		QueuedBackups:     c.backups.waiting.Len(),
		RunningOperations: c.operations.running,
		MaxOperations:     c.operations.max,
		QueuedOperations:  c.operations.waiting.Len(),
	}
}

func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
	return nil
}
