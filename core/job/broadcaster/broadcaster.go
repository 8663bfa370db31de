package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/telemetry"
)

// Subscriber is one bounded event queue. The channel is owned by the
// broadcaster and closed on Unsubscribe.
type Subscriber struct {
	ch        chan job.Event
	lastEvent time.Time
}

func (s *Subscriber) Events() <-chan job.Event {
	return s.ch
}

// Broadcaster fans job events out to every current subscriber without
// ever blocking the publisher. A full subscriber queue loses its oldest
// event; idle subscribers get a synthetic keepalive.
type Broadcaster struct {
	l log.Logger

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	queueSize         int
	keepaliveInterval time.Duration

	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup
}

func New(queueSize int, keepaliveInterval time.Duration, logger log.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Broadcaster{
		l:                 logger,
		subs:              map[*Subscriber]struct{}{},
		queueSize:         queueSize,
		keepaliveInterval: keepaliveInterval,
		closeChan:         make(chan struct{}),
	}
}

// Run drives the keepalive loop until the context is done or Close is
// called.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.keepaliveInterval <= 0 {
		return
	}
	b.wg.Add(1)
	defer b.wg.Done()

	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			b.sendKeepalives(now)
		case <-ctx.Done():
			return
		case <-b.closeChan:
			return
		}
	}
}

func (b *Broadcaster) sendKeepalives(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if now.Sub(sub.lastEvent) < b.keepaliveInterval {
			continue
		}
		b.offer(sub, job.KeepaliveEvent(), now)
	}
}

func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		ch:        make(chan job.Event, b.queueSize),
		lastEvent: time.Now(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers the event to every current subscriber. It never
// blocks; a subscriber that cannot keep up loses its oldest event.
func (b *Broadcaster) Publish(e job.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for sub := range b.subs {
		b.offer(sub, e, now)
	}
	telemetry.NewCounter("broadcaster_events_published_total", nil).Inc()
}

// offer is called with b.mu held so a closed channel can never race a
// send.
func (b *Broadcaster) offer(sub *Subscriber, e job.Event, now time.Time) {
	select {
	case sub.ch <- e:
		sub.lastEvent = now
		return
	default:
	}

	select {
	case <-sub.ch:
		b.l.Debug("subscriber queue full, dropping oldest event", "job_id", e.JobID)
		telemetry.NewCounter("broadcaster_events_dropped_total", nil).Inc()
	default:
	}
	select {
	case sub.ch <- e:
		sub.lastEvent = now
	default:
		telemetry.NewCounter("broadcaster_events_dropped_total", nil).Inc()
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops the keepalive loop and closes every subscriber channel.
func (b *Broadcaster) Close() error {
	b.closeOnce.Do(func() {
		close(b.closeChan)
	})
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	return nil
}
