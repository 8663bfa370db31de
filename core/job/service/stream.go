package service

import (
	"context"

	"github.com/odpf/custodian/core/job"
)

// WholeJob streams every task of the job.
const WholeJob = -1

// Stream replays the job's buffered output and then forwards live events
// until the job reaches a terminal status. An unknown job id or an
// invalid task index yields a single explanatory event instead of an
// error; the channel is always closed when the stream ends.
func (r *Runner) Stream(ctx context.Context, id job.ID, taskIndex int) <-chan job.Event {
	out := make(chan job.Event, 16)

	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		go func() {
			defer close(out)
			out <- job.OutputEvent(id, WholeJob, "No job found with id "+id.String())
		}()
		return out
	}
	if taskIndex != WholeJob && (j.Mode != job.ModeComposite || taskIndex < 0 || taskIndex >= j.TotalTasks()) {
		go func() {
			defer close(out)
			out <- job.OutputEvent(id, WholeJob, "Invalid task index for job "+id.String())
		}()
		return out
	}

	sub := r.events.Subscribe()
	go func() {
		defer close(out)
		defer r.events.Unsubscribe(sub)

		replayed, replayedSeq := r.replayEvents(j, taskIndex)
		for _, e := range replayed {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}

		r.mu.Lock()
		terminal := j.IsTerminal()
		status := j.Status
		r.mu.Unlock()
		if terminal {
			select {
			case out <- job.JobStatusEvent(id, status):
			case <-ctx.Done():
			}
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, open := <-sub.Events():
				if !open {
					return
				}
				if !r.wantEvent(e, id, taskIndex) {
					continue
				}
				// buffered lines already covered by the replay
				if e.Type == job.EventOutputLine && e.Seq != 0 && e.Seq <= replayedSeq {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if e.Type == job.EventJobStatusChanged && isTerminalStatus(e.Status) {
					return
				}
			}
		}
	}()
	return out
}

// replayEvents snapshots what already happened so late subscribers do
// not start mid-stream. It also reports the buffer sequence number the
// replay covers; live events at or below it are duplicates.
func (r *Runner) replayEvents(j *job.Job, taskIndex int) ([]job.Event, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffer, ok := r.output.Get(j.ID)
	if !ok {
		return nil, 0
	}

	if taskIndex != WholeJob {
		// every task line was appended to the job buffer before its
		// event was published, so the buffer sequence bounds the
		// task-scoped replay too
		covered := buffer.LastSeq()
		t := j.Tasks[taskIndex]
		events := make([]job.Event, 0, len(t.OutputLines))
		for _, line := range t.OutputLines {
			events = append(events, job.OutputEvent(j.ID, taskIndex, line))
		}
		return events, covered
	}

	lines, covered := buffer.SnapshotSeq()
	events := make([]job.Event, 0, len(lines))
	for _, line := range lines {
		events = append(events, job.OutputEvent(j.ID, WholeJob, line))
	}
	return events, covered
}

func (r *Runner) wantEvent(e job.Event, id job.ID, taskIndex int) bool {
	if e.Type == job.EventKeepalive {
		return true
	}
	if e.JobID != id {
		return false
	}
	if taskIndex == WholeJob {
		return true
	}
	return e.TaskIndex == taskIndex || e.TaskIndex == WholeJob
}

func isTerminalStatus(status string) bool {
	switch job.Status(status) {
	case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
		return true
	}
	return false
}
