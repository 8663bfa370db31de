package job

import "time"

type EventType string

const (
	EventJobStatusChanged  EventType = "job_status_changed"
	EventTaskStatusChanged EventType = "task_status_changed"
	EventOutputLine        EventType = "output_line"
	EventProgress          EventType = "progress"
	EventKeepalive         EventType = "keepalive"
)

func (e EventType) String() string {
	return string(e)
}

// TaskProgress is a parsed archive-creation progress marker: sizes so
// far, file count and the file currently being archived.
type TaskProgress struct {
	OriginalSize     int64  `json:"original_size"`
	CompressedSize   int64  `json:"compressed_size"`
	DeduplicatedSize int64  `json:"deduplicated_size"`
	NFiles           int64  `json:"nfiles"`
	Path             string `json:"path"`
}

// Event is the transient record fanned out to live subscribers. It has
// no lifecycle beyond delivery.
type Event struct {
	Type  EventType `json:"type"`
	JobID ID        `json:"job_id"`

	// TaskIndex is the task's position in the ordered list for
	// task-scoped events, -1 for job-scoped ones.
	TaskIndex int `json:"task_index"`

	Status   string        `json:"status,omitempty"`
	Line     string        `json:"line,omitempty"`
	Progress *TaskProgress `json:"progress,omitempty"`

	// Seq is the position of a buffered output line in the job's
	// output history, 0 for events that never hit the buffer.
	Seq  int64     `json:"seq,omitempty"`
	Time time.Time `json:"time"`
}

func JobStatusEvent(id ID, status Status) Event {
	return Event{
		Type:      EventJobStatusChanged,
		JobID:     id,
		TaskIndex: -1,
		Status:    status.String(),
		Time:      time.Now().UTC(),
	}
}

func TaskStatusEvent(id ID, taskIndex int, status TaskStatus) Event {
	return Event{
		Type:      EventTaskStatusChanged,
		JobID:     id,
		TaskIndex: taskIndex,
		Status:    status.String(),
		Time:      time.Now().UTC(),
	}
}

func OutputEvent(id ID, taskIndex int, line string) Event {
	return Event{
		Type:      EventOutputLine,
		JobID:     id,
		TaskIndex: taskIndex,
		Line:      line,
		Time:      time.Now().UTC(),
	}
}

func ProgressEvent(id ID, taskIndex int, p TaskProgress) Event {
	return Event{
		Type:      EventProgress,
		JobID:     id,
		TaskIndex: taskIndex,
		Progress:  &p,
		Time:      time.Now().UTC(),
	}
}

func KeepaliveEvent() Event {
	return Event{
		Type:      EventKeepalive,
		TaskIndex: -1,
		Time:      time.Now().UTC(),
	}
}
