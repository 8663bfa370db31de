package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/odpf/custodian/internal/errors"
)

const (
	EntityJob  = "job"
	EntityTask = "task"
)

type ID uuid.UUID

func NewID() ID {
	return ID(uuid.New())
}

func IDFrom(value string) (ID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return ID(uuid.Nil), errors.NewInvalidArgumentError(EntityJob, "invalid value for job id "+value)
	}
	return ID(parsed), nil
}

func (i ID) UUID() uuid.UUID {
	return uuid.UUID(i)
}

func (i ID) String() string {
	return i.UUID().String()
}

func (i ID) IsEmpty() bool {
	return i.UUID() == uuid.Nil
}

// Type is the operation category recorded on the durable job record.
type Type string

const (
	TypeBackup    Type = "backup"
	TypeRestore   Type = "restore"
	TypeList      Type = "list"
	TypeCheck     Type = "check"
	TypePrune     Type = "prune"
	TypeSync      Type = "sync"
	TypeComposite Type = "composite"
)

func (t Type) String() string {
	return string(t)
}

// Mode distinguishes a single-command job from an ordered task list.
type Mode string

const (
	ModeSimple    Mode = "simple"
	ModeComposite Mode = "composite"
)

func (m Mode) String() string {
	return string(m)
}

// RepositoryData is the connection material a task needs to operate on
// the backing repository. It is always resolved at execution time, never
// trusted from parameters recorded at job creation.
type RepositoryData struct {
	Name       string
	Path       string
	Passphrase string
	Keyfile    string
	CacheDir   string
}

type Job struct {
	ID           ID
	RepositoryID int

	Type   Type
	Mode   Mode
	Status Status

	Tasks            []*Task
	CurrentTaskIndex int

	StartedAt  time.Time
	FinishedAt *time.Time

	Error string

	CloudSyncConfigID    int
	PruneConfigID        int
	CheckConfigID        int
	NotificationConfigID int
}

// NewComposite builds a composite job over the given tasks. Task order
// must be positive and unique per job; a zero order on every task is
// taken as "assign sequentially".
func NewComposite(jobType Type, repositoryID int, tasks []*Task) (*Job, error) {
	if len(tasks) == 0 {
		return nil, errors.NewInvalidArgumentError(EntityJob, "composite job needs at least one task")
	}

	allZero := true
	for _, t := range tasks {
		if t.Order != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		for i, t := range tasks {
			t.Order = i + 1
		}
	}

	seen := map[int]bool{}
	for _, t := range tasks {
		if t.Order <= 0 {
			return nil, errors.NewInvalidArgumentError(EntityTask, "task order must be positive")
		}
		if seen[t.Order] {
			return nil, errors.NewInvalidArgumentError(EntityTask, "duplicate task order in job")
		}
		seen[t.Order] = true
	}
	sortTasksByOrder(tasks)

	j := &Job{
		ID:           NewID(),
		RepositoryID: repositoryID,
		Type:         jobType,
		Mode:         ModeComposite,
		Status:       StatusPending,
		Tasks:        tasks,
		StartedAt:    time.Now().UTC(),
	}
	for _, t := range tasks {
		t.JobID = j.ID
	}
	return j, nil
}

func sortTasksByOrder(tasks []*Task) {
	for i := 1; i < len(tasks); i++ {
		for k := i; k > 0 && tasks[k].Order < tasks[k-1].Order; k-- {
			tasks[k], tasks[k-1] = tasks[k-1], tasks[k]
		}
	}
}

func (j *Job) TotalTasks() int {
	return len(j.Tasks)
}

func (j *Job) CompletedTasks() int {
	var n int
	for _, t := range j.Tasks {
		if t.Status == TaskStatusCompleted {
			n++
		}
	}
	return n
}

func (j *Job) CurrentTask() *Task {
	if j.Mode == ModeComposite && j.CurrentTaskIndex >= 0 && j.CurrentTaskIndex < len(j.Tasks) {
		return j.Tasks[j.CurrentTaskIndex]
	}
	return nil
}

func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// HasBackupTask reports whether this job holds an archive-creation task,
// which gates it behind the backup admission ceiling.
func (j *Job) HasBackupTask() bool {
	for _, t := range j.Tasks {
		if t.Kind == KindBackup {
			return true
		}
	}
	return false
}

func (j *Job) Finish(status Status) {
	now := time.Now().UTC()
	j.Status = status
	j.FinishedAt = &now
}
