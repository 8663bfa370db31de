package job

import (
	"time"

	"github.com/odpf/custodian/internal/errors"
)

// Kind is the closed set of task kinds a composite job may carry.
type Kind string

const (
	KindHook         Kind = "hook"
	KindBackup       Kind = "backup"
	KindPrune        Kind = "prune"
	KindCompact      Kind = "compact"
	KindCheck        Kind = "check"
	KindCloudSync    Kind = "cloud_sync"
	KindNotification Kind = "notification"
)

func (k Kind) String() string {
	return string(k)
}

// RepositoryBound reports whether tasks of this kind operate on the
// backing repository and are throttled by the operation ceiling.
func (k Kind) RepositoryBound() bool {
	switch k {
	case KindBackup, KindPrune, KindCompact, KindCheck, KindCloudSync:
		return true
	}
	return false
}

func KindFrom(value string) (Kind, error) {
	switch Kind(value) {
	case KindHook, KindBackup, KindPrune, KindCompact, KindCheck, KindCloudSync, KindNotification:
		return Kind(value), nil
	}
	return "", errors.NewInvalidArgumentError(EntityTask, "unknown task kind "+value)
}

// Well known parameter keys shared between the orchestrator and the
// task executors.
const (
	ParamCriticalFailure        = "critical_failure"
	ParamFailedCriticalHookName = "failed_critical_hook_name"
	ParamHookType               = "hook_type"
	ParamHooks                  = "hooks"
	ParamRepositoryName         = "repository_name"
)

// Hook is one command inside a hook task.
type Hook struct {
	Name            string
	Command         string
	Critical        bool
	RunOnJobFailure bool
}

type Task struct {
	JobID ID

	Kind   Kind
	Name   string
	Status TaskStatus
	Order  int

	Parameters  map[string]interface{}
	OutputLines []string

	ReturnCode  *int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func NewTask(kind Kind, name string, order int, parameters map[string]interface{}) *Task {
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return &Task{
		Kind:       kind,
		Name:       name,
		Status:     TaskStatusPending,
		Order:      order,
		Parameters: parameters,
	}
}

func (t *Task) Param(key string) interface{} {
	if t.Parameters == nil {
		return nil
	}
	return t.Parameters[key]
}

func (t *Task) StringParam(key string) string {
	if v, ok := t.Param(key).(string); ok {
		return v
	}
	return ""
}

func (t *Task) BoolParam(key string) bool {
	if v, ok := t.Param(key).(bool); ok {
		return v
	}
	return false
}

func (t *Task) IntParam(key string) int {
	switch v := t.Param(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (t *Task) HooksParam() []Hook {
	if v, ok := t.Param(ParamHooks).([]Hook); ok {
		return v
	}
	return nil
}

func (t *Task) SetParam(key string, value interface{}) {
	if t.Parameters == nil {
		t.Parameters = map[string]interface{}{}
	}
	t.Parameters[key] = value
}

func (t *Task) AppendOutput(line string) {
	t.OutputLines = append(t.OutputLines, line)
}

func (t *Task) MarkRunning() {
	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
}

func (t *Task) MarkCompleted(returnCode int) {
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.ReturnCode = &returnCode
	t.CompletedAt = &now
}

func (t *Task) MarkFailed(returnCode int, errMsg string) {
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.ReturnCode = &returnCode
	t.Error = errMsg
	t.CompletedAt = &now
}

// MarkSkipped is valid only from pending; it records the explanatory
// cause as an output line so observers can tell why the task never ran.
func (t *Task) MarkSkipped(cause string) {
	if t.Status != TaskStatusPending {
		return
	}
	now := time.Now().UTC()
	t.Status = TaskStatusSkipped
	t.CompletedAt = &now
	t.AppendOutput(cause)
}

// CriticalFailure reports whether a failure of this task must abort the
// remaining tasks of the job: backup failures always, hook failures only
// when the executor flagged the failed hook critical.
func (t *Task) CriticalFailure() bool {
	if t.Status != TaskStatusFailed {
		return false
	}
	if t.Kind == KindBackup {
		return true
	}
	return t.Kind == KindHook && t.BoolParam(ParamCriticalFailure)
}
