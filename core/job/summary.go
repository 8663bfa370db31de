package job

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Summary is the human-readable report of a finished job, handed to
// notification providers.
type Summary struct {
	Title    string
	Body     string
	Severity Severity
	Priority Priority
}

const unknownRepositoryName = "Unknown"

// RepositoryName returns the repository name recorded on any task
// parameter, or the fixed placeholder when none is present.
func (j *Job) RepositoryName() string {
	for _, t := range j.Tasks {
		if name := t.StringParam(ParamRepositoryName); name != "" {
			return name
		}
	}
	return unknownRepositoryName
}

// Summarize classifies a finished job into exactly one of four
// outcomes. Precedence: critical hook failure, then backup failure,
// then any non-critical failure, then full success.
func Summarize(j *Job, repositoryName string) Summary {
	if repositoryName == "" {
		repositoryName = unknownRepositoryName
	}

	var failed, completed, skipped []*Task
	for _, t := range j.Tasks {
		switch t.Status {
		case TaskStatusFailed:
			failed = append(failed, t)
		case TaskStatusCompleted:
			completed = append(completed, t)
		case TaskStatusSkipped:
			skipped = append(skipped, t)
		}
	}

	countsLine := fmt.Sprintf("Tasks Completed: %d, Skipped: %d, Total: %d",
		len(completed), len(skipped), len(j.Tasks))

	var criticalHook *Task
	var backupFailed bool
	for _, t := range failed {
		if t.Kind == KindHook && t.BoolParam(ParamCriticalFailure) && criticalHook == nil {
			criticalHook = t
		}
		if t.Kind == KindBackup {
			backupFailed = true
		}
	}

	switch {
	case criticalHook != nil:
		hookName := criticalHook.StringParam(ParamFailedCriticalHookName)
		if hookName == "" {
			hookName = "unknown"
		}
		return Summary{
			Title: "Backup Job Failed - Critical Hook Error",
			Body: fmt.Sprintf("Backup job for '%s' failed due to critical hook failure.\n\n"+
				"Failed Hook: %s\n%s\nJob ID: %s",
				repositoryName, hookName, countsLine, j.ID),
			Severity: SeverityError,
			Priority: PriorityHigh,
		}

	case backupFailed:
		return Summary{
			Title: "Backup Job Failed - Backup Error",
			Body: fmt.Sprintf("Backup job for '%s' failed during backup process.\n\n"+
				"%s\nJob ID: %s",
				repositoryName, countsLine, j.ID),
			Severity: SeverityError,
			Priority: PriorityHigh,
		}

	case len(failed) > 0:
		kinds := make([]string, 0, len(failed))
		for _, t := range failed {
			kinds = append(kinds, t.Kind.String())
		}
		return Summary{
			Title: "Backup Job Completed with Warnings",
			Body: fmt.Sprintf("Backup job for '%s' completed but some tasks failed.\n\n"+
				"Failed Tasks: %s\n%s\nJob ID: %s",
				repositoryName, strings.Join(kinds, ", "), countsLine, j.ID),
			Severity: SeverityWarning,
			Priority: PriorityNormal,
		}

	default:
		skippedSegment := ""
		if len(skipped) > 0 {
			skippedSegment = fmt.Sprintf(", Skipped: %d", len(skipped))
		}
		return Summary{
			Title: "Backup Job Completed Successfully",
			Body: fmt.Sprintf("Backup job for '%s' completed successfully.\n\n"+
				"Tasks Completed: %d%s, Total: %d\nJob ID: %s",
				repositoryName, len(completed), skippedSegment, len(j.Tasks), j.ID),
			Severity: SeveritySuccess,
			Priority: PriorityNormal,
		}
	}
}
