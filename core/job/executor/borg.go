package executor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/odpf/custodian/core/job"
)

// Parameter keys recognised by the borg-backed executors.
const (
	paramSourcePath  = "source_path"
	paramArchiveName = "archive_name"
	paramCompression = "compression"
	paramPatterns    = "patterns"
	paramDryRun      = "dry_run"

	paramKeepWithin   = "keep_within"
	paramKeepSecondly = "keep_secondly"
	paramKeepMinutely = "keep_minutely"
	paramKeepHourly   = "keep_hourly"
	paramKeepDaily    = "keep_daily"
	paramKeepWeekly   = "keep_weekly"
	paramKeepMonthly  = "keep_monthly"
	paramKeepYearly   = "keep_yearly"
	paramShowStats    = "show_stats"
	paramShowList     = "show_list"
	paramSaveSpace    = "save_space"
	paramForcePrune   = "force_prune"

	paramRepositoryOnly = "repository_only"
	paramArchivesOnly   = "archives_only"
	paramVerifyData     = "verify_data"
	paramRepair         = "repair"
	paramMaxDuration    = "max_duration"
	paramArchivePrefix  = "archive_prefix"
	paramArchiveGlob    = "archive_glob"
	paramFirstNArchives = "first_n_archives"
	paramLastNArchives  = "last_n_archives"

	paramPathPrefix = "path_prefix"

	// archive metadata captured from the tool's own output
	paramArchiveFingerprint = "archive_fingerprint"
	paramArchiveTimeStart   = "archive_time_start"
	paramArchiveTimeEnd     = "archive_time_end"
)

// BorgEnv builds the process environment borg needs to open the
// repository without prompting.
func BorgEnv(data *job.RepositoryData) []string {
	env := []string{
		"BORG_PASSPHRASE=" + data.Passphrase,
		"BORG_RELOCATED_REPO_ACCESS_IS_OK=yes",
		"BORG_UNKNOWN_UNENCRYPTED_REPO_ACCESS_IS_OK=yes",
	}
	if data.CacheDir != "" {
		env = append(env, "BORG_CACHE_DIR="+data.CacheDir)
	}
	if data.Keyfile != "" {
		env = append(env, "BORG_KEY_FILE="+data.Keyfile)
	}
	return env
}

// BuildBackupCommand assembles `borg create` for one archive.
func BuildBackupCommand(t *job.Task, repositoryPath string, now time.Time) []string {
	archiveName := t.StringParam(paramArchiveName)
	if archiveName == "" {
		archiveName = "backup-" + now.UTC().Format("20060102-150405")
	}

	command := []string{"borg", "create", "--stats", "--list", "--filter", "AME"}
	if mode := t.StringParam(paramCompression); mode != "" {
		command = append(command, "--compression", mode)
	}
	for _, pattern := range stringSliceParam(t, paramPatterns) {
		command = append(command, "--pattern="+pattern)
	}
	if t.BoolParam(paramDryRun) {
		command = append(command, "--dry-run")
	}
	command = append(command, fmt.Sprintf("%s::%s", repositoryPath, archiveName))
	if source := t.StringParam(paramSourcePath); source != "" {
		command = append(command, source)
	}
	return command
}

// BuildPruneCommand assembles `borg prune` from the retention policy on
// the task. keep_within wins over the bucketed keep counts.
func BuildPruneCommand(t *job.Task, repositoryPath string) []string {
	command := []string{"borg", "prune"}

	if within := t.StringParam(paramKeepWithin); within != "" {
		command = append(command, "--keep-within", within)
	} else {
		buckets := []struct {
			param string
			flag  string
		}{
			{paramKeepSecondly, "--keep-secondly"},
			{paramKeepMinutely, "--keep-minutely"},
			{paramKeepHourly, "--keep-hourly"},
			{paramKeepDaily, "--keep-daily"},
			{paramKeepWeekly, "--keep-weekly"},
			{paramKeepMonthly, "--keep-monthly"},
			{paramKeepYearly, "--keep-yearly"},
		}
		for _, b := range buckets {
			if n := t.IntParam(b.param); n > 0 {
				command = append(command, b.flag, strconv.Itoa(n))
			}
		}
	}

	if boolParamDefault(t, paramShowStats, true) {
		command = append(command, "--stats")
	}
	if t.BoolParam(paramShowList) {
		command = append(command, "--list")
	}
	if t.BoolParam(paramSaveSpace) {
		command = append(command, "--save-space")
	}
	if t.BoolParam(paramForcePrune) {
		command = append(command, "--force")
	}
	if t.BoolParam(paramDryRun) {
		command = append(command, "--dry-run")
	}
	return append(command, repositoryPath)
}

// BuildCompactCommand assembles `borg compact`.
func BuildCompactCommand(repositoryPath string) []string {
	return []string{"borg", "compact", "--progress", repositoryPath}
}

// BuildCheckCommand assembles `borg check` with its verification scope
// and archive selector flags.
func BuildCheckCommand(t *job.Task, repositoryPath string) []string {
	command := []string{"borg", "check"}
	if t.BoolParam(paramRepositoryOnly) {
		command = append(command, "--repository-only")
	}
	if t.BoolParam(paramArchivesOnly) {
		command = append(command, "--archives-only")
	}
	if t.BoolParam(paramVerifyData) {
		command = append(command, "--verify-data")
	}
	if t.BoolParam(paramRepair) {
		command = append(command, "--repair")
	}
	if d := t.IntParam(paramMaxDuration); d > 0 {
		command = append(command, "--max-duration", strconv.Itoa(d))
	}
	if prefix := t.StringParam(paramArchivePrefix); prefix != "" {
		command = append(command, "--prefix", prefix)
	}
	if glob := t.StringParam(paramArchiveGlob); glob != "" {
		command = append(command, "--glob-archives", glob)
	}
	if n := t.IntParam(paramFirstNArchives); n > 0 {
		command = append(command, "--first", strconv.Itoa(n))
	}
	if n := t.IntParam(paramLastNArchives); n > 0 {
		command = append(command, "--last", strconv.Itoa(n))
	}
	return append(command, repositoryPath)
}

func boolParamDefault(t *job.Task, key string, def bool) bool {
	if t.Param(key) == nil {
		return def
	}
	return t.BoolParam(key)
}

func stringSliceParam(t *job.Task, key string) []string {
	switch v := t.Param(key).(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
