package process

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/raystack/salt/log"

	"github.com/odpf/custodian/internal/errors"
)

const EntityProcess = "process"

// progressPattern matches the five-field structured progress marker the
// archive tool prints while creating an archive: original size,
// compressed size, deduplicated size, file count, current path.
var progressPattern = regexp.MustCompile(`^(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(.*)$`)

// Progress is a parsed progress marker or metadata marker line.
type Progress struct {
	OriginalSize     int64
	CompressedSize   int64
	DeduplicatedSize int64
	NFiles           int64
	Path             string

	ArchiveName string
	Fingerprint string
	StartTime   string
	EndTime     string
}

// Result is the outcome of monitoring a process to completion. A
// negative return code marks a spawn or IO failure rather than a real
// exit status.
type Result struct {
	ReturnCode int
	Stdout     []byte
	Err        error
}

// Handle supervises one spawned external command. Wait is safe to call
// from multiple goroutines; the first caller collects the exit status.
type Handle struct {
	cmd *exec.Cmd
	out io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

func (h *Handle) wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
		close(h.done)
	})
	<-h.done
	return h.waitErr
}

// Alive reports whether the process has not been confirmed dead yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type Runner struct {
	l log.Logger
}

func NewRunner(logger log.Logger) *Runner {
	return &Runner{l: logger}
}

// Start spawns the command with merged stdout/stderr. env entries are
// appended to the inherited environment when present.
func (r *Runner) Start(ctx context.Context, command []string, env []string, cwd string) (*Handle, error) {
	if len(command) == 0 {
		return nil, errors.NewInvalidArgumentError(EntityProcess, "empty command")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...) //nolint:gosec
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if cwd != "" {
		cmd.Dir = cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewInternalError(EntityProcess, "unable to pipe process output", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.NewInternalError(EntityProcess, "unable to start "+command[0], err)
	}
	r.l.Info("process started", "command", RedactCommand(command), "pid", cmd.Process.Pid)

	return &Handle{
		cmd:  cmd,
		out:  stdout,
		done: make(chan struct{}),
	}, nil
}

// Monitor consumes the process output line by line until exit. Every
// line goes to onLine; lines matching a progress or metadata marker
// additionally go to onProgress. Both callbacks may be nil.
func (r *Runner) Monitor(h *Handle, onLine func(string), onProgress func(Progress)) Result {
	var buffered bytes.Buffer

	scanner := bufio.NewScanner(h.out)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buffered.WriteString(line)
		buffered.WriteByte('\n')

		if onLine != nil {
			onLine(line)
		}
		if onProgress != nil {
			if progress, ok := ParseProgress(line); ok {
				onProgress(progress)
			}
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		r.l.Error("process output monitoring failed", "error", scanErr)
		h.wait()
		return Result{ReturnCode: -1, Stdout: buffered.Bytes(), Err: scanErr}
	}

	waitErr := h.wait()
	return Result{ReturnCode: exitCode(waitErr), Stdout: buffered.Bytes(), Err: monitorErr(waitErr)}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func monitorErr(waitErr error) error {
	var exitErr *exec.ExitError
	if waitErr == nil || stderrors.As(waitErr, &exitErr) {
		// a non-zero exit is an outcome, not a monitoring failure
		return nil
	}
	return waitErr
}

// Terminate sends a graceful termination signal, waits up to timeout
// and force kills if the process is still alive. It returns true once
// the process is confirmed dead.
func (r *Runner) Terminate(h *Handle, timeout time.Duration) bool {
	if !h.Alive() {
		r.l.Info("process already terminated")
		return true
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// signalling a process that just exited fails; confirm via wait
		h.wait()
		return true
	}

	waited := make(chan struct{})
	go func() {
		h.wait()
		close(waited)
	}()

	select {
	case <-waited:
		r.l.Info("process terminated gracefully")
		return true
	case <-time.After(timeout):
		r.l.Warn("process did not terminate gracefully, force killing")
		_ = h.cmd.Process.Kill()
		<-waited
		r.l.Info("process force killed")
		return true
	}
}

// ParseProgress recognizes the structured progress marker and the named
// metadata markers in a single output line.
func ParseProgress(line string) (Progress, bool) {
	if match := progressPattern.FindStringSubmatch(line); match != nil {
		original, _ := strconv.ParseInt(match[1], 10, 64)
		compressed, _ := strconv.ParseInt(match[2], 10, 64)
		deduplicated, _ := strconv.ParseInt(match[3], 10, 64)
		nfiles, _ := strconv.ParseInt(match[4], 10, 64)
		return Progress{
			OriginalSize:     original,
			CompressedSize:   compressed,
			DeduplicatedSize: deduplicated,
			NFiles:           nfiles,
			Path:             strings.TrimSpace(match[5]),
		}, true
	}

	switch {
	case strings.Contains(line, "Archive name:"):
		return Progress{ArchiveName: valueAfter(line, "Archive name:")}, true
	case strings.Contains(line, "Archive fingerprint:"):
		return Progress{Fingerprint: valueAfter(line, "Archive fingerprint:")}, true
	case strings.Contains(line, "Time (start):"):
		return Progress{StartTime: valueAfter(line, "Time (start):")}, true
	case strings.Contains(line, "Time (end):"):
		return Progress{EndTime: valueAfter(line, "Time (end):")}, true
	}
	return Progress{}, false
}

func valueAfter(line, marker string) string {
	idx := strings.Index(line, marker)
	return strings.TrimSpace(line[idx+len(marker):])
}

// RedactCommand formats a command vector for logs with passphrase
// values and archive names hidden.
func RedactCommand(command []string) string {
	safe := make([]string, 0, len(command))
	skipNext := false
	for _, arg := range command {
		switch {
		case skipNext:
			safe = append(safe, "[REDACTED]")
			skipNext = false
		case arg == "--passphrase" || arg == "--encryption-passphrase" || arg == "-p":
			safe = append(safe, arg)
			skipNext = true
		case strings.Count(arg, "::") == 1:
			parts := strings.SplitN(arg, "::", 2)
			safe = append(safe, parts[0]+"::[ARCHIVE]")
		default:
			safe = append(safe, arg)
		}
	}
	return strings.Join(safe, " ")
}
