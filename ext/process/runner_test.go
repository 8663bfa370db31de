package process_test

import (
	"context"
	"testing"
	"time"

	"github.com/raystack/salt/log"
	"github.com/stretchr/testify/assert"

	"github.com/odpf/custodian/ext/process"
)

func testRunner() *process.Runner {
	return process.NewRunner(log.NewNoop())
}

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("Start and Monitor", func(t *testing.T) {
		t.Run("streams output lines in order", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sh", "-c", "echo one; echo two; echo three"}, nil, "")
			assert.NoError(t, err)

			var lines []string
			result := r.Monitor(h, func(line string) { lines = append(lines, line) }, nil)

			assert.Equal(t, 0, result.ReturnCode)
			assert.Equal(t, []string{"one", "two", "three"}, lines)
			assert.Contains(t, string(result.Stdout), "two")
		})

		t.Run("merges stderr into the output stream", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sh", "-c", "echo out; echo err 1>&2"}, nil, "")
			assert.NoError(t, err)

			var lines []string
			result := r.Monitor(h, func(line string) { lines = append(lines, line) }, nil)

			assert.Equal(t, 0, result.ReturnCode)
			assert.Len(t, lines, 2)
		})

		t.Run("reports the process exit code", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sh", "-c", "exit 3"}, nil, "")
			assert.NoError(t, err)

			result := r.Monitor(h, nil, nil)

			assert.Equal(t, 3, result.ReturnCode)
			assert.NoError(t, result.Err)
		})

		t.Run("passes extra environment to the process", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sh", "-c", "echo $CUSTODIAN_TEST_VAR"}, []string{"CUSTODIAN_TEST_VAR=hello"}, "")
			assert.NoError(t, err)

			var lines []string
			result := r.Monitor(h, func(line string) { lines = append(lines, line) }, nil)

			assert.Equal(t, 0, result.ReturnCode)
			assert.Equal(t, []string{"hello"}, lines)
		})

		t.Run("fails to start an unknown binary", func(t *testing.T) {
			r := testRunner()
			_, err := r.Start(ctx, []string{"/nonexistent/binary"}, nil, "")
			assert.Error(t, err)
		})

		t.Run("invokes the progress callback on marker lines", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sh", "-c", `echo "plain line"; echo "1024 512 256 42 /data/file.txt"`}, nil, "")
			assert.NoError(t, err)

			var progresses []process.Progress
			result := r.Monitor(h, nil, func(p process.Progress) { progresses = append(progresses, p) })

			assert.Equal(t, 0, result.ReturnCode)
			assert.Len(t, progresses, 1)
			assert.Equal(t, int64(1024), progresses[0].OriginalSize)
			assert.Equal(t, int64(42), progresses[0].NFiles)
			assert.Equal(t, "/data/file.txt", progresses[0].Path)
		})
	})

	t.Run("Terminate", func(t *testing.T) {
		t.Run("terminates a sleeping process gracefully", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"sleep", "30"}, nil, "")
			assert.NoError(t, err)

			done := make(chan process.Result, 1)
			go func() { done <- r.Monitor(h, nil, nil) }()
			time.Sleep(50 * time.Millisecond)

			assert.True(t, r.Terminate(h, 2*time.Second))

			result := <-done
			assert.NotEqual(t, 0, result.ReturnCode)
		})

		t.Run("reports success for an already finished process", func(t *testing.T) {
			r := testRunner()
			h, err := r.Start(ctx, []string{"true"}, nil, "")
			assert.NoError(t, err)
			r.Monitor(h, nil, nil)

			assert.True(t, r.Terminate(h, time.Second))
		})
	})
}

func TestParseProgress(t *testing.T) {
	t.Run("five field marker", func(t *testing.T) {
		p, ok := process.ParseProgress("2048 1024 512 7 /home/user/docs")
		assert.True(t, ok)
		assert.Equal(t, int64(2048), p.OriginalSize)
		assert.Equal(t, int64(1024), p.CompressedSize)
		assert.Equal(t, int64(512), p.DeduplicatedSize)
		assert.Equal(t, int64(7), p.NFiles)
		assert.Equal(t, "/home/user/docs", p.Path)
	})

	t.Run("metadata markers", func(t *testing.T) {
		p, ok := process.ParseProgress("Archive name: backup-20240101")
		assert.True(t, ok)
		assert.Equal(t, "backup-20240101", p.ArchiveName)

		p, ok = process.ParseProgress("Archive fingerprint: abcdef0123")
		assert.True(t, ok)
		assert.Equal(t, "abcdef0123", p.Fingerprint)

		p, ok = process.ParseProgress("Time (start): Mon, 2024-01-01 02:00:01")
		assert.True(t, ok)
		assert.Equal(t, "Mon, 2024-01-01 02:00:01", p.StartTime)

		p, ok = process.ParseProgress("Time (end): Mon, 2024-01-01 02:10:44")
		assert.True(t, ok)
		assert.Equal(t, "Mon, 2024-01-01 02:10:44", p.EndTime)
	})

	t.Run("free form lines do not match", func(t *testing.T) {
		_, ok := process.ParseProgress("Creating archive at /repo::daily")
		assert.False(t, ok)
	})
}

func TestRedactCommand(t *testing.T) {
	t.Run("redacts passphrase flag values", func(t *testing.T) {
		out := process.RedactCommand([]string{"borg", "prune", "--passphrase", "secret", "/repo"})
		assert.NotContains(t, out, "secret")
		assert.Contains(t, out, "[REDACTED]")
	})

	t.Run("redacts archive names", func(t *testing.T) {
		out := process.RedactCommand([]string{"borg", "create", "/repo::daily-2024", "/data"})
		assert.NotContains(t, out, "daily-2024")
		assert.Contains(t, out, "/repo::[ARCHIVE]")
	})

	t.Run("leaves plain arguments alone", func(t *testing.T) {
		out := process.RedactCommand([]string{"borg", "compact", "--progress", "/repo"})
		assert.Equal(t, "borg compact --progress /repo", out)
	})
}
