package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// maxStderrTail bounds how much ffmpeg/ffprobe stderr is kept in errors.
const maxStderrTail = 512

// ExecResult holds the outcome of a single external process invocation.
type ExecResult struct {
	Stdout []byte
	Stderr string
	Err    error
}

// Executor runs an external executable to completion. Implementations must
// honor ctx cancellation; tests substitute a scripted fake.
type Executor interface {
	Exec(ctx context.Context, name string, args ...string) ExecResult
}

// CommandExecutor spawns real processes with os/exec.
type CommandExecutor struct{}

// Exec implements Executor. A context deadline is reported as ErrExecTimeout;
// any other failure carries the tail of stderr.
func (CommandExecutor) Exec(ctx context.Context, name string, args ...string) ExecResult {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.String()}
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("%s: %w", name, ErrExecTimeout)
	default:
		res.Err = fmt.Errorf("%s: %w: %s", name, err, stderrTail(res.Stderr))
	}
	return res
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrTail {
		s = "..." + s[len(s)-maxStderrTail:]
	}
	return s
}
