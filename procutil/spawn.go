// Package procutil provides process-spawn and PID-file collaborators for
// childmon: capturing a subprocess's stdio and recording/reading PID files
// the way a monitored daemon would.
package procutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// SpawnedProcess wraps an exec.Cmd whose stdout/stderr are captured,
// suitable for handing its pid to childmon.Monitor.
type SpawnedProcess struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// SpawnOption configures a spawn at construction time.
type SpawnOption func(*exec.Cmd)

// WithArgs appends extra arguments beyond those passed to Spawn directly.
func WithArgs(args ...string) SpawnOption {
	return func(cmd *exec.Cmd) { cmd.Args = append(cmd.Args, args...) }
}

// WithDir sets the subprocess's working directory.
func WithDir(dir string) SpawnOption {
	return func(cmd *exec.Cmd) { cmd.Dir = dir }
}

// WithEnv sets the subprocess's environment, replacing the inherited one.
func WithEnv(env []string) SpawnOption {
	return func(cmd *exec.Cmd) { cmd.Env = env }
}

// Spawn starts name with args, capturing stdout and stderr into in-memory
// buffers available via Stdout()/Stderr() once the process exits.
func Spawn(name string, args []string, opts ...SpawnOption) (*SpawnedProcess, error) {
	cmd := exec.Command(name, args...)
	sp := &SpawnedProcess{cmd: cmd, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	cmd.Stdout = sp.stdout
	cmd.Stderr = sp.stderr

	for _, o := range opts {
		o(cmd)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procutil: starting %s: %w", name, err)
	}
	return sp, nil
}

// PID returns the subprocess's process id.
func (sp *SpawnedProcess) PID() int { return sp.cmd.Process.Pid }

// Stdout returns everything captured on stdout so far. Always returns the
// buffer, even if the caller never asked for a length-out parameter —
// unlike the historical popen-based helper this replaces, which silently
// freed its buffer when the caller omitted a length pointer.
func (sp *SpawnedProcess) Stdout() []byte { return sp.stdout.Bytes() }

// Stderr returns everything captured on stderr so far.
func (sp *SpawnedProcess) Stderr() []byte { return sp.stderr.Bytes() }

// Wait blocks until the subprocess exits. Prefer registering the pid with a
// childmon.Monitor instead of calling Wait directly when running inside a
// scheduler loop, since Wait blocks the calling goroutine.
func (sp *SpawnedProcess) Wait() error { return sp.cmd.Wait() }

// Kill sends SIGKILL to the subprocess.
func (sp *SpawnedProcess) Kill() error { return sp.cmd.Process.Kill() }

// RunCaptured runs name to completion (bounded by ctx) and returns its
// captured stdout/stderr and exit error, if any.
func RunCaptured(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}
